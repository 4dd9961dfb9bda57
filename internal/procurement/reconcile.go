package procurement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// OnStockInCommitted applies a stock-in receipt to its purchase transaction.
// It must run on the same TxRepository as the ledger write so both commit or
// roll back together.
func (s *Service) OnStockInCommitted(ctx context.Context, tx TxRepository, receipt Receipt) (ReconcileOutcome, error) {
	if receipt.Quantity <= 0 {
		return ReconcileOutcome{}, shared.InvalidField("quantity", "must be a positive integer")
	}
	purchase, err := tx.GetPurchaseForUpdate(ctx, receipt.PurchaseID)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	if purchase.Status == StatusCancelled {
		return ReconcileOutcome{}, shared.InvalidField("purchase_transaction_id", "purchase transaction is cancelled")
	}
	if purchase.ProductID != receipt.ProductID {
		return ReconcileOutcome{}, shared.InvalidField("product_id", "does not match the purchase transaction")
	}

	warning := applyReceipt(&purchase, receipt.Quantity)
	purchase.UpdatedAt = s.now()
	if err := tx.UpdatePurchaseProgress(ctx, purchase); err != nil {
		return ReconcileOutcome{}, fmt.Errorf("procurement: save receipt: %w", err)
	}
	s.logger.Debug("purchase receipt applied",
		slog.Int64("purchase_id", purchase.ID),
		slog.Int64("movement_id", receipt.MovementID),
		slog.String("status", string(purchase.Status)),
	)
	return ReconcileOutcome{Purchase: purchase, Warning: warning}, nil
}

// OnStockInReversed undoes a receipt when its stock-in movement is reversed.
// Status is re-derived from the received amount; cancelled stays cancelled.
func (s *Service) OnStockInReversed(ctx context.Context, tx TxRepository, receipt Receipt) (ReconcileOutcome, error) {
	purchase, err := tx.GetPurchaseForUpdate(ctx, receipt.PurchaseID)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	purchase.ReceivedQuantity = max(0, purchase.ReceivedQuantity-receipt.Quantity)
	if purchase.Status != StatusCancelled {
		purchase.Status = purchase.derivedStatus()
	}
	purchase.UpdatedAt = s.now()
	if err := tx.UpdatePurchaseProgress(ctx, purchase); err != nil {
		return ReconcileOutcome{}, fmt.Errorf("procurement: save reversal: %w", err)
	}
	return ReconcileOutcome{Purchase: purchase}, nil
}

// applyReceipt increments received quantity and advances status forward only.
// Over-receipt is accepted and reported through the returned warning.
func applyReceipt(p *PurchaseTransaction, qty int64) string {
	p.ReceivedQuantity += qty
	if next := p.derivedStatus(); next.rank() > p.Status.rank() {
		p.Status = next
	}
	if p.ReceivedQuantity > p.OrderedQuantity {
		return fmt.Sprintf("received %d exceeds ordered quantity %d", p.ReceivedQuantity, p.OrderedQuantity)
	}
	return ""
}

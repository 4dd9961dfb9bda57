package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id int64) (PurchaseTransaction, error)
	ListPurchases(ctx context.Context, filters ListFilters) ([]PurchaseTransaction, int, error)
	FindPurchaseByInvoice(ctx context.Context, invoice string) (PurchaseTransaction, error)
	FindProductByCode(ctx context.Context, code string) (ProductRef, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LookupTimeout time.Duration
}

// Service owns purchase transactions and their reconciliation with stock-in
// movements.
type Service struct {
	repo          RepositoryPort
	audit         AuditPort
	logger        *slog.Logger
	lookups       singleflight.Group
	lookupTimeout time.Duration
	now           func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{
		repo:          repo,
		audit:         audit,
		logger:        logger,
		lookupTimeout: timeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreatePurchase records a new pending purchase transaction.
func (s *Service) CreatePurchase(ctx context.Context, input CreatePurchaseInput) (PurchaseTransaction, error) {
	input.InvoiceNumber = strings.TrimSpace(input.InvoiceNumber)
	switch {
	case input.SupplierID <= 0:
		return PurchaseTransaction{}, shared.InvalidField("supplier_id", "is required")
	case input.ProductID <= 0:
		return PurchaseTransaction{}, shared.InvalidField("product_id", "is required")
	case input.InvoiceNumber == "":
		return PurchaseTransaction{}, shared.InvalidField("invoice_number", "is required")
	case input.OrderedQuantity <= 0:
		return PurchaseTransaction{}, shared.InvalidField("ordered_quantity", "must be a positive integer")
	case input.PricePerUnit.IsNegative():
		return PurchaseTransaction{}, shared.InvalidField("price_per_unit", "must be zero or greater")
	}
	now := s.now()
	date := input.TransactionDate
	if date.IsZero() {
		date = now
	}
	purchase := PurchaseTransaction{
		SupplierID:      input.SupplierID,
		ProductID:       input.ProductID,
		InvoiceNumber:   normalizeCode(input.InvoiceNumber),
		OrderedQuantity: input.OrderedQuantity,
		PricePerUnit:    input.PricePerUnit,
		TotalPrice:      totalPrice(input.PricePerUnit, input.OrderedQuantity),
		Status:          StatusPending,
		TransactionDate: date,
		CreatedBy:       input.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertPurchase(ctx, purchase)
		if err != nil {
			return err
		}
		purchase.ID = id
		return nil
	})
	if err != nil {
		return PurchaseTransaction{}, err
	}
	s.recordAudit(ctx, input.ActorID, "procurement:create", purchase.ID, map[string]any{
		"invoice_number":   purchase.InvoiceNumber,
		"ordered_quantity": purchase.OrderedQuantity,
		"total_price":      purchase.TotalPrice.String(),
	})
	return purchase, nil
}

// CancelPurchase moves a pending or partially received purchase to cancelled.
func (s *Service) CancelPurchase(ctx context.Context, id, actorID int64) (PurchaseTransaction, error) {
	var purchase PurchaseTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		purchase, err = tx.GetPurchaseForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !purchase.Status.Cancellable() {
			return fmt.Errorf("procurement: cannot cancel %s purchase: %w", purchase.Status, shared.ErrInvalidState)
		}
		purchase.Status = StatusCancelled
		purchase.UpdatedAt = s.now()
		return tx.UpdatePurchaseProgress(ctx, purchase)
	})
	if err != nil {
		return PurchaseTransaction{}, err
	}
	s.recordAudit(ctx, actorID, "procurement:cancel", id, map[string]any{"received": purchase.ReceivedQuantity})
	return purchase, nil
}

// GetPurchase loads a purchase transaction.
func (s *Service) GetPurchase(ctx context.Context, id int64) (PurchaseTransaction, error) {
	if id <= 0 {
		return PurchaseTransaction{}, shared.InvalidField("id", "is required")
	}
	return s.repo.GetPurchase(ctx, id)
}

// ListPurchases returns a page of purchase transactions.
func (s *Service) ListPurchases(ctx context.Context, filters ListFilters) ([]PurchaseTransaction, shared.Pagination, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, shared.Pagination{}, shared.InvalidField("status", "unknown status")
	}
	filters.PerPage = shared.NewPagination(filters.Page, filters.PerPage, 0).PerPage
	items, total, err := s.repo.ListPurchases(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_transaction",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

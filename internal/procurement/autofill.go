package procurement

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const (
	sourcePurchase = "purchase_transaction"
	sourceOther    = "other"
)

var upper = cases.Upper(language.Und)

// normalizeCode folds full-width scanner output and case so that the same
// physical label always resolves to the same key.
func normalizeCode(code string) string {
	code = width.Fold.String(strings.TrimSpace(code))
	return upper.String(code)
}

type lookupResult struct {
	purchase *PurchaseTransaction
	product  *ProductRef
}

// AutofillFromCode resolves a scanned code to a stock-in suggestion. It is
// read-only; an unknown code yields a Suggestion with Miss set and a nil error.
// Concurrent lookups of the same code share one repository round trip.
func (s *Service) AutofillFromCode(ctx context.Context, req AutofillRequest) (Suggestion, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return Suggestion{}, shared.InvalidField("code", "is required")
	}

	ch := s.lookups.DoChan(code, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lookupTimeout)
		defer cancel()
		return s.resolve(lookupCtx, code)
	})

	var res lookupResult
	select {
	case <-ctx.Done():
		return Suggestion{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Suggestion{}, out.Err
		}
		res = out.Val.(lookupResult)
	}

	today := s.now().Format(time.DateOnly)
	switch {
	case res.purchase != nil:
		return purchaseSuggestion(req.Seq, *res.purchase, today), nil
	case res.product != nil:
		return Suggestion{
			Seq:          req.Seq,
			ProductID:    res.product.ID,
			SupplierName: res.product.SupplierName,
			Quantity:     1,
			StockInDate:  today,
			Source:       sourceOther,
		}, nil
	default:
		return Suggestion{Seq: req.Seq, Miss: true, Hint: "no product or purchase transaction matches this code"}, nil
	}
}

func (s *Service) resolve(ctx context.Context, code string) (lookupResult, error) {
	purchase, err := s.repo.FindPurchaseByInvoice(ctx, code)
	switch {
	case err == nil:
		return lookupResult{purchase: &purchase}, nil
	case !errors.Is(err, shared.ErrNotFound):
		s.logger.Error("autofill purchase lookup", slog.String("code", code), slog.Any("error", err))
		return lookupResult{}, err
	}
	product, err := s.repo.FindProductByCode(ctx, code)
	switch {
	case err == nil:
		return lookupResult{product: &product}, nil
	case errors.Is(err, shared.ErrNotFound):
		return lookupResult{}, nil
	default:
		s.logger.Error("autofill product lookup", slog.String("code", code), slog.Any("error", err))
		return lookupResult{}, err
	}
}

func purchaseSuggestion(seq uint64, p PurchaseTransaction, today string) Suggestion {
	remaining := p.RemainingQuantity()
	id := p.ID
	sug := Suggestion{
		Seq:                   seq,
		ProductID:             p.ProductID,
		SupplierName:          p.SupplierName,
		Quantity:              remaining,
		StockInDate:           today,
		Source:                sourcePurchase,
		PurchaseTransactionID: &id,
		PurchaseInfo: &PurchaseInfo{
			InvoiceNumber:     p.InvoiceNumber,
			OrderedQuantity:   p.OrderedQuantity,
			ReceivedQuantity:  p.ReceivedQuantity,
			RemainingQuantity: remaining,
		},
	}
	if remaining <= 0 {
		sug.Warning = "purchase transaction is already fully received"
	}
	return sug
}

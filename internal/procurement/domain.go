package procurement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Status tracks a purchase transaction through receipt. Receipts only move
// it forward along pending, partially_received and completed. Reversing a
// stock-in is the one exception: the status is re-derived from the received
// quantity left after the reversal, so a completed purchase can fall back to
// partially_received or pending. A cancelled purchase keeps its status.
type Status string

const (
	StatusPending           Status = "pending"
	StatusPartiallyReceived Status = "partially_received"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// rank orders the receipt lifecycle; cancelled sits outside it.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPartiallyReceived:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusCancelled || s.rank() >= 0
}

// Cancellable reports whether the out-of-band cancel transition is allowed.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusPartiallyReceived
}

// PurchaseTransaction is a supplier order reconciled against stock-in movements.
type PurchaseTransaction struct {
	ID               int64           `json:"id"`
	SupplierID       int64           `json:"supplier_id"`
	SupplierName     string          `json:"supplier_name"`
	ProductID        int64           `json:"product_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	OrderedQuantity  int64           `json:"ordered_quantity"`
	ReceivedQuantity int64           `json:"received_quantity"`
	PricePerUnit     decimal.Decimal `json:"price_per_unit"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Status           Status          `json:"status"`
	TransactionDate  time.Time       `json:"transaction_date"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RemainingQuantity floors at zero regardless of over-receipt.
func (p PurchaseTransaction) RemainingQuantity() int64 {
	return max(0, p.OrderedQuantity-p.ReceivedQuantity)
}

// MarshalJSON adds the derived remaining quantity.
func (p PurchaseTransaction) MarshalJSON() ([]byte, error) {
	type alias PurchaseTransaction
	return json.Marshal(struct {
		alias
		RemainingQuantity int64 `json:"remaining_quantity"`
	}{alias(p), p.RemainingQuantity()})
}

// derivedStatus maps received quantity onto the receipt lifecycle.
func (p PurchaseTransaction) derivedStatus() Status {
	switch {
	case p.ReceivedQuantity >= p.OrderedQuantity:
		return StatusCompleted
	case p.ReceivedQuantity > 0:
		return StatusPartiallyReceived
	default:
		return StatusPending
	}
}

func totalPrice(pricePerUnit decimal.Decimal, qty int64) decimal.Decimal {
	return pricePerUnit.Mul(decimal.NewFromInt(qty))
}

// Receipt is the reconciliation view of a committed stock-in movement.
type Receipt struct {
	PurchaseID int64
	ProductID  int64
	MovementID int64
	Quantity   int64
}

// ReconcileOutcome reports the purchase state after a receipt was applied.
type ReconcileOutcome struct {
	Purchase PurchaseTransaction `json:"purchase"`
	Warning  string              `json:"warning,omitempty"`
}

// PurchaseInfo summarises a resolved purchase for the scan-to-fill form.
type PurchaseInfo struct {
	InvoiceNumber     string `json:"invoice_number"`
	OrderedQuantity   int64  `json:"ordered_quantity"`
	ReceivedQuantity  int64  `json:"received_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
}

// Suggestion pre-fills a stock-in form from a scanned code. Miss is set when
// the code resolved to nothing.
type Suggestion struct {
	Seq                   uint64        `json:"seq"`
	Miss                  bool          `json:"miss,omitempty"`
	Hint                  string        `json:"hint,omitempty"`
	ProductID             int64         `json:"product_id,omitempty"`
	SupplierName          string        `json:"supplier_name,omitempty"`
	Quantity              int64         `json:"quantity,omitempty"`
	StockInDate           string        `json:"stockin_date,omitempty"`
	Source                string        `json:"source,omitempty"`
	PurchaseTransactionID *int64        `json:"purchase_transaction_id,omitempty"`
	PurchaseInfo          *PurchaseInfo `json:"purchase_info,omitempty"`
	Warning               string        `json:"warning,omitempty"`
	Stale                 bool          `json:"stale,omitempty"`
}

// AutofillRequest carries the raw scanned code and the caller's sequence number.
type AutofillRequest struct {
	Seq   uint64
	Field string
	Code  string
}

// ProductRef is the read-only product view needed for code resolution.
type ProductRef struct {
	ID           int64
	Code         string
	SKU          string
	Name         string
	SupplierName string
}

// CreatePurchaseInput describes a new pending purchase transaction.
type CreatePurchaseInput struct {
	SupplierID      int64           `json:"supplier_id" validate:"required,gt=0"`
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	InvoiceNumber   string          `json:"invoice_number" validate:"required,max=64"`
	OrderedQuantity int64           `json:"ordered_quantity" validate:"required,gt=0"`
	PricePerUnit    decimal.Decimal `json:"price_per_unit"`
	TransactionDate time.Time       `json:"transaction_date"`
	ActorID         int64           `json:"-"`
}

// ListFilters narrows purchase listings.
type ListFilters struct {
	Status     Status
	SupplierID int64
	Search     string
	Page       int
	PerPage    int
}

// ErrPurchaseNotFound indicates the purchase transaction does not exist.
var ErrPurchaseNotFound = fmt.Errorf("procurement: purchase transaction %w", shared.ErrNotFound)

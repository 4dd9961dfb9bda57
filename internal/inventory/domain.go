package inventory

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// MovementType is the direction of a ledger entry.
type MovementType string

const (
	// MovementIn adds stock.
	MovementIn MovementType = "in"
	// MovementOut removes stock.
	MovementOut MovementType = "out"
)

// Source classifies why a movement happened.
type Source string

const (
	SourcePurchaseTransaction Source = "purchase_transaction"
	SourceReturn              Source = "return"
	SourceTransferIn          Source = "transfer_in"
	SourceAdjustment          Source = "adjustment"
	SourceProduction          Source = "production"
	SourceSale                Source = "sale"
	SourceOther               Source = "other"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourcePurchaseTransaction, SourceReturn, SourceTransferIn, SourceAdjustment,
		SourceProduction, SourceSale, SourceOther:
		return true
	}
	return false
}

// Movement is one immutable ledger entry. A reversal tombstones the entry and
// applies the inverse delta; the row itself is never edited otherwise.
type Movement struct {
	ID                    int64        `json:"id"`
	ProductID             int64        `json:"product_id"`
	Type                  MovementType `json:"type"`
	Quantity              int64        `json:"quantity"`
	TransactionDate       time.Time    `json:"transaction_date"`
	Source                Source       `json:"source"`
	ReferenceCode         string       `json:"reference_code,omitempty"`
	PurchaseTransactionID *int64       `json:"purchase_transaction_id,omitempty"`
	RecordedBy            int64        `json:"recorded_by"`
	Note                  string       `json:"note,omitempty"`
	BalanceAfter          int64        `json:"balance_after"`
	ReversedAt            *time.Time   `json:"reversed_at,omitempty"`
	ReversedBy            int64        `json:"reversed_by,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
}

// Delta is the signed effect of the movement on current stock.
func (m Movement) Delta() int64 {
	if m.Type == MovementOut {
		return -m.Quantity
	}
	return m.Quantity
}

// Reversed reports whether the entry has been tombstoned.
func (m Movement) Reversed() bool {
	return m.ReversedAt != nil
}

// MovementInput describes a stock-in or stock-out request.
type MovementInput struct {
	ProductID             int64        `json:"product_id" validate:"required,gt=0"`
	Type                  MovementType `json:"type" validate:"required,oneof=in out"`
	Quantity              int64        `json:"quantity" validate:"required,gt=0"`
	TransactionDate       time.Time    `json:"transaction_date"`
	Source                Source       `json:"source"`
	ReferenceCode         string       `json:"reference_code" validate:"max=64"`
	PurchaseTransactionID *int64       `json:"purchase_transaction_id" validate:"omitempty,gt=0"`
	Note                  string       `json:"note" validate:"max=500"`
	RecordedBy            int64        `json:"-"`
}

// MovementResult is the committed entry with the reconciliation side effect.
type MovementResult struct {
	Movement     Movement `json:"movement"`
	CurrentStock int64    `json:"current_stock"`
	// Warning is set when the cited purchase transaction was over-received.
	Warning          string `json:"warning,omitempty"`
	ReceivedQuantity *int64 `json:"received_quantity,omitempty"`
	PurchaseStatus   string `json:"purchase_status,omitempty"`
}

// Cursor is the keyset position inside an ordered movement listing.
type Cursor struct {
	TransactionDate time.Time
	ID              int64
}

// MovementFilter narrows ListMovements.
type MovementFilter struct {
	ProductID       int64
	Type            MovementType
	Source          Source
	From            time.Time
	To              time.Time
	Descending      bool
	IncludeReversed bool
	PageSize        int
}

// Drift compares the replayed ledger against the stored balance.
type Drift struct {
	ProductID    int64 `json:"product_id"`
	Replayed     int64 `json:"replayed"`
	CurrentStock int64 `json:"current_stock"`
}

// Consistent reports whether replay reproduces the stored balance.
func (d Drift) Consistent() bool {
	return d.Replayed == d.CurrentStock
}

var (
	// ErrMovementNotFound indicates an unknown or already reversed entry.
	ErrMovementNotFound = fmt.Errorf("inventory: movement %w", shared.ErrNotFound)
	// ErrProductNotFound indicates the movement targets an unknown product.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
)

func insufficientStock(productID, onHand, requested int64) error {
	return fmt.Errorf("inventory: product %d has %d on hand, cannot remove %d: %w", productID, onHand, requested, shared.ErrInsufficientStock)
}

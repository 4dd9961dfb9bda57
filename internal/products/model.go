package products

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/replenishment"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Product is a stocked item with its replenishment inputs. CurrentStock is
// owned by the stock ledger; ROP and EOQ are derived by replenishment.Calculate.
type Product struct {
	ID           int64                `json:"id"`
	SKU          string               `json:"sku"`
	Code         string               `json:"code"`
	Name         string               `json:"name"`
	CategoryID   *int64               `json:"category_id,omitempty"`
	UnitID       *int64               `json:"unit_id,omitempty"`
	SupplierID   *int64               `json:"supplier_id,omitempty"`
	Params       replenishment.Params `json:"parameters"`
	CurrentStock int64                `json:"current_stock"`
	ROP          int64                `json:"rop"`
	EOQ          int64                `json:"eoq"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Result returns the stored replenishment values.
func (p Product) Result() replenishment.Result {
	return replenishment.Result{ROP: p.ROP, EOQ: p.EOQ}
}

// CreateInput carries identity plus initial parameters.
type CreateInput struct {
	SKU        string               `json:"sku" validate:"max=64"`
	Code       string               `json:"code" validate:"required,max=64"`
	Name       string               `json:"name" validate:"required,max=200"`
	CategoryID *int64               `json:"category_id" validate:"omitempty,gt=0"`
	UnitID     *int64               `json:"unit_id" validate:"omitempty,gt=0"`
	SupplierID *int64               `json:"supplier_id" validate:"omitempty,gt=0"`
	Params     replenishment.Params `json:"parameters"`
	ActorID    int64                `json:"-"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Search  string
	SortBy  string
	SortDir string
	Page    int
	PerPage int
}

// ErrProductNotFound is returned for unknown product ids.
var ErrProductNotFound = fmt.Errorf("products: product %w", shared.ErrNotFound)

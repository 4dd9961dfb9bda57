// Package replenishment computes reorder signals for a product.
//
// Calculate is the single source of both the preview shown while parameters
// are edited and the values persisted on the product row.
package replenishment

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const daysPerYear = 365

// Params are the six product inputs that drive ROP and EOQ.
type Params struct {
	LeadTimeDays          int             `json:"lead_time_days"`
	DailyUsageRate        float64         `json:"daily_usage_rate"`
	MinimumStock          int64           `json:"minimum_stock"`
	Price                 decimal.Decimal `json:"price"`
	HoldingCostPercentage float64         `json:"holding_cost_percentage"`
	OrderingCost          decimal.Decimal `json:"ordering_cost"`
}

// Result carries the derived reorder point and economic order quantity.
type Result struct {
	ROP int64 `json:"rop"`
	EOQ int64 `json:"eoq"`
}

// Calculate derives ROP and EOQ. It never fails: degenerate inputs floor to 1.
func Calculate(p Params) Result {
	return Result{ROP: reorderPoint(p), EOQ: economicOrderQuantity(p)}
}

func reorderPoint(p Params) int64 {
	demand := decimal.NewFromInt(int64(p.LeadTimeDays)).Mul(decimal.NewFromFloat(p.DailyUsageRate))
	rop := demand.Add(decimal.NewFromInt(p.MinimumStock)).Round(0).IntPart()
	return max(1, rop)
}

func economicOrderQuantity(p Params) int64 {
	annualDemand := decimal.NewFromFloat(p.DailyUsageRate).Mul(decimal.NewFromInt(daysPerYear))
	holding := decimal.NewFromFloat(p.HoldingCostPercentage)
	if !p.Price.IsPositive() || !holding.IsPositive() || !annualDemand.IsPositive() || !p.OrderingCost.IsPositive() {
		return 1
	}
	holdingPerUnit := p.Price.Mul(holding)
	ratio := annualDemand.Mul(p.OrderingCost).Mul(decimal.NewFromInt(2)).Div(holdingPerUnit)
	f, _ := ratio.Float64()
	eoq := int64(roundHalfUp(math.Sqrt(f)))
	return max(1, eoq)
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

// Validate checks the parameter domain before a product row is written.
func (p Params) Validate() error {
	switch {
	case p.LeadTimeDays <= 0:
		return shared.InvalidField("lead_time_days", "must be a positive number of days")
	case p.DailyUsageRate < 0 || math.IsNaN(p.DailyUsageRate) || math.IsInf(p.DailyUsageRate, 0):
		return shared.InvalidField("daily_usage_rate", "must be zero or greater")
	case p.MinimumStock < 0:
		return shared.InvalidField("minimum_stock", "must be zero or greater")
	case p.Price.IsNegative():
		return shared.InvalidField("price", "must be zero or greater")
	case p.HoldingCostPercentage < 0 || p.HoldingCostPercentage > 1 || math.IsNaN(p.HoldingCostPercentage):
		return shared.InvalidField("holding_cost_percentage", "must be between 0 and 1")
	case p.OrderingCost.IsNegative():
		return shared.InvalidField("ordering_cost", "must be zero or greater")
	}
	return nil
}

// Stale reports whether stored values differ from what Calculate derives.
func (r Result) Stale(p Params) bool {
	return r != Calculate(p)
}

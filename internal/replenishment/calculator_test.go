package replenishment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestReorderPointRoundsHalfUp(t *testing.T) {
	res := Calculate(Params{LeadTimeDays: 7, DailyUsageRate: 0.5, MinimumStock: 10})
	require.Equal(t, int64(14), res.ROP)
}

func TestReorderPointFloorsAtOne(t *testing.T) {
	res := Calculate(Params{LeadTimeDays: 3, DailyUsageRate: 0, MinimumStock: 0})
	require.Equal(t, int64(1), res.ROP)

	res = Calculate(Params{LeadTimeDays: 1, DailyUsageRate: 0.4, MinimumStock: 0})
	require.Equal(t, int64(1), res.ROP)
}

func TestEconomicOrderQuantity(t *testing.T) {
	res := Calculate(Params{
		LeadTimeDays:          7,
		DailyUsageRate:        0.5,
		MinimumStock:          10,
		Price:                 decimal.NewFromInt(55000),
		HoldingCostPercentage: 0.2,
		OrderingCost:          decimal.NewFromInt(25000),
	})
	require.Equal(t, int64(29), res.EOQ)
	require.Equal(t, int64(14), res.ROP)
}

func TestEconomicOrderQuantityFallback(t *testing.T) {
	base := Params{
		LeadTimeDays:          5,
		DailyUsageRate:        2,
		Price:                 decimal.NewFromInt(1000),
		HoldingCostPercentage: 0.25,
		OrderingCost:          decimal.NewFromInt(500),
	}
	cases := map[string]func(p *Params){
		"zero price":    func(p *Params) { p.Price = decimal.Zero },
		"zero holding":  func(p *Params) { p.HoldingCostPercentage = 0 },
		"zero usage":    func(p *Params) { p.DailyUsageRate = 0 },
		"zero ordering": func(p *Params) { p.OrderingCost = decimal.Zero },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			require.Equal(t, int64(1), Calculate(p).EOQ)
		})
	}
	require.Greater(t, Calculate(base).EOQ, int64(1))
}

func TestValidateRejectsOutOfDomain(t *testing.T) {
	ok := Params{LeadTimeDays: 1}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.LeadTimeDays = 0
	err := bad.Validate()
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "lead_time_days", shared.FieldOf(err))

	bad = ok
	bad.HoldingCostPercentage = 1.5
	require.Equal(t, "holding_cost_percentage", shared.FieldOf(bad.Validate()))

	bad = ok
	bad.OrderingCost = decimal.NewFromInt(-1)
	require.Equal(t, "ordering_cost", shared.FieldOf(bad.Validate()))
}

func TestStale(t *testing.T) {
	p := Params{LeadTimeDays: 7, DailyUsageRate: 0.5, MinimumStock: 10}
	require.False(t, Result{ROP: 14, EOQ: 1}.Stale(p))
	require.True(t, Result{ROP: 13, EOQ: 1}.Stale(p))
}

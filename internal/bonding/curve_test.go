package bonding

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

func keys(n float64) uint64 { return domain.UnitsFromKeys(n) }

func newTestCurve(t *testing.T) *Curve {
	t.Helper()
	c, err := NewCurve(DefaultParams())
	require.NoError(t, err)
	return c
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		wantErr bool
	}{
		{"defaults", func(p *Params) {}, false},
		{"zero base price", func(p *Params) { p.BasePrice = 0 }, true},
		{"negative linear", func(p *Params) { p.LinearCoef = -1 }, true},
		{"negative exp", func(p *Params) { p.ExpCoef = -0.1 }, true},
		{"zero exponent", func(p *Params) { p.Exponent = 0 }, true},
		{"full sell return", func(p *Params) { p.SellReturnBps = BasisPoints }, true},
		{"flat curve", func(p *Params) { p.LinearCoef, p.ExpCoef = 0, 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriceAtFloorAndMonotonic(t *testing.T) {
	c := newTestCurve(t)

	assert.Equal(t, uint64(10_000_000), c.PriceAt(0), "floor price is 0.01 SOL")

	prev := c.PriceAt(0)
	for s := uint64(1); s <= keys(2000); s += 137 {
		p := c.PriceAt(s)
		assert.GreaterOrEqual(t, p, prev, "price decreased at supply %d", s)
		prev = p
	}
	assert.Greater(t, c.PriceAt(keys(1000)), c.PriceAt(keys(100)))
}

func TestBuyCostFirstKey(t *testing.T) {
	c := newTestCurve(t)

	cost, err := c.BuyCost(0, keys(1))
	require.NoError(t, err)

	// 0.01 + 0.0003/2 + 0.0000012/2.6 SOL
	want := (0.01 + 0.00015 + 0.0000012/2.6) * 1e9
	assert.InDelta(t, math.Ceil(want), float64(cost), 1)
}

func TestBuyCostIsAdditive(t *testing.T) {
	c := newTestCurve(t)

	whole, err := c.BuyCost(keys(10), keys(30))
	require.NoError(t, err)
	first, err := c.BuyCost(keys(10), keys(12))
	require.NoError(t, err)
	second, err := c.BuyCost(keys(22), keys(18))
	require.NoError(t, err)

	// ceil rounding may add one lamport per leg
	assert.InDelta(t, float64(whole), float64(first+second), 2)
}

func TestKeysForBudget(t *testing.T) {
	c := newTestCurve(t)

	for _, supply := range []uint64{0, keys(1), keys(76), keys(250)} {
		for _, budget := range []uint64{10_200_000, 500_000_000, 3 * domain.LamportsPerSOL} {
			got, cost, err := c.KeysForBudget(supply, budget)
			require.NoError(t, err)
			require.Greater(t, got, uint64(0))

			assert.LessOrEqual(t, cost, budget)
			next, err := c.BuyCost(supply, got+1)
			require.NoError(t, err)
			assert.Greater(t, next, budget, "one more unit must exceed the budget")
		}
	}
}

func TestCalculateTradeValidation(t *testing.T) {
	c := newTestCurve(t)

	tests := []struct {
		name string
		req  TradeRequest
		kind domain.ErrorKind
	}{
		{"zero buy", TradeRequest{Side: SideBuy, Amount: 0, Supply: keys(5)}, domain.KindInvalidAmount},
		{"zero sell", TradeRequest{Side: SideSell, Amount: 0, Supply: keys(5)}, domain.KindInvalidAmount},
		{"sell above supply", TradeRequest{Side: SideSell, Amount: keys(6), Supply: keys(5)}, domain.KindInsufficientSupply},
		{"dust budget", TradeRequest{Side: SideBuy, Amount: 1, Supply: 0, SolDenominated: true}, domain.KindInvalidAmount},
		{"sol sell", TradeRequest{Side: SideSell, Amount: 1, Supply: keys(5), SolDenominated: true}, domain.KindInvalidInput},
		{"unknown side", TradeRequest{Side: "hold", Amount: 1}, domain.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := c.CalculateTrade(tt.req)
			require.Error(t, err)
			assert.Nil(t, q)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestCalculateTradeInsufficientSupplyDetails(t *testing.T) {
	c := newTestCurve(t)

	_, err := c.CalculateTrade(TradeRequest{Side: SideSell, Amount: keys(7), Supply: keys(5)})
	require.True(t, errors.Is(err, domain.ErrInsufficientSupply))

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, keys(7), de.Details["requested"])
	assert.Equal(t, keys(5), de.Details["available"])
}

func TestCalculateTradeBuy(t *testing.T) {
	c := newTestCurve(t)

	q, err := c.CalculateTrade(TradeRequest{Side: SideBuy, Amount: keys(20), Supply: keys(1)})
	require.NoError(t, err)

	assert.Equal(t, keys(20), q.Keys)
	assert.Equal(t, keys(21), q.SupplyAfter)
	assert.Equal(t, c.PriceAt(keys(1)), q.PriceBefore)
	assert.Equal(t, c.PriceAt(keys(21)), q.PriceAfter)
	assert.Equal(t, q.TotalCost, q.GrossValue)
	assert.Greater(t, q.PriceImpact, 0.0)
	assert.GreaterOrEqual(t, q.AveragePrice, q.PriceBefore)
	assert.LessOrEqual(t, q.AveragePrice, q.PriceAfter)
}

func TestCalculateTradeImpactWarnings(t *testing.T) {
	c := newTestCurve(t)

	tests := []struct {
		name     string
		req      TradeRequest
		wantWarn bool
	}{
		{"large buy from low supply", TradeRequest{Side: SideBuy, Amount: keys(20), Supply: keys(1)}, true},
		{"small buy", TradeRequest{Side: SideBuy, Amount: keys(0.001), Supply: keys(100)}, false},
		{"half the supply sold", TradeRequest{Side: SideSell, Amount: keys(50), Supply: keys(100)}, true},
		{"small sell", TradeRequest{Side: SideSell, Amount: keys(1), Supply: keys(100)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := c.CalculateTrade(tt.req)
			require.NoError(t, err)
			if tt.wantWarn {
				require.Len(t, q.Warnings, 1)
				assert.Contains(t, q.Warnings[0], "High price impact")
			} else {
				assert.Empty(t, q.Warnings)
			}
		})
	}
}

func TestRoundTripNeverProfits(t *testing.T) {
	c := newTestCurve(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		supply := uint64(rng.Int63n(int64(keys(5000))))
		k := uint64(rng.Int63n(int64(keys(300)))) + 1

		buy, err := c.CalculateTrade(TradeRequest{Side: SideBuy, Amount: k, Supply: supply})
		require.NoError(t, err)
		sell, err := c.CalculateTrade(TradeRequest{Side: SideSell, Amount: k, Supply: buy.SupplyAfter})
		require.NoError(t, err)

		assert.Less(t, sell.TotalCost, buy.TotalCost, "supply=%d keys=%d", supply, k)
		assert.Equal(t, supply, sell.SupplyAfter)
		assert.Equal(t, buy.PriceBefore, sell.PriceAfter)
	}
}

func TestSellValueUsesReturnRatio(t *testing.T) {
	c := newTestCurve(t)

	gross, proceeds, err := c.SellValue(keys(100), keys(10))
	require.NoError(t, err)
	assert.Equal(t, gross*9400/10000, proceeds)
}

func TestAreaOverflowRejected(t *testing.T) {
	c := newTestCurve(t)

	_, err := c.BuyCost(math.MaxUint64-5, 10)
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))
}

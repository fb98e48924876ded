// internal/bonding/trade.go
package bonding

import (
	"fmt"
	"math"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

// HighImpactPercent - порог движения цены, после которого котировка
// предупреждает о сильном влиянии сделки.
const HighImpactPercent = 10.0

// Side - направление сделки.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeRequest - входные данные расчета сделки.
// Amount - ключи в единицах, либо лампорты при покупке с SolDenominated.
type TradeRequest struct {
	Side           Side
	Amount         uint64
	Supply         uint64
	CurrentPrice   uint64 // 0 - вычислить по Supply
	SolDenominated bool
}

// Quote - результат расчета сделки. TotalCost - сколько платит покупатель или
// получает продавец; GrossValue - площадь под кривой, для покупки совпадает с TotalCost.
type Quote struct {
	Side         Side     `json:"side"`
	Keys         uint64   `json:"keys"`
	TotalCost    uint64   `json:"totalCost"`
	GrossValue   uint64   `json:"grossValue"`
	PriceBefore  uint64   `json:"priceBefore"`
	PriceAfter   uint64   `json:"priceAfter"`
	SupplyAfter  uint64   `json:"supplyAfter"`
	AveragePrice uint64   `json:"averagePrice"`
	PriceImpact  float64  `json:"priceImpact"` // проценты
	Warnings     []string `json:"warnings,omitempty"`
}

// CalculateTrade считает стоимость, цену после сделки и количество ключей.
func (c *Curve) CalculateTrade(req TradeRequest) (*Quote, error) {
	if req.Amount == 0 {
		return nil, domain.NewError(domain.KindInvalidAmount, "amount must be greater than zero", nil)
	}

	before := req.CurrentPrice
	if before == 0 {
		before = c.PriceAt(req.Supply)
	}
	q := &Quote{Side: req.Side, PriceBefore: before}

	switch req.Side {
	case SideBuy:
		if req.SolDenominated {
			keys, cost, err := c.KeysForBudget(req.Supply, req.Amount)
			if err != nil {
				return nil, err
			}
			if keys == 0 {
				return nil, domain.NewError(domain.KindInvalidAmount, "amount is below the price of the smallest key fraction",
					map[string]any{"amount": req.Amount, "price": before})
			}
			q.Keys, q.TotalCost = keys, cost
		} else {
			cost, err := c.BuyCost(req.Supply, req.Amount)
			if err != nil {
				return nil, err
			}
			q.Keys, q.TotalCost = req.Amount, cost
		}
		q.GrossValue = q.TotalCost
		q.SupplyAfter = req.Supply + q.Keys

	case SideSell:
		if req.SolDenominated {
			return nil, domain.NewError(domain.KindInvalidInput, "sells are always denominated in keys", nil)
		}
		gross, proceeds, err := c.SellValue(req.Supply, req.Amount)
		if err != nil {
			return nil, err
		}
		q.Keys, q.GrossValue, q.TotalCost = req.Amount, gross, proceeds
		q.SupplyAfter = req.Supply - req.Amount

	default:
		return nil, domain.NewError(domain.KindInvalidInput, "unknown trade side",
			map[string]any{"side": req.Side})
	}

	q.PriceAfter = c.PriceAt(q.SupplyAfter)
	q.AveragePrice = mulDiv(q.TotalCost, domain.KeyUnit, q.Keys)
	if before > 0 {
		q.PriceImpact = (float64(q.PriceAfter) - float64(before)) / float64(before) * 100
	}
	if math.Abs(q.PriceImpact) > HighImpactPercent {
		q.Warnings = append(q.Warnings, fmt.Sprintf("High price impact: %.2f%%", math.Abs(q.PriceImpact)))
	}
	return q, nil
}

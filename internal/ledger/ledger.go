// Package ledger maintains holder positions: balance, cost basis and P&L.
// Mutations are pure functions over domain.Holder; persistence belongs to the
// caller, which commits the holder in the same unit as the curve.
package ledger

import (
	"math"
	"math/bits"
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

// Fill is one executed trade from the holder's point of view.
// Amount is what the holder paid (buy) or received (sell) in lamports.
type Fill struct {
	Keys   uint64
	Price  uint64 // marginal price after the trade, lamports per key
	Amount uint64
	At     time.Time
}

// HolderID is the natural key of a position.
func HolderID(curveID, userID string) string {
	return curveID + ":" + userID
}

// NewHolder returns an empty position.
func NewHolder(curveID, userID string, at time.Time) *domain.Holder {
	return &domain.Holder{
		ID:            HolderID(curveID, userID),
		CurveID:       curveID,
		UserID:        userID,
		FirstBoughtAt: at,
		UpdatedAt:     at,
	}
}

// RecordBuy adds keys to h and folds the cost into the weighted average.
// It reports whether the holder entered, i.e. the balance left zero.
func RecordBuy(h *domain.Holder, fill Fill) (entered bool, err error) {
	if fill.Keys == 0 {
		return false, domain.NewError(domain.KindInvalidAmount, "buy must transfer keys", nil)
	}
	if h.Balance > math.MaxUint64-fill.Keys || h.TotalCost > math.MaxUint64-fill.Amount {
		return false, domain.NewError(domain.KindInvalidAmount, "position exceeds supported range",
			map[string]any{"balance": h.Balance, "keys": fill.Keys})
	}

	entered = h.Balance == 0
	if entered && h.TotalCost == 0 && h.FirstBoughtAt.IsZero() {
		h.FirstBoughtAt = fill.At
	}
	h.Balance += fill.Keys
	h.TotalCost += fill.Amount
	h.AveragePrice = averagePrice(h.TotalCost, h.Balance)
	h.UnrealizedPnL = UnrealizedPnL(h, fill.Price)
	h.UpdatedAt = fill.At
	return entered, nil
}

// RecordSell removes keys from h, realizing (received - averagePrice) x keys.
// The cost basis shrinks proportionally to the keys sold. It reports the
// realized P&L of this fill and whether the holder exited.
func RecordSell(h *domain.Holder, fill Fill) (realized int64, exited bool, err error) {
	if fill.Keys == 0 {
		return 0, false, domain.NewError(domain.KindInvalidAmount, "sell must transfer keys", nil)
	}
	if h == nil || h.Balance < fill.Keys {
		var available uint64
		if h != nil {
			available = h.Balance
		}
		return 0, false, domain.NewError(domain.KindInsufficientBalance, "holder balance is lower than requested keys",
			map[string]any{"requested": fill.Keys, "available": available})
	}

	basis := h.TotalCost
	if fill.Keys < h.Balance {
		basis = mulDiv(h.TotalCost, fill.Keys, h.Balance)
	}
	realized = signedDiff(fill.Amount, basis)

	h.Balance -= fill.Keys
	h.TotalCost -= basis
	h.RealizedPnL += realized
	if h.Balance == 0 {
		// keep the last average for history
		h.TotalCost = 0
		exited = true
	} else {
		h.AveragePrice = averagePrice(h.TotalCost, h.Balance)
	}
	h.UnrealizedPnL = UnrealizedPnL(h, fill.Price)
	h.UpdatedAt = fill.At
	return realized, exited, nil
}

// Revalue refreshes the unrealized P&L at the given price.
func Revalue(h *domain.Holder, price uint64) {
	h.UnrealizedPnL = UnrealizedPnL(h, price)
}

// UnrealizedPnL is (price - averagePrice) x balance, in lamports.
func UnrealizedPnL(h *domain.Holder, price uint64) int64 {
	if h.Balance == 0 {
		return 0
	}
	value := mulDiv(price, h.Balance, domain.KeyUnit)
	return signedDiff(value, h.TotalCost)
}

func averagePrice(totalCost, balance uint64) uint64 {
	if balance == 0 {
		return 0
	}
	return mulDiv(totalCost, domain.KeyUnit, balance)
}

func signedDiff(a, b uint64) int64 {
	if a >= b {
		d := a - b
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := b - a
	if d > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(d)
}

func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}

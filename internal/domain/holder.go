// internal/domain/holder.go
package domain

import "time"

// Holder is one account's position in one curve.
// Rows are never deleted; a zero balance means the account has exited.
type Holder struct {
	ID      string `json:"id"`
	CurveID string `json:"curveId"`
	UserID  string `json:"userId"`

	Balance       uint64 `json:"balance"`      // key units
	TotalCost     uint64 `json:"totalCost"`    // lamports, cost basis of the current balance
	AveragePrice  uint64 `json:"averagePrice"` // lamports per key
	RealizedPnL   int64  `json:"realizedPnl"`
	UnrealizedPnL int64  `json:"unrealizedPnl"`

	FirstBoughtAt time.Time `json:"firstBoughtAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Version       int64     `json:"version"`
}

// Clone returns a copy of the holder.
func (h *Holder) Clone() *Holder {
	if h == nil {
		return nil
	}
	out := *h
	return &out
}

// Active reports whether the holder counts toward the curve's holders.
func (h *Holder) Active() bool {
	return h.Balance > 0
}

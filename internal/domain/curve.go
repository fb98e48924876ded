// internal/domain/curve.go
package domain

import (
	"time"
)

// KeyUnit is the number of stored units in one whole key.
// Supply, balances and trade sizes are kept in units so that sums are exact.
const KeyUnit uint64 = 1000

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL uint64 = 1_000_000_000

// State is the lifecycle state of a curve.
type State string

const (
	StateActive   State = "active"
	StateFrozen   State = "frozen"
	StateLaunched State = "launched"
	StateUtility  State = "utility"
)

// OwnerType says whether a curve belongs to a user or to a project.
type OwnerType string

const (
	OwnerUser    OwnerType = "user"
	OwnerProject OwnerType = "project"
)

// Valid reports whether t is a known owner type.
func (t OwnerType) Valid() bool {
	return t == OwnerUser || t == OwnerProject
}

// Curve is one bonding-curve market.
type Curve struct {
	ID        string    `json:"id"`
	OwnerType OwnerType `json:"ownerType"`
	OwnerID   string    `json:"ownerId"`
	State     State     `json:"state"`

	Supply         uint64  `json:"supply"`  // key units
	Price          uint64  `json:"price"`   // lamports per key
	Reserve        uint64  `json:"reserve"` // lamports
	Holders        int     `json:"holders"`
	Volume24h      uint64  `json:"volume24h"`
	VolumeTotal    uint64  `json:"volumeTotal"`
	MarketCap      uint64  `json:"marketCap"`
	PriceChange24h float64 `json:"priceChange24h"`

	TokenMint  string     `json:"tokenMint,omitempty"`
	FrozenAt   *time.Time `json:"frozenAt,omitempty"`
	LaunchedAt *time.Time `json:"launchedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Version is bumped by the store on every successful write.
	// Zero means the curve has never been persisted.
	Version int64 `json:"version"`
}

// Clone returns a deep copy. Orchestrators mutate clones and hand them to the
// store, so a rejected commit never leaks into the caller's copy.
func (c *Curve) Clone() *Curve {
	if c == nil {
		return nil
	}
	out := *c
	if c.FrozenAt != nil {
		t := *c.FrozenAt
		out.FrozenAt = &t
	}
	if c.LaunchedAt != nil {
		t := *c.LaunchedAt
		out.LaunchedAt = &t
	}
	return &out
}

// Tradable reports whether buys and sells are accepted.
func (c *Curve) Tradable() bool {
	return c.State == StateActive
}

// SetSupply updates supply together with the fields derived from it.
func (c *Curve) SetSupply(supply, price uint64) {
	c.Supply = supply
	c.Price = price
	c.MarketCap = MarketCap(supply, price)
}

// AddVolume adds traded lamports to both volume counters.
func (c *Curve) AddVolume(lamports uint64) {
	c.Volume24h += lamports
	c.VolumeTotal += lamports
}

// HolderEntered is called when a holder's balance leaves zero.
func (c *Curve) HolderEntered() {
	c.Holders++
}

// HolderExited is called when a holder's balance reaches zero.
func (c *Curve) HolderExited() {
	if c.Holders > 0 {
		c.Holders--
	}
}

// MarketCap is supply (in keys) times price, in lamports.
func MarketCap(supply, price uint64) uint64 {
	whole := supply / KeyUnit
	frac := supply % KeyUnit
	return whole*price + frac*price/KeyUnit
}

// KeysFromUnits converts stored units to a float key count for display.
func KeysFromUnits(units uint64) float64 {
	return float64(units) / float64(KeyUnit)
}

// UnitsFromKeys converts a key count to stored units, truncating below 0.001.
func UnitsFromKeys(keys float64) uint64 {
	if keys <= 0 {
		return 0
	}
	return uint64(keys*float64(KeyUnit) + 1e-9)
}

// SOLFromLamports converts lamports to SOL for display.
func SOLFromLamports(lamports uint64) float64 {
	return float64(lamports) / float64(LamportsPerSOL)
}

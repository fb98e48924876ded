// internal/domain/state.go
package domain

import "time"

// transitions lists every legal lifecycle move. Utility is terminal and only
// reachable at creation.
var transitions = map[State][]State{
	StateActive: {StateFrozen},
	StateFrozen: {StateLaunched},
}

// CanTransition reports whether a curve may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InitialState validates the state a curve is created in.
func InitialState(s State) error {
	switch s {
	case StateActive, StateUtility:
		return nil
	default:
		return NewError(KindInvalidInput, "curve can only be created active or utility",
			map[string]any{"state": s})
	}
}

// EnsureTradable fails with CurveNotTradable unless the curve is active.
func (c *Curve) EnsureTradable() error {
	if c.Tradable() {
		return nil
	}
	return NewError(KindCurveNotTradable, "curve is not accepting trades",
		map[string]any{"curveId": c.ID, "state": c.State})
}

// Freeze moves an active curve to frozen.
func (c *Curve) Freeze(at time.Time) error {
	if c.State != StateActive {
		return NewError(KindCurveNotTradable, "only an active curve can be frozen",
			map[string]any{"curveId": c.ID, "state": c.State})
	}
	c.State = StateFrozen
	c.FrozenAt = &at
	c.UpdatedAt = at
	return nil
}

// MarkLaunched moves a frozen curve to launched and records the token mint.
// The reserve is handed over to the launched token's liquidity, so it is
// returned and zeroed.
func (c *Curve) MarkLaunched(tokenMint string, at time.Time) (uint64, error) {
	if !CanTransition(c.State, StateLaunched) {
		return 0, NewError(KindInvalidState, "only a frozen curve can be launched",
			map[string]any{"curveId": c.ID, "state": c.State})
	}
	if tokenMint == "" {
		return 0, NewError(KindInvalidInput, "token mint is required", nil)
	}
	moved := c.Reserve
	c.State = StateLaunched
	c.TokenMint = tokenMint
	c.Reserve = 0
	c.LaunchedAt = &at
	c.UpdatedAt = at
	return moved, nil
}

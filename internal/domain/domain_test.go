package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesByKind(t *testing.T) {
	cause := errors.New("version mismatch")
	err := WrapError(KindConcurrentModification, "retry", cause, map[string]any{"attempts": 5, "operation": "buy"})
	wrapped := fmt.Errorf("sell: %w", err)

	assert.ErrorIs(t, wrapped, ErrConcurrentModification)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, KindConcurrentModification, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(cause))
	assert.Equal(t, "ConcurrentModification: retry (attempts=5, operation=buy): version mismatch", err.Error())
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateActive, StateFrozen))
	assert.True(t, CanTransition(StateFrozen, StateLaunched))
	assert.False(t, CanTransition(StateActive, StateLaunched))
	assert.False(t, CanTransition(StateLaunched, StateActive))
	assert.False(t, CanTransition(StateUtility, StateFrozen))

	assert.NoError(t, InitialState(StateActive))
	assert.NoError(t, InitialState(StateUtility))
	assert.ErrorIs(t, InitialState(StateFrozen), ErrInvalidInput)
}

func TestFreezeAndLaunch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Curve{ID: "c1", State: StateActive, Reserve: 11 * LamportsPerSOL}
	require.NoError(t, c.EnsureTradable())

	_, err := c.MarkLaunched("mint", now)
	assert.ErrorIs(t, err, ErrInvalidState, "active curves launch only via freeze")

	require.NoError(t, c.Freeze(now))
	assert.ErrorIs(t, c.EnsureTradable(), ErrCurveNotTradable)
	assert.ErrorIs(t, c.Freeze(now), ErrCurveNotTradable)

	_, err = c.MarkLaunched("", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	moved, err := c.MarkLaunched("mint", now)
	require.NoError(t, err)
	assert.Equal(t, 11*LamportsPerSOL, moved)
	assert.Zero(t, c.Reserve)
	assert.Equal(t, StateLaunched, c.State)
	require.NotNil(t, c.LaunchedAt)
}

func TestCloneIsDeep(t *testing.T) {
	at := time.Now()
	c := &Curve{ID: "c1", FrozenAt: &at}
	cp := c.Clone()
	*cp.FrozenAt = at.Add(time.Hour)
	assert.Equal(t, at, *c.FrozenAt)
	assert.Nil(t, (*Curve)(nil).Clone())
}

func TestUnitConversions(t *testing.T) {
	assert.Equal(t, uint64(25*LamportsPerSOL/10), MarketCap(2500, LamportsPerSOL))
	assert.Equal(t, uint64(1_500_000), TokenAllocation(1500, 1_000_000))
	assert.Equal(t, uint64(1), TokenAllocation(1, 1000))
	assert.InDelta(t, 2.5, KeysFromUnits(2500), 1e-12)
	assert.True(t, OwnerProject.Valid())
	assert.False(t, OwnerType("dao").Valid())
}

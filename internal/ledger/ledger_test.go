package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/storage"
	"github.com/rovshanmuradov/keycurve/internal/storage/memory"
)

const sol = domain.LamportsPerSOL

func TestRecordBuyWeightedAverage(t *testing.T) {
	now := time.Now()
	h := NewHolder("c1", "bob", now)

	entered, err := RecordBuy(h, Fill{Keys: 2000, Price: 12 * sol / 100, Amount: 2 * sol / 10, At: now})
	require.NoError(t, err)
	assert.True(t, entered)
	assert.Equal(t, sol/10, h.AveragePrice, "0.2 SOL for 2 keys")

	entered, err = RecordBuy(h, Fill{Keys: 1000, Price: 15 * sol / 100, Amount: 4 * sol / 10, At: now})
	require.NoError(t, err)
	assert.False(t, entered)

	assert.Equal(t, uint64(3000), h.Balance)
	assert.Equal(t, 6*sol/10, h.TotalCost)
	assert.Equal(t, 2*sol/10, h.AveragePrice, "0.6 SOL over 3 keys")
	// 3 keys x 0.15 - 0.6
	assert.Equal(t, -int64(15*sol/100), h.UnrealizedPnL)
}

func TestRecordSellRealizesPnL(t *testing.T) {
	now := time.Now()
	h := NewHolder("c1", "bob", now)
	_, err := RecordBuy(h, Fill{Keys: 4000, Price: sol / 10, Amount: 4 * sol / 10, At: now})
	require.NoError(t, err)

	realized, exited, err := RecordSell(h, Fill{Keys: 1000, Price: sol / 10, Amount: 15 * sol / 100, At: now})
	require.NoError(t, err)
	assert.False(t, exited)
	// (0.15 - 0.10) x 1
	assert.Equal(t, int64(5*sol/100), realized)
	assert.Equal(t, realized, h.RealizedPnL)
	assert.Equal(t, uint64(3000), h.Balance)
	assert.Equal(t, 3*sol/10, h.TotalCost)
	assert.Equal(t, sol/10, h.AveragePrice)

	realized, exited, err = RecordSell(h, Fill{Keys: 3000, Price: sol / 100, Amount: sol / 10, At: now})
	require.NoError(t, err)
	assert.True(t, exited)
	assert.Equal(t, -int64(2*sol/10), realized)
	assert.Equal(t, -int64(15*sol/100), h.RealizedPnL)
	assert.Zero(t, h.Balance)
	assert.Zero(t, h.TotalCost)
	assert.Zero(t, h.UnrealizedPnL)
	assert.Equal(t, sol/10, h.AveragePrice, "last average kept for history")
}

func TestRecordSellInsufficientBalance(t *testing.T) {
	h := NewHolder("c1", "bob", time.Now())
	_, err := RecordBuy(h, Fill{Keys: 1000, Amount: sol / 100})
	require.NoError(t, err)
	before := *h

	_, _, err = RecordSell(h, Fill{Keys: 1001, Amount: 1})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, before, *h, "holder untouched")

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, uint64(1001), de.Details["requested"])
	assert.Equal(t, uint64(1000), de.Details["available"])

	_, _, err = RecordSell(nil, Fill{Keys: 1})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestRecordZeroKeysRejected(t *testing.T) {
	h := NewHolder("c1", "bob", time.Now())

	_, err := RecordBuy(h, Fill{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, _, err = RecordSell(h, Fill{})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestReenteringResetsCostBasis(t *testing.T) {
	h := NewHolder("c1", "bob", time.Now())
	_, _ = RecordBuy(h, Fill{Keys: 1000, Amount: sol})
	_, exited, err := RecordSell(h, Fill{Keys: 1000, Amount: sol / 2})
	require.NoError(t, err)
	require.True(t, exited)

	entered, err := RecordBuy(h, Fill{Keys: 2000, Amount: sol / 5})
	require.NoError(t, err)
	assert.True(t, entered)
	assert.Equal(t, sol/10, h.AveragePrice)
}

func TestLedgerReads(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now().UTC()

	curve := &domain.Curve{ID: "c1", OwnerType: domain.OwnerUser, OwnerID: "alice", State: domain.StateActive, Price: 2 * sol / 10, CreatedAt: now}
	a := NewHolder("c1", "alice", now)
	_, _ = RecordBuy(a, Fill{Keys: 1000, Amount: sol / 10})
	b := NewHolder("c1", "bob", now)
	_, _ = RecordBuy(b, Fill{Keys: 3000, Amount: 3 * sol / 10})
	gone := NewHolder("c1", "carol", now)
	require.NoError(t, store.Commit(ctx, &storage.Mutation{Curve: curve, Holders: []*domain.Holder{a, b, gone}}))

	l := New(store, store, zaptest.NewLogger(t))

	holders, err := l.GetHoldersForCurve(ctx, "c1", 0, 0)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, "bob", holders[0].UserID)
	assert.Equal(t, int64(3*sol/10), holders[0].UnrealizedPnL, "revalued at 0.2 SOL")

	h, err := l.GetHolder(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(sol/10), h.UnrealizedPnL)

	_, err = l.GetHolder(ctx, "c1", "dave")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = l.GetHoldersForCurve(ctx, "missing", 0, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	holdings, err := l.GetHoldingsForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "c1", holdings[0].CurveID)
}

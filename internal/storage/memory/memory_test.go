package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

func newCurve(id, owner string) *domain.Curve {
	now := time.Now().UTC()
	return &domain.Curve{
		ID:        id,
		OwnerType: domain.OwnerUser,
		OwnerID:   owner,
		State:     domain.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCommitCreateAndConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := newCurve("c1", "alice")
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Curve: c}))
	assert.Equal(t, int64(1), c.Version)

	stale, err := s.GetCurve(ctx, "c1")
	require.NoError(t, err)

	fresh, err := s.GetCurve(ctx, "c1")
	require.NoError(t, err)
	fresh.Supply = 5
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Curve: fresh}))
	assert.Equal(t, int64(2), fresh.Version)

	stale.Supply = 7
	err = s.Commit(ctx, &storage.Mutation{Curve: stale})
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	got, err := s.GetCurve(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Supply)
}

func TestCommitRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Commit(ctx, &storage.Mutation{Curve: newCurve("c1", "alice")}))

	err := s.Commit(ctx, &storage.Mutation{Curve: newCurve("c1", "bob")})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = s.Commit(ctx, &storage.Mutation{Curve: newCurve("c2", "alice")})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey, "one curve per owner")

	ev := &domain.CurveEvent{ID: "e1", CurveID: "c1", Type: domain.EventBuy, CreatedAt: time.Now()}
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Events: []*domain.CurveEvent{ev}}))
	err = s.Commit(ctx, &storage.Mutation{Events: []*domain.CurveEvent{ev}})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := newCurve("c1", "alice")
	h := &domain.Holder{ID: "c1:bob", CurveID: "c1", UserID: "bob", Balance: 10}
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Curve: c, Holders: []*domain.Holder{h}}))

	curve, _ := s.GetCurve(ctx, "c1")
	curve.Supply = 99
	staleHolder := h.Clone()
	staleHolder.Version = 42 // never stored
	ev := &domain.CurveEvent{ID: "e1", CurveID: "c1", Type: domain.EventSell}

	err := s.Commit(ctx, &storage.Mutation{
		Curve:   curve,
		Holders: []*domain.Holder{staleHolder},
		Events:  []*domain.CurveEvent{ev},
	})
	require.True(t, errors.Is(err, storage.ErrVersionConflict))

	got, _ := s.GetCurve(ctx, "c1")
	assert.Equal(t, uint64(0), got.Supply)
	assert.Equal(t, int64(1), got.Version)
	events, err := s.ListEvents(ctx, "c1", storage.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListHoldersOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := New()

	holders := []*domain.Holder{
		{ID: "c1:a", CurveID: "c1", UserID: "a", Balance: 5},
		{ID: "c1:b", CurveID: "c1", UserID: "b", Balance: 0},
		{ID: "c1:c", CurveID: "c1", UserID: "c", Balance: 50},
		{ID: "c2:a", CurveID: "c2", UserID: "a", Balance: 7},
	}
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Holders: holders}))

	active, err := s.ListHolders(ctx, "c1", storage.HolderFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "c", active[0].UserID)
	assert.Equal(t, "a", active[1].UserID)

	all, err := s.ListHolders(ctx, "c1", storage.HolderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.ListHolders(ctx, "c1", storage.HolderFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byUser, err := s.ListHoldingsByUser(ctx, "a", storage.HolderFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "c2", byUser[0].CurveID)
}

func TestEventsAndSnapshotsWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	events := []*domain.CurveEvent{
		{ID: "old", CurveID: "c1", Type: domain.EventBuy, CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "b", CurveID: "c1", Type: domain.EventBuy, CreatedAt: now.Add(-time.Hour)},
		{ID: "f", CurveID: "c1", Type: domain.EventFreeze, CreatedAt: now},
	}
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Events: events}))

	recent, err := s.ListEvents(ctx, "c1", storage.EventFilter{
		Since: now.Add(-24 * time.Hour),
		Types: []domain.EventType{domain.EventBuy, domain.EventSell},
	})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "b", recent[0].ID)

	newest, err := s.ListEvents(ctx, "c1", storage.EventFilter{Newest: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal(t, "f", newest[0].ID)

	require.NoError(t, s.AppendPriceSnapshot(ctx, &domain.PriceSnapshot{ID: "p1", CurveID: "c1", Price: 1, CreatedAt: now.Add(-30 * time.Hour)}))
	require.NoError(t, s.AppendPriceSnapshot(ctx, &domain.PriceSnapshot{ID: "p2", CurveID: "c1", Price: 2, CreatedAt: now}))
	snaps, err := s.ListPriceSnapshots(ctx, "c1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(2), snaps[0].Price)

	assert.ErrorIs(t, s.AppendPriceSnapshot(ctx, &domain.PriceSnapshot{}), storage.ErrInvalidInput)
}

func TestEventsSameTimestampKeepCommitOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Now().UTC()

	first := &domain.CurveEvent{ID: "e1", CurveID: "c1", Type: domain.EventActivate, CreatedAt: at}
	second := &domain.CurveEvent{ID: "e2", CurveID: "c1", Type: domain.EventBuy, CreatedAt: at}
	other := &domain.CurveEvent{ID: "e3", CurveID: "c2", Type: domain.EventBuy, CreatedAt: at}
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Events: []*domain.CurveEvent{first}}))
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Events: []*domain.CurveEvent{second, other}}))
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(1), other.Seq, "sequence is per curve")

	for i := 0; i < 10; i++ {
		newest, err := s.ListEvents(ctx, "c1", storage.EventFilter{Newest: true})
		require.NoError(t, err)
		require.Len(t, newest, 2)
		assert.Equal(t, "e2", newest[0].ID)

		oldest, err := s.ListEvents(ctx, "c1", storage.EventFilter{})
		require.NoError(t, err)
		assert.Equal(t, "e1", oldest[0].ID)
	}
}

func TestConcurrentConditionalUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Commit(ctx, &storage.Mutation{Curve: newCurve("c1", "alice")}))

	base, err := s.GetCurve(ctx, "c1")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := base.Clone()
			c.Supply = uint64(n)
			if err := s.Commit(ctx, &storage.Mutation{Curve: c}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "only one writer may win against the same version")
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetCurve(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetHolder(ctx, "c", "u")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetLaunchSnapshot(ctx, "c")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetClaim(ctx, "c", "u")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.FindCurveByOwner(ctx, domain.OwnerUser, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Commit(ctx, &storage.Mutation{}), storage.ErrInvalidInput)
}

// Package memory is an in-process storage.Store for tests and single-instance runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// Store is an in-memory implementation of storage.Store. Commit holds the
// write lock for the whole mutation, so version checks and writes are atomic.
type Store struct {
	mu        sync.RWMutex
	curves    map[string]*domain.Curve
	owners    map[string]string                    // ownerType/ownerID -> curve id
	holders   map[string]map[string]*domain.Holder // curve id -> user id
	events    map[string][]*domain.CurveEvent
	eventIDs  map[string]struct{}
	prices    map[string][]*domain.PriceSnapshot
	snapshots map[string]*domain.LaunchSnapshot
	claims    map[string]*domain.AirdropClaim // curve id/user id
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		curves:    make(map[string]*domain.Curve),
		owners:    make(map[string]string),
		holders:   make(map[string]map[string]*domain.Holder),
		events:    make(map[string][]*domain.CurveEvent),
		eventIDs:  make(map[string]struct{}),
		prices:    make(map[string][]*domain.PriceSnapshot),
		snapshots: make(map[string]*domain.LaunchSnapshot),
		claims:    make(map[string]*domain.AirdropClaim),
	}
}

func ownerKey(t domain.OwnerType, id string) string { return string(t) + "/" + id }
func claimKey(curveID, userID string) string        { return curveID + "/" + userID }

// GetCurve returns a copy of the curve or ErrNotFound.
func (s *Store) GetCurve(_ context.Context, id string) (*domain.Curve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.curves[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// FindCurveByOwner returns the owner's curve or ErrNotFound.
func (s *Store) FindCurveByOwner(_ context.Context, ownerType domain.OwnerType, ownerID string) (*domain.Curve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.owners[ownerKey(ownerType, ownerID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.curves[id].Clone(), nil
}

// ListCurves returns curves ordered by creation time.
func (s *Store) ListCurves(_ context.Context, f storage.CurveFilter) ([]*domain.Curve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Curve
	for _, c := range s.curves {
		if f.OwnerType != "" && c.OwnerType != f.OwnerType {
			continue
		}
		if f.OwnerID != "" && c.OwnerID != f.OwnerID {
			continue
		}
		if len(f.States) > 0 && !containsState(f.States, c.State) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, f.Offset, f.Limit), nil
}

// GetHolder returns a copy of the position or ErrNotFound.
func (s *Store) GetHolder(_ context.Context, curveID, userID string) (*domain.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holders[curveID][userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return h.Clone(), nil
}

// ListHolders returns a curve's positions by balance descending.
func (s *Store) ListHolders(_ context.Context, curveID string, f storage.HolderFilter) ([]*domain.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Holder
	for _, h := range s.holders[curveID] {
		if f.ActiveOnly && !h.Active() {
			continue
		}
		out = append(out, h.Clone())
	}
	sortHolders(out)
	return paginate(out, f.Offset, f.Limit), nil
}

// ListHoldingsByUser returns a user's positions across curves.
func (s *Store) ListHoldingsByUser(_ context.Context, userID string, f storage.HolderFilter) ([]*domain.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Holder
	for _, byUser := range s.holders {
		h, ok := byUser[userID]
		if !ok || (f.ActiveOnly && !h.Active()) {
			continue
		}
		out = append(out, h.Clone())
	}
	sortHolders(out)
	return paginate(out, f.Offset, f.Limit), nil
}

// ListEvents returns events of one curve matching the filter.
func (s *Store) ListEvents(_ context.Context, curveID string, f storage.EventFilter) ([]*domain.CurveEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CurveEvent
	for _, e := range s.events[curveID] {
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
			continue
		}
		eventCopy := *e
		out = append(out, &eventCopy)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Newest {
			return eventBefore(out[j], out[i])
		}
		return eventBefore(out[i], out[j])
	})
	return paginate(out, 0, f.Limit), nil
}

func eventBefore(a, b *domain.CurveEvent) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Seq < b.Seq
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// AppendPriceSnapshot stores a price sample.
func (s *Store) AppendPriceSnapshot(_ context.Context, p *domain.PriceSnapshot) error {
	if p == nil || p.CurveID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshotCopy := *p
	s.prices[p.CurveID] = append(s.prices[p.CurveID], &snapshotCopy)
	return nil
}

// ListPriceSnapshots returns samples at or after since, oldest first.
func (s *Store) ListPriceSnapshots(_ context.Context, curveID string, since time.Time) ([]*domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.PriceSnapshot
	for _, p := range s.prices[curveID] {
		if p.CreatedAt.Before(since) {
			continue
		}
		snapshotCopy := *p
		out = append(out, &snapshotCopy)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetLaunchSnapshot returns the freeze snapshot or ErrNotFound.
func (s *Store) GetLaunchSnapshot(_ context.Context, curveID string) (*domain.LaunchSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[curveID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return snap.Clone(), nil
}

// GetClaim returns a holder's airdrop claim or ErrNotFound.
func (s *Store) GetClaim(_ context.Context, curveID, userID string) (*domain.AirdropClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[claimKey(curveID, userID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// Commit validates every version first and only then writes, so a failed
// check leaves the store untouched.
func (s *Store) Commit(_ context.Context, m *storage.Mutation) error {
	if m == nil || m.Empty() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(m); err != nil {
		return err
	}

	if c := m.Curve; c != nil {
		c.Version++
		s.curves[c.ID] = c.Clone()
		s.owners[ownerKey(c.OwnerType, c.OwnerID)] = c.ID
	}
	for _, h := range m.Holders {
		h.Version++
		if s.holders[h.CurveID] == nil {
			s.holders[h.CurveID] = make(map[string]*domain.Holder)
		}
		s.holders[h.CurveID][h.UserID] = h.Clone()
	}
	if snap := m.LaunchSnapshot; snap != nil {
		snap.Version++
		s.snapshots[snap.CurveID] = snap.Clone()
	}
	if c := m.Claim; c != nil {
		c.Version++
		s.claims[claimKey(c.CurveID, c.UserID)] = c.Clone()
	}
	for _, e := range m.Events {
		// events are append-only, so the log length is the last sequence
		e.Seq = uint64(len(s.events[e.CurveID])) + 1
		eventCopy := *e
		s.events[e.CurveID] = append(s.events[e.CurveID], &eventCopy)
		s.eventIDs[e.ID] = struct{}{}
	}
	return nil
}

func (s *Store) check(m *storage.Mutation) error {
	if c := m.Curve; c != nil {
		if c.ID == "" {
			return storage.ErrInvalidInput
		}
		existing, ok := s.curves[c.ID]
		switch {
		case c.Version == 0 && ok:
			return storage.ErrDuplicateKey
		case c.Version == 0:
			if _, taken := s.owners[ownerKey(c.OwnerType, c.OwnerID)]; taken {
				return storage.ErrDuplicateKey
			}
		case !ok || existing.Version != c.Version:
			return storage.ErrVersionConflict
		}
	}

	seen := make(map[string]struct{}, len(m.Holders))
	for _, h := range m.Holders {
		if h.CurveID == "" || h.UserID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[h.ID]; dup {
			return storage.ErrInvalidInput
		}
		seen[h.ID] = struct{}{}

		existing, ok := s.holders[h.CurveID][h.UserID]
		if err := checkVersion(h.Version, ok, func() int64 { return existing.Version }); err != nil {
			return err
		}
	}

	if snap := m.LaunchSnapshot; snap != nil {
		existing, ok := s.snapshots[snap.CurveID]
		if err := checkVersion(snap.Version, ok, func() int64 { return existing.Version }); err != nil {
			return err
		}
	}

	if c := m.Claim; c != nil {
		existing, ok := s.claims[claimKey(c.CurveID, c.UserID)]
		if err := checkVersion(c.Version, ok, func() int64 { return existing.Version }); err != nil {
			return err
		}
	}

	for _, e := range m.Events {
		if e.ID == "" || e.CurveID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := s.eventIDs[e.ID]; dup {
			return storage.ErrDuplicateKey
		}
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func checkVersion(version int64, exists bool, stored func() int64) error {
	switch {
	case version == 0 && exists:
		return storage.ErrDuplicateKey
	case version == 0:
		return nil
	case !exists || stored() != version:
		return storage.ErrVersionConflict
	}
	return nil
}

func sortHolders(hs []*domain.Holder) {
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].Balance == hs[j].Balance {
			return hs[i].ID < hs[j].ID
		}
		return hs[i].Balance > hs[j].Balance
	})
}

func containsState(states []domain.State, s domain.State) bool {
	for _, v := range states {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(types []domain.EventType, t domain.EventType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

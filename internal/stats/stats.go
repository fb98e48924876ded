// Package stats derives market statistics from the event log, price
// snapshots and holder positions.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/ledger"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// DefaultWindow is the rolling window for volume and price change.
const DefaultWindow = 24 * time.Hour

// Reader is the storage subset stats reads from.
type Reader interface {
	storage.CurveReader
	storage.HolderReader
	storage.EventReader
	ListPriceSnapshots(ctx context.Context, curveID string, since time.Time) ([]*domain.PriceSnapshot, error)
}

// Window aggregates trade activity over a time window.
type Window struct {
	Since         time.Time `json:"since"`
	Volume        uint64    `json:"volume"`
	Trades        int       `json:"trades"`
	UniqueTraders int       `json:"uniqueTraders"`
	OpenPrice     uint64    `json:"openPrice"`
	PriceChange   float64   `json:"priceChange"` // проценты
}

// HolderShare is one holder's slice of supply.
type HolderShare struct {
	UserID        string  `json:"userId"`
	Balance       uint64  `json:"balance"`
	Percentage    float64 `json:"percentage"`
	AveragePrice  uint64  `json:"averagePrice"`
	UnrealizedPnL int64   `json:"unrealizedPnl"`
	RealizedPnL   int64   `json:"realizedPnl"`
}

// MarketStats is the read model for a curve's market page.
type MarketStats struct {
	CurveID          string        `json:"curveId"`
	State            domain.State  `json:"state"`
	Supply           uint64        `json:"supply"`
	Price            uint64        `json:"price"`
	Reserve          uint64        `json:"reserve"`
	MarketCap        uint64        `json:"marketCap"`
	Holders          int           `json:"holders"`
	VolumeTotal      uint64        `json:"volumeTotal"`
	Volume24h        uint64        `json:"volume24h"`
	PriceChange24h   float64       `json:"priceChange24h"`
	Trades24h        int           `json:"trades24h"`
	UniqueTraders24h int           `json:"uniqueTraders24h"`
	TopHolders       []HolderShare `json:"topHolders"`
	ComputedAt       time.Time     `json:"computedAt"`
}

// Service computes statistics.
type Service struct {
	store  Reader
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New creates a Service. A zero window uses DefaultWindow.
func New(store Reader, window time.Duration, logger *zap.Logger) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		store:  store,
		window: window,
		now:    time.Now,
		logger: logger.Named("stats"),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Window computes activity since now minus the window for the given curve.
// Events and snapshots are fetched concurrently.
func (s *Service) Window(ctx context.Context, curve *domain.Curve) (*Window, error) {
	since := s.now().Add(-s.window)

	var (
		events []*domain.CurveEvent
		snaps  []*domain.PriceSnapshot
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = s.store.ListEvents(gCtx, curve.ID, storage.EventFilter{
			Since: since,
			Types: []domain.EventType{domain.EventActivate, domain.EventBuy, domain.EventSell},
		})
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		snaps, err = s.store.ListPriceSnapshots(gCtx, curve.ID, since)
		if err != nil {
			return fmt.Errorf("failed to list price snapshots: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	w := &Window{Since: since}
	traders := make(map[string]struct{})
	for _, ev := range events {
		w.Volume += ev.Amount
		w.Trades++
		traders[ev.ActorID] = struct{}{}
	}
	w.UniqueTraders = len(traders)

	if len(snaps) > 0 {
		w.OpenPrice = snaps[0].Price
		w.PriceChange = PercentChange(w.OpenPrice, curve.Price)
	}
	return w, nil
}

// MarketStats computes the full read model. topN limits the holder list;
// zero means all holders.
func (s *Service) MarketStats(ctx context.Context, curveID string, topN int) (*MarketStats, error) {
	curve, err := s.store.GetCurve(ctx, curveID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, domain.NewError(domain.KindNotFound, "curve not found", map[string]any{"curveId": curveID})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load curve: %w", err)
	}

	var (
		w       *Window
		holders []*domain.Holder
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		w, err = s.Window(gCtx, curve)
		return err
	})
	g.Go(func() error {
		var err error
		holders, err = s.store.ListHolders(gCtx, curveID, storage.HolderFilter{ActiveOnly: true, Limit: topN})
		if err != nil {
			return fmt.Errorf("failed to list holders: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &MarketStats{
		CurveID:          curve.ID,
		State:            curve.State,
		Supply:           curve.Supply,
		Price:            curve.Price,
		Reserve:          curve.Reserve,
		MarketCap:        curve.MarketCap,
		Holders:          curve.Holders,
		VolumeTotal:      curve.VolumeTotal,
		Volume24h:        w.Volume,
		PriceChange24h:   w.PriceChange,
		Trades24h:        w.Trades,
		UniqueTraders24h: w.UniqueTraders,
		TopHolders:       make([]HolderShare, 0, len(holders)),
		ComputedAt:       s.now(),
	}
	for _, h := range holders {
		out.TopHolders = append(out.TopHolders, HolderShare{
			UserID:        h.UserID,
			Balance:       h.Balance,
			Percentage:    Share(h.Balance, curve.Supply),
			AveragePrice:  h.AveragePrice,
			UnrealizedPnL: ledger.UnrealizedPnL(h, curve.Price),
			RealizedPnL:   h.RealizedPnL,
		})
	}

	s.logger.Debug("Market stats computed",
		zap.String("curve_id", curveID),
		zap.Int("trades_24h", w.Trades),
		zap.Int("top_holders", len(out.TopHolders)))
	return out, nil
}

// PercentChange returns (to - from) / from in percent, or 0 when from is 0.
func PercentChange(from, to uint64) float64 {
	if from == 0 {
		return 0
	}
	return (float64(to) - float64(from)) / float64(from) * 100
}

// Share returns part / total in percent, or 0 when total is 0.
func Share(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

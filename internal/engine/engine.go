// Package engine orchestrates trades and the curve lifecycle on top of the
// pure pricing, fee and ledger packages. Every mutation is computed from a
// fresh read and committed with a versioned write; conflicts retry the whole
// computation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/bonding"
	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/events"
	"github.com/rovshanmuradov/keycurve/internal/gate"
	"github.com/rovshanmuradov/keycurve/internal/launch"
	"github.com/rovshanmuradov/keycurve/internal/ledger"
	"github.com/rovshanmuradov/keycurve/internal/stats"
	"github.com/rovshanmuradov/keycurve/internal/storage"
	"github.com/rovshanmuradov/keycurve/internal/utils/metrics"
)

// LaunchConfig holds freeze thresholds and launch parameters.
type LaunchConfig struct {
	MinSupply     uint64 // key units
	MinHolders    int
	MinReserve    uint64 // lamports
	TokensPerKey  uint64 // token base units per whole key
	TokenDecimals uint8

	LeaseTTL   time.Duration // upper bound of one executor call
	ClaimLease time.Duration // a pending claim older than this may be retried
}

// DefaultLaunchConfig returns the reference thresholds: 100 keys, 4 holders, 10 SOL.
func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		MinSupply:     100 * domain.KeyUnit,
		MinHolders:    4,
		MinReserve:    10 * domain.LamportsPerSOL,
		TokensPerKey:  1_000_000,
		TokenDecimals: 6,
		LeaseTTL:      2 * time.Minute,
		ClaimLease:    2 * time.Minute,
	}
}

// Config wires the engine's collaborators. Store, Pricer and Executor are required.
type Config struct {
	Store    storage.Store
	Pricer   *bonding.Curve
	Fees     bonding.FeePolicy
	Gate     gate.Gate
	Events   events.Publisher
	Executor launch.Executor
	Launch   LaunchConfig
	Retry    RetryConfig
	Logger   *zap.Logger
	Metrics  *metrics.Collector // optional

	// Clock and NewID default to time.Now and uuid.
	Clock func() time.Time
	NewID func() string
}

// Engine is the trade and lifecycle orchestrator.
type Engine struct {
	store    storage.Store
	pricer   *bonding.Curve
	fees     bonding.FeePolicy
	gate     gate.Gate
	events   events.Publisher
	executor launch.Executor
	ledger   *ledger.Ledger
	stats    *stats.Service
	launch   LaunchConfig
	retry    RetryConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
	newID    func() string
}

// New validates the config and creates an Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Pricer == nil || cfg.Executor == nil {
		return nil, errors.New("engine requires a store, a pricer and a launch executor")
	}
	if cfg.Fees == (bonding.FeePolicy{}) {
		cfg.Fees = bonding.DefaultFeePolicy()
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fee policy: %w", err)
	}
	if cfg.Launch == (LaunchConfig{}) {
		cfg.Launch = DefaultLaunchConfig()
	}
	if cfg.Launch.TokensPerKey == 0 || cfg.Launch.LeaseTTL <= 0 {
		return nil, errors.New("launch config requires tokens per key and a lease ttl")
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.AllowAll{}
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	clock := cfg.Clock
	e := &Engine{
		store:    cfg.Store,
		pricer:   cfg.Pricer,
		fees:     cfg.Fees,
		gate:     cfg.Gate,
		events:   cfg.Events,
		executor: cfg.Executor,
		ledger:   ledger.New(cfg.Store, cfg.Store, cfg.Logger),
		stats:    stats.New(cfg.Store, stats.DefaultWindow, cfg.Logger).WithClock(func() time.Time { return clock().UTC() }),
		launch:   cfg.Launch,
		retry:    cfg.Retry,
		logger:   cfg.Logger.Named("engine"),
		metrics:  cfg.Metrics,
		now:      func() time.Time { return clock().UTC() },
		newID:    cfg.NewID,
	}
	return e, nil
}

// Stats exposes the statistics service bound to the engine's store.
func (e *Engine) Stats() *stats.Service {
	return e.stats
}

// Ledger exposes holder reads.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// GetCurve returns a curve or a NotFound error.
func (e *Engine) GetCurve(ctx context.Context, curveID string) (*domain.Curve, error) {
	c, err := e.store.GetCurve(ctx, curveID)
	if err != nil {
		return nil, notFound(err, "curve", map[string]any{"curveId": curveID})
	}
	return c, nil
}

// ListCurves lists curves matching the filter.
func (e *Engine) ListCurves(ctx context.Context, f storage.CurveFilter) ([]*domain.Curve, error) {
	cs, err := e.store.ListCurves(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list curves: %w", err)
	}
	return cs, nil
}

// GetHolder returns one position revalued at the current price.
func (e *Engine) GetHolder(ctx context.Context, curveID, userID string) (*domain.Holder, error) {
	return e.ledger.GetHolder(ctx, curveID, userID)
}

// GetHoldersForCurve returns positions with a non-zero balance, largest first.
func (e *Engine) GetHoldersForCurve(ctx context.Context, curveID string, limit, offset int) ([]*domain.Holder, error) {
	return e.ledger.GetHoldersForCurve(ctx, curveID, limit, offset)
}

// ListHoldings returns every open position of a user.
func (e *Engine) ListHoldings(ctx context.Context, userID string) ([]*domain.Holder, error) {
	return e.ledger.GetHoldingsForUser(ctx, userID)
}

// ListEvents returns the curve's event log.
func (e *Engine) ListEvents(ctx context.Context, curveID string, f storage.EventFilter) ([]*domain.CurveEvent, error) {
	evs, err := e.store.ListEvents(ctx, curveID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return evs, nil
}

// GetLaunchSnapshot returns the freeze snapshot of a curve.
func (e *Engine) GetLaunchSnapshot(ctx context.Context, curveID string) (*domain.LaunchSnapshot, error) {
	s, err := e.store.GetLaunchSnapshot(ctx, curveID)
	if err != nil {
		return nil, notFound(err, "launch snapshot", map[string]any{"curveId": curveID})
	}
	return s, nil
}

// recordPriceSnapshot appends a price sample. Failure is logged only: a
// missing sample degrades the 24h change, not the trade.
func (e *Engine) recordPriceSnapshot(ctx context.Context, c *domain.Curve) {
	snap := &domain.PriceSnapshot{
		ID:        e.newID(),
		CurveID:   c.ID,
		Supply:    c.Supply,
		Price:     c.Price,
		CreatedAt: e.now(),
	}
	if err := e.store.AppendPriceSnapshot(ctx, snap); err != nil {
		e.logger.Warn("Failed to record price snapshot",
			zap.String("curve_id", c.ID),
			zap.Uint64("price", c.Price),
			zap.Error(err))
	}
}

func (e *Engine) publish(ev events.Event) {
	if err := e.events.Publish(ev); err != nil {
		e.metrics.RecordDroppedEvent(string(ev.Type()))
		e.logger.Warn("Failed to publish event",
			zap.String("event_type", string(ev.Type())),
			zap.String("curve_id", ev.Curve()),
			zap.Error(err))
	}
}

func (e *Engine) loadCurve(ctx context.Context, curveID string) (*domain.Curve, error) {
	c, err := e.store.GetCurve(ctx, curveID)
	if err != nil {
		return nil, notFound(err, "curve", map[string]any{"curveId": curveID})
	}
	return c, nil
}

// notFound maps storage.ErrNotFound to a domain error and wraps everything else.
func notFound(err error, what string, details map[string]any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NewError(domain.KindNotFound, what+" not found", details)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func requireID(name, value string) error {
	if value == "" {
		return domain.NewError(domain.KindInvalidInput, name+" is required", nil)
	}
	return nil
}

func requireOwner(c *domain.Curve, requestorID string) error {
	if c.OwnerID != requestorID {
		return domain.NewError(domain.KindForbidden, "only the curve owner may do this",
			map[string]any{"curveId": c.ID, "requestorId": requestorID})
	}
	return nil
}

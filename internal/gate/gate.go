// Package gate holds pre-trade checks that run before the engine touches state.
package gate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Request describes a trade about to be executed.
type Request struct {
	CurveID string
	UserID  string
	Side    string
	Amount  uint64
}

// Decision is the verdict of a gate.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny returns a negative decision with a reason shown to the caller.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Gate decides whether a trade request may proceed.
type Gate interface {
	Check(ctx context.Context, req Request) (Decision, error)
}

// Func adapts a function to Gate.
type Func func(ctx context.Context, req Request) (Decision, error)

// Check calls f.
func (f Func) Check(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// AllowAll accepts every request.
type AllowAll struct{}

// Check implements Gate.
func (AllowAll) Check(context.Context, Request) (Decision, error) {
	return Allow, nil
}

// Chain runs gates in order and stops at the first denial or error.
type Chain []Gate

// Check implements Gate.
func (c Chain) Check(ctx context.Context, req Request) (Decision, error) {
	for _, g := range c {
		d, err := g.Check(ctx, req)
		if err != nil || !d.Allowed {
			return d, err
		}
	}
	return Allow, nil
}

// LimiterConfig configures the per-user trade limiter.
type LimiterConfig struct {
	PerMinute float64       `mapstructure:"trades_per_minute"`
	Burst     int           `mapstructure:"burst"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// DefaultLimiterConfig returns 30 trades per minute with a burst of 10.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{PerMinute: 30, Burst: 10, TTL: 10 * time.Minute}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a keyed token bucket per user. Idle keys are evicted after TTL,
// so memory stays bounded by the number of recently active users.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     LimiterConfig
	entries map[string]*entry
	now     func() time.Time
	logger  *zap.Logger
}

// NewRateLimiter creates a limiter.
func NewRateLimiter(cfg LimiterConfig, logger *zap.Logger) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLimiterConfig().TTL
	}
	return &RateLimiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger.Named("gate"),
	}
}

// Check implements Gate.
func (l *RateLimiter) Check(_ context.Context, req Request) (Decision, error) {
	l.mu.Lock()
	now := l.now()
	e, ok := l.entries[req.UserID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerMinute/60), l.cfg.Burst)}
		l.entries[req.UserID] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		l.logger.Debug("Trade rate limited",
			zap.String("user_id", req.UserID),
			zap.String("curve_id", req.CurveID))
		return Deny("too many trades, slow down"), nil
	}
	return Allow, nil
}

// Sweep evicts keys idle for longer than TTL and returns how many were removed.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.TTL)
	removed := 0
	for k, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps periodically until ctx is done.
func (l *RateLimiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("Evicted idle limiter keys", zap.Int("count", n))
			}
		}
	}
}

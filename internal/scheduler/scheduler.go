// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher recomputes rolling market fields for every active curve.
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Sweeper evicts idle state, e.g. rate-limiter keys.
type Sweeper interface {
	Sweep() int
}

// Config holds cron specs with a seconds field.
type Config struct {
	RefreshSpec string        `mapstructure:"refresh_spec"`
	SweepSpec   string        `mapstructure:"sweep_spec"`
	JobTimeout  time.Duration `mapstructure:"job_timeout"`
}

// DefaultConfig refreshes stats every minute and sweeps every five.
func DefaultConfig() Config {
	return Config{
		RefreshSpec: "0 * * * * *",
		SweepSpec:   "0 */5 * * * *",
		JobTimeout:  30 * time.Second,
	}
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	ctx     context.Context
	logger  *zap.Logger
	running atomic.Bool
}

// New creates a Scheduler. Jobs derive their contexts from ctx.
func New(ctx context.Context, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	logger = logger.Named("scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		cfg:    cfg,
		ctx:    ctx,
		logger: logger,
	}
}

// RegisterRefresh schedules the market stats refresh.
func (s *Scheduler) RegisterRefresh(r Refresher) error {
	if _, err := s.cron.AddFunc(s.cfg.RefreshSpec, func() { s.runRefresh(r) }); err != nil {
		return fmt.Errorf("register refresh job: %w", err)
	}
	return nil
}

// RegisterSweep schedules idle-state eviction.
func (s *Scheduler) RegisterSweep(name string, sw Sweeper) error {
	if s.cfg.SweepSpec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, func() {
		if n := sw.Sweep(); n > 0 {
			s.logger.Debug("Sweep finished", zap.String("job", name), zap.Int("evicted", n))
		}
	}); err != nil {
		return fmt.Errorf("register %s sweep: %w", name, err)
	}
	return nil
}

// RunRefreshNow executes the refresh immediately.
func (s *Scheduler) RunRefreshNow(r Refresher) {
	s.runRefresh(r)
}

func (s *Scheduler) runRefresh(r Refresher) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	n, err := r.RefreshAll(ctx)
	if err != nil {
		s.logger.Warn("Market refresh finished with errors",
			zap.Int("refreshed", n),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("Market refresh finished",
		zap.Int("refreshed", n),
		zap.Duration("took", time.Since(start)))
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	if s.running.CompareAndSwap(false, true) {
		s.cron.Start()
		s.logger.Info("Scheduler started", zap.Int("jobs", s.Entries()))
	}
}

// Stop stops scheduling and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

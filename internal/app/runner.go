// internal/app/runner.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"

	"github.com/rovshanmuradov/keycurve/internal/api"
	"github.com/rovshanmuradov/keycurve/internal/bonding"
	"github.com/rovshanmuradov/keycurve/internal/config"
	"github.com/rovshanmuradov/keycurve/internal/engine"
	"github.com/rovshanmuradov/keycurve/internal/events"
	"github.com/rovshanmuradov/keycurve/internal/gate"
	"github.com/rovshanmuradov/keycurve/internal/launch"
	"github.com/rovshanmuradov/keycurve/internal/scheduler"
	"github.com/rovshanmuradov/keycurve/internal/storage"
	"github.com/rovshanmuradov/keycurve/internal/storage/memory"
	"github.com/rovshanmuradov/keycurve/internal/storage/postgres"
	"github.com/rovshanmuradov/keycurve/internal/utils/metrics"
)

// Runner wires every component from the config and owns their lifetime.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger

	store     storage.Store
	bus       *events.Bus
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	collector *metrics.Collector
	handler   http.Handler
	shutdown  *ShutdownHandler
}

// NewRunner принимает cfg и logger
func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		shutdown: NewShutdownHandler(logger, cfg.HTTP.ShutdownTimeout),
	}
}

// Initialize builds the store, engine, scheduler and router. Components are
// registered for shutdown as they are created.
func (r *Runner) Initialize(ctx context.Context) error {
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	r.store = store
	r.shutdown.AddSimple("store", store.Close)

	r.bus = events.NewBus(r.logger, r.cfg.Events.Shards, r.cfg.Events.BufferSize)
	for _, t := range events.AllTypes {
		r.bus.Subscribe(t, events.LogHandler(r.logger))
	}
	r.shutdown.AddFunc("event_bus", r.bus.Shutdown)

	pricer, err := bonding.NewCurve(r.cfg.Curve)
	if err != nil {
		return fmt.Errorf("invalid curve: %w", err)
	}

	var tradeGate gate.Gate = gate.AllowAll{}
	var limiter *gate.RateLimiter
	if r.cfg.Gate.PerMinute > 0 {
		limiter = gate.NewRateLimiter(r.cfg.Gate, r.logger)
		tradeGate = limiter
	}

	if r.cfg.Metrics.Enabled {
		r.collector = metrics.NewCollector()
	}

	executor, err := r.executor()
	if err != nil {
		return err
	}

	r.engine, err = engine.New(&engine.Config{
		Store:    store,
		Pricer:   pricer,
		Fees:     r.cfg.Fees,
		Gate:     tradeGate,
		Events:   r.bus,
		Executor: executor,
		Launch:   r.cfg.Launch.EngineLaunch(),
		Retry:    r.cfg.Retry.EngineRetry(),
		Logger:   r.logger,
		Metrics:  r.collector,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	r.scheduler = scheduler.New(ctx, r.cfg.Scheduler, r.logger)
	if err := r.scheduler.RegisterRefresh(r.engine); err != nil {
		return err
	}
	if limiter != nil {
		if err := r.scheduler.RegisterSweep("trade_limiter", limiter); err != nil {
			return err
		}
	}
	r.shutdown.AddFunc("scheduler", r.scheduler.Stop)

	apiCfg := api.Config{Mode: r.cfg.HTTP.Mode, Timeout: r.cfg.HTTP.WriteTimeout}
	if r.collector != nil {
		apiCfg.MetricsPath = r.cfg.Metrics.Path
		apiCfg.MetricsHandler = r.collector.Handler()
	}
	r.handler = api.NewServer(r.engine, apiCfg, r.logger).Router()

	r.logger.Info("Runner initialized",
		zap.String("storage", r.cfg.Storage.Driver),
		zap.Bool("rate_limit", limiter != nil),
		zap.Bool("metrics", r.collector != nil),
		zap.Bool("mint_verification", r.cfg.Solana.RPCEndpoint != ""))
	return nil
}

func (r *Runner) openStore(ctx context.Context) (storage.Store, error) {
	sc := r.cfg.Storage
	var (
		s   *postgres.Storage
		err error
	)
	switch sc.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		s, err = postgres.NewStorage(sc.DSN, sc.Pool(), r.logger)
	case "sqlite":
		s, err = postgres.Open(sqlite.Open(sc.DSN), sc.Pool(), r.logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", sc.Driver, err)
	}
	if sc.AutoMigrate {
		if err := s.RunMigrations(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return s, nil
}

// executor returns the simulated executor, checked against the chain when an
// RPC endpoint is configured.
func (r *Runner) executor() (launch.Executor, error) {
	var ex launch.Executor = launch.NewSimulatedExecutor(r.logger, r.cfg.Solana.LaunchDelay)
	if r.cfg.Solana.RPCEndpoint == "" {
		return ex, nil
	}

	endpoints := append([]string{r.cfg.Solana.RPCEndpoint}, r.cfg.Solana.FallbackEndpoints...)
	pool, err := launch.NewRPCPool(endpoints, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc pool: %w", err)
	}
	return launch.NewVerifyingExecutor(ex, pool, r.logger), nil
}

// Engine returns the wired engine. Valid after Initialize.
func (r *Runner) Engine() *engine.Engine {
	return r.engine
}

// Handler returns the HTTP handler. Valid after Initialize.
func (r *Runner) Handler() http.Handler {
	return r.handler
}

// Run serves HTTP and runs the scheduler until ctx is done or SIGINT/SIGTERM
// arrives, then shuts everything down.
func (r *Runner) Run(ctx context.Context) error {
	if r.handler == nil {
		return errors.New("runner is not initialized")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", r.cfg.HTTP.Addr)
	if err != nil {
		_ = r.shutdown.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", r.cfg.HTTP.Addr, err)
	}

	srv := &http.Server{
		Handler:      r.handler,
		ReadTimeout:  r.cfg.HTTP.ReadTimeout,
		WriteTimeout: r.cfg.HTTP.WriteTimeout,
	}
	r.shutdown.AddFunc("http_server", srv.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		r.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	r.scheduler.Start()
	r.scheduler.RunRefreshNow(r.engine)

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("Shutdown requested")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := r.shutdown.Shutdown(context.Background()); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

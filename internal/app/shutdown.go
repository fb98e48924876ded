package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Closer is a component that stops within the given context.
type Closer interface {
	Close(ctx context.Context) error
}

// CloseFunc allows using a function as a Closer
type CloseFunc func(ctx context.Context) error

func (f CloseFunc) Close(ctx context.Context) error {
	return f(ctx)
}

// ShutdownHandler closes registered components in reverse order of registration.
type ShutdownHandler struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
	timeout  time.Duration
}

type namedService struct {
	name   string
	closer Closer
}

// NewShutdownHandler creates a new shutdown handler
func NewShutdownHandler(logger *zap.Logger, timeout time.Duration) *ShutdownHandler {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownHandler{
		logger:  logger.Named("shutdown"),
		timeout: timeout,
	}
}

// Add registers a service for shutdown
func (sh *ShutdownHandler) Add(name string, closer Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.services = append(sh.services, namedService{name: name, closer: closer})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

// AddFunc registers a shutdown function
func (sh *ShutdownHandler) AddFunc(name string, fn func(ctx context.Context) error) {
	sh.Add(name, CloseFunc(fn))
}

// AddSimple registers a closer that takes no context, e.g. a store.
func (sh *ShutdownHandler) AddSimple(name string, fn func() error) {
	sh.AddFunc(name, func(context.Context) error { return fn() })
}

// Shutdown closes services LIFO so that producers stop before what they
// write to. Each service gets its own timeout, so a stuck service does not
// eat the budget of the ones closed after it.
func (sh *ShutdownHandler) Shutdown(parent context.Context) error {
	sh.mu.Lock()
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.services = nil
	sh.mu.Unlock()

	sh.logger.Info("Starting graceful shutdown", zap.Int("services", len(services)))

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		if err := sh.closeOne(parent, services[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		sh.logger.Error("Shutdown completed with errors", zap.Int("errorCount", len(errs)))
		return errors.Join(errs...)
	}
	sh.logger.Info("Graceful shutdown completed successfully")
	return nil
}

func (sh *ShutdownHandler) closeOne(parent context.Context, s namedService) error {
	ctx, cancel := context.WithTimeout(parent, sh.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		sh.logger.Info("Shutting down service", zap.String("service", s.name))
		done <- s.closer.Close(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			sh.logger.Error("Failed to shutdown service", zap.String("service", s.name), zap.Error(err))
			return fmt.Errorf("%s: %w", s.name, err)
		}
		sh.logger.Info("Service shutdown complete", zap.String("service", s.name))
		return nil
	case <-ctx.Done():
		sh.logger.Error("Shutdown timeout for service", zap.String("service", s.name))
		return fmt.Errorf("%s: shutdown timeout", s.name)
	}
}

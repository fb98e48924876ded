package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// RetryConfig bounds the optimistic-concurrency retry loop.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns 5 tries starting at 5ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
	}
}

// isConflict reports whether err means another writer got there first.
// A duplicate key on create is the same race as a version mismatch.
func isConflict(err error) bool {
	return errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrDuplicateKey)
}

// withRetry runs op until it succeeds, fails with a non-conflict error, or the
// tries run out. op must re-read everything it depends on. Exhausted retries
// surface as ConcurrentModification.
func withRetry[T any](ctx context.Context, e *Engine, opName string, op func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retry.InitialInterval
	policy.MaxInterval = e.retry.MaxInterval

	start := time.Now()
	attempts := 0
	operation := func() (T, error) {
		attempts++
		res, err := op()
		if err != nil && !isConflict(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, d time.Duration) {
		e.metrics.RecordConflict(opName)
		e.logger.Debug("Retrying after write conflict",
			zap.String("op", opName),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", d),
			zap.Error(err))
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(e.retry.MaxTries),
		backoff.WithNotify(notify))
	if err == nil {
		e.metrics.ObserveOperation(opName, time.Since(start), nil)
		return res, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if isConflict(err) {
		e.logger.Warn("Giving up after repeated write conflicts",
			zap.String("op", opName),
			zap.Int("attempts", attempts))
		err = domain.WrapError(domain.KindConcurrentModification,
			"state changed concurrently, retry the request", err,
			map[string]any{"operation": opName, "attempts": attempts})
		e.metrics.ObserveOperation(opName, time.Since(start), err)
		var zero T
		return zero, err
	}
	e.metrics.ObserveOperation(opName, time.Since(start), err)
	return res, err
}

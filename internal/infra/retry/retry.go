// Package retry executes platform calls under a bounded attempt budget,
// honoring server-dictated rate-limit waits and backing off on transient
// I/O failures.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/pkg/common/logger"
)

// transientWait is the fixed pause before retrying a transient I/O failure.
const transientWait = 10 * time.Second

// Executor runs operations with a bounded retry budget.
type Executor struct {
	log *logger.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(log *logger.Logger) *Executor {
	return &Executor{log: log}
}

// Do runs op up to attempts times. Rate-limit errors wait the
// server-dictated duration; transient I/O errors wait a fixed interval.
// Any other error, or an exhausted budget, returns the last error.
func (e *Executor) Do(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	policy := backoff.NewConstantBackOff(transientWait)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		wait, ok := platform.IsRateLimit(err)
		switch {
		case ok:
			e.log.Warn(ctx, "rate limited, waiting", "wait", wait.String(), "attempt", attempt)
		case transient(err):
			wait = policy.NextBackOff()
			e.log.Warn(ctx, "transient failure, waiting", "error", err, "wait", wait.String(), "attempt", attempt)
		default:
			return err
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	return err
}

// DoValue runs op under the same retry policy as Do and returns its value.
func DoValue[T any](ctx context.Context, e *Executor, attempts int, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, attempts, func(ctx context.Context) error {
		var err error
		out, err = op(ctx)
		return err
	})
	return out, err
}

func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

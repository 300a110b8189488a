package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/pkg/common/logger"
)

func TestDoSucceedsAfterRateLimit(t *testing.T) {
	e := NewExecutor(logger.Noop())

	calls := 0
	err := e.Do(context.Background(), 3, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &platform.RateLimitError{Method: "get_chat", RetryAfter: time.Millisecond}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorWhenBudgetExhausted(t *testing.T) {
	e := NewExecutor(logger.Noop())

	rle := &platform.RateLimitError{Method: "get_history", RetryAfter: time.Millisecond}
	calls := 0
	err := e.Do(context.Background(), 3, func(ctx context.Context) error {
		calls++
		return rle
	})

	assert.Equal(t, 3, calls)
	var got *platform.RateLimitError
	require.ErrorAs(t, err, &got)
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	e := NewExecutor(logger.Noop())

	boom := errors.New("peer id invalid")
	calls := 0
	err := e.Do(context.Background(), 3, func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)
}

func TestDoAbortsSleepOnCancel(t *testing.T) {
	e := NewExecutor(logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := e.Do(ctx, 3, func(ctx context.Context) error {
		return &platform.RateLimitError{Method: "get_chat", RetryAfter: time.Minute}
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoValueReturnsValue(t *testing.T) {
	e := NewExecutor(logger.Noop())

	calls := 0
	got, err := DoValue(context.Background(), e, 2, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &platform.RateLimitError{Method: "get_messages", RetryAfter: time.Millisecond}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

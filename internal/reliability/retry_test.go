package reliability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("creates with correct defaults", func(t *testing.T) {
		eb := NewExponentialBackoff(
			100*time.Millisecond,
			5*time.Second,
			2.0,
			3,
		)

		assert.Equal(t, 100*time.Millisecond, eb.InitialInterval)
		assert.Equal(t, 5*time.Second, eb.MaxInterval)
		assert.Equal(t, 2.0, eb.Multiplier)
		assert.Equal(t, 3, eb.MaxAttempts)
		assert.True(t, eb.Jitter)
	})

	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			shouldRetry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, shouldRetry)
			assert.Greater(t, delay, time.Duration(0))
		}

		shouldRetry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, shouldRetry)
		assert.Equal(t, time.Duration(0), delay)
	})

	t.Run("NextDelay calculates exponential backoff", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2.0, 5)
		eb.Jitter = false // Disable jitter for predictable results

		tests := []struct {
			attempt  int
			expected time.Duration
		}{
			{0, 100 * time.Millisecond},
			{1, 200 * time.Millisecond},
			{2, 400 * time.Millisecond},
			{3, 800 * time.Millisecond},
			{10, 10 * time.Second}, // Should cap at max
		}

		for _, tt := range tests {
			delay := eb.NextDelay(tt.attempt)
			assert.Equal(t, tt.expected, delay)
		}
	})

	t.Run("NextDelay with jitter stays in range", func(t *testing.T) {
		eb := NewExponentialBackoff(1*time.Second, 10*time.Second, 2.0, 5)
		eb.Jitter = true

		for i := 0; i < 10; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})

	t.Run("respects non-retryable errors", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, 1*time.Second, 2.0, 3)

		nonRetryable := RetryableError{
			Err:       errors.New("handler rejected the contract"),
			Retryable: false,
		}

		shouldRetry, _ := eb.ShouldRetry(0, nonRetryable)
		assert.False(t, shouldRetry)
	})
}

func TestFixedDelay(t *testing.T) {
	t.Run("returns constant delay", func(t *testing.T) {
		fd := NewFixedDelay(250*time.Millisecond, 2)

		assert.Equal(t, 250*time.Millisecond, fd.NextDelay(0))
		assert.Equal(t, 250*time.Millisecond, fd.NextDelay(5))
	})

	t.Run("stops after max attempts", func(t *testing.T) {
		fd := NewFixedDelay(10*time.Millisecond, 2)

		shouldRetry, _ := fd.ShouldRetry(1, errors.New("test"))
		assert.True(t, shouldRetry)

		shouldRetry, _ = fd.ShouldRetry(2, errors.New("test"))
		assert.False(t, shouldRetry)
	})
}

func TestRetry(t *testing.T) {
	t.Run("returns nil on first success", func(t *testing.T) {
		var calls int32

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 3), func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("retries transient failures until success", func(t *testing.T) {
		var calls int32

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 3), func() error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.New("transient")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("returns last error after exhaustion", func(t *testing.T) {
		var calls int32
		lastErr := errors.New("still broken")

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 2), func() error {
			atomic.AddInt32(&calls, 1)
			return lastErr
		})

		assert.Equal(t, lastErr, err)
		// Initial attempt plus two retries
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("does not retry non-retryable errors", func(t *testing.T) {
		var calls int32

		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			atomic.AddInt32(&calls, 1)
			return RetryableError{Err: errors.New("fatal"), Retryable: false}
		})

		assert.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		err := Retry(ctx, NewFixedDelay(time.Hour, 5), func() error {
			cancel()
			return errors.New("transient")
		})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryError(t *testing.T) {
	t.Run("formats and unwraps", func(t *testing.T) {
		inner := errors.New("connection refused")
		err := &RetryError{
			Op:          "invoke writer",
			Attempts:    4,
			MaxAttempts: 4,
			LastError:   inner,
			Duration:    1500 * time.Millisecond,
		}

		assert.Contains(t, err.Error(), "invoke writer")
		assert.Contains(t, err.Error(), "4/4")
		assert.ErrorIs(t, err, inner)
	})
}

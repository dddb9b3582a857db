package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetry_Do_SuccessOnFirstAttempt(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetry_Do_SuccessAfterRetries(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxAttempts: 3,
		BaseBackoff: 10 * time.Millisecond,
		MaxBackoff:  100 * time.Millisecond,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetry_Do_ExhaustsAllAttempts(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxAttempts: 3,
		BaseBackoff: 10 * time.Millisecond,
		MaxBackoff:  100 * time.Millisecond,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed after 3 attempts")
	require.Equal(t, 3, attempts)
}

func TestRetry_Do_NonRetryableErrorFailsFast(t *testing.T) {
	t.Parallel()

	attempts := 0
	permanent := errors.New("relation does not exist")
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, attempts)
}

func TestRetry_Do_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Second,
	}

	attempts := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- Do(ctx, cfg, func() error {
			attempts++
			return errors.New("timeout")
		})
	}()
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
	require.Equal(t, 1, attempts)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetry_IsRetryable(t *testing.T) {
	t.Parallel()

	var netErr net.Error = timeoutErr{}

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"net timeout", netErr, true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"db starting up", errors.New("FATAL: the database system is starting up"), true},
		{"too many clients", errors.New("FATAL: sorry, too many clients already"), true},
		{"constraint violation", errors.New("duplicate key value violates unique constraint"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestRetry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	max := time.Second

	for attempt := 1; attempt <= 6; attempt++ {
		got := calculateBackoff(base, max, attempt)
		expected := base * time.Duration(1<<uint(attempt))
		if expected > max {
			expected = max
		}
		// Jitter keeps the result within [0.5, 1.0] of the exponential value.
		require.GreaterOrEqual(t, got, expected/2, "attempt %d", attempt)
		require.LessOrEqual(t, got, expected, "attempt %d", attempt)
	}
}

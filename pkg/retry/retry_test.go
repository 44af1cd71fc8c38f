package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestDoBacksOffExponentially(t *testing.T) {
	var waits []time.Duration
	cfg := DefaultConfig().WithSleep(recordingSleep(&waits))

	var attempts []int
	err := Do(context.Background(), cfg, func(attempt int) error {
		attempts = append(attempts, attempt)
		return errors.New("upstream 503")
	})

	require.Error(t, err)
	assert.Equal(t, []int{0, 1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestDoStopsOnSuccess(t *testing.T) {
	var waits []time.Duration
	cfg := DefaultConfig().WithSleep(recordingSleep(&waits))

	got, err := DoWithResult(context.Background(), cfg, func(attempt int) (string, error) {
		if attempt == 0 {
			return "", errors.New("timeout")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, waits, 1)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(int) error {
		calls++
		return fmt.Errorf("bad request: %w", ErrPermanent)
	})

	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, DefaultConfig(), func(int) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

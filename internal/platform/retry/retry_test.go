package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func always(action Action) Classify {
	return func(error) Action { return action }
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int

	p := Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		OnRetry:        func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}
	val, err := Do(context.Background(), p, always(Retry), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_BackoffDoublesOnPolicyClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var backoffs []time.Duration
	p := Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Minute,
		Clock:          clock,
		OnRetry:        func(_ int, _ error, backoff time.Duration) { backoffs = append(backoffs, backoff) },
	}

	result := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), p, always(Retry), func(context.Context) (int, error) {
			return 0, errTransient
		})
		result <- err
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Minute)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, errTransient)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "retry did not finish after advancing the clock")
	}
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, backoffs)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5}, always(Stop), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	var perm *PermanentError
	require.ErrorAs(t, err, &perm)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond}, always(Retry), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Hour,
		OnRetry:        func(int, error, time.Duration) { cancel() },
	}

	_, err := Do(ctx, p, always(Retry), func(context.Context) (int, error) {
		return 0, errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, always(Retry), func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

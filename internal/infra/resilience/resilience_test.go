package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fastRetries(n int) resilience.Config {
	return resilience.Config{MaxRetries: n, InitialBackoff: 5 * time.Millisecond}
}

func TestRetryWithBackoff_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), fastRetries(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), fastRetries(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("503 from store")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	err := resilience.RetryWithBackoff(context.Background(), fastRetries(2), func() error {
		calls++
		return last
	})
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnPermanent(t *testing.T) {
	cause := errors.New("sale not found")
	calls := 0
	err := resilience.RetryWithBackoff(context.Background(), fastRetries(5), func() error {
		calls++
		return resilience.Permanent(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.False(t, resilience.IsPermanent(err), "the mark is stripped")
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_HonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := resilience.RetryWithBackoff(ctx, resilience.Config{MaxRetries: 5, InitialBackoff: time.Second}, func() error {
		calls++
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestConfig_BackoffIsCapped(t *testing.T) {
	cfg := resilience.Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 400 * time.Millisecond}

	first := cfg.Backoff(0)
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.Less(t, first, 150*time.Millisecond)

	for _, attempt := range []int{3, 10, 60} {
		d := cfg.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 400*time.Millisecond)
		assert.Less(t, d, 600*time.Millisecond)
	}
}

func TestCircuitBreaker_OpensOnFailures(t *testing.T) {
	cb := resilience.NewCircuitBreaker("store", nil)

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errors.New("boom") })
	}

	_, err := cb.Execute(func() (any, error) { return nil, nil })
	assert.True(t, resilience.IsBreakerOpen(err), "got %v", err)
}

func TestCircuitBreaker_TolerableErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("not found")
	cb := resilience.NewCircuitBreaker("store", func(err error) bool {
		return err == nil || errors.Is(err, notFound)
	})

	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, notFound })
	}

	_, err := cb.Execute(func() (any, error) { return nil, nil })
	assert.False(t, resilience.IsBreakerOpen(err))
}

func TestCircuitBreaker_LogsStateChanges(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cb := resilience.NewCircuitBreaker("viacep", nil,
		resilience.WithStateLogger(zap.New(core)),
		resilience.WithOpenTimeout(20*time.Millisecond),
	)

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errors.New("boom") })
	}
	time.Sleep(40 * time.Millisecond)
	_, err := cb.Execute(func() (any, error) { return nil, nil })
	require.NoError(t, err)

	entries := logs.FilterMessage("circuit breaker state changed").All()
	require.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "open", entries[0].ContextMap()["to"])
	assert.Equal(t, "viacep", entries[0].ContextMap()["breaker"])
}

func TestBulkhead_BoundsConcurrency(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	require.NoError(t, bh.Acquire(context.Background()))
	require.NoError(t, bh.Acquire(context.Background()))
	assert.Equal(t, 2, bh.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bh.Acquire(ctx), context.DeadlineExceeded)

	bh.Release()
	require.NoError(t, bh.Acquire(context.Background()))
}

func TestBulkhead_DoReleasesSlot(t *testing.T) {
	bh := resilience.NewBulkhead(1)
	boom := errors.New("boom")

	err := bh.Do(context.Background(), func(context.Context) error {
		assert.Equal(t, 1, bh.InUse())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, bh.InUse())
}

func TestBulkhead_NilDoRunsDirectly(t *testing.T) {
	var bh *resilience.Bulkhead
	ran := false
	require.NoError(t, bh.Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

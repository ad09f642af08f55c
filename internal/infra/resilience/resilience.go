// Package resilience guards calls to the record store and the address
// service: bounded retries, a circuit breaker per dependency and a bulkhead
// for background polling.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// defaultMaxBackoff caps a single wait between attempts.
const defaultMaxBackoff = 2 * time.Second

// Config holds retry and concurrency limits.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int
}

// Backoff returns the wait before retry number attempt (0-based):
// InitialBackoff doubled per attempt, capped, plus up to 50% jitter.
func (c Config) Backoff(attempt int) time.Duration {
	limit := c.MaxBackoff
	if limit <= 0 {
		limit = defaultMaxBackoff
	}
	wait := c.InitialBackoff
	for i := 0; i < attempt && wait < limit; i++ {
		wait *= 2
	}
	if wait > limit {
		wait = limit
	}
	if half := int64(wait / 2); half > 0 {
		wait += time.Duration(rand.Int63n(half))
	}
	return wait
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so RetryWithBackoff gives up at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent mark.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryWithBackoff runs fn up to MaxRetries+1 times. It stops early on
// success, on a Permanent error (returning the unmarked cause) or when ctx
// ends.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if attempt >= cfg.MaxRetries {
			return err
		}

		timer := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ============================================================
// Circuit breaker
// ============================================================

// BreakerOption adjusts the breaker settings.
type BreakerOption func(*gobreaker.Settings)

// WithStateLogger logs every state change of the breaker.
func WithStateLogger(logger *zap.Logger) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			log := logger.Info
			if to == gobreaker.StateOpen {
				log = logger.Warn
			}
			log("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
}

// WithOpenTimeout sets how long the breaker stays open before probing again.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Timeout = d
	}
}

// NewCircuitBreaker creates the breaker of one dependency. It opens when at
// least 5 requests in a 30s window failed at a 60% ratio. Errors for which
// tolerable returns true (missing rows, rejected input) do not count as
// failures; a nil tolerable counts every error.
func NewCircuitBreaker(name string, tolerable func(error) bool, opts ...BreakerOption) *gobreaker.CircuitBreaker {
	if tolerable == nil {
		tolerable = func(err error) bool { return err == nil }
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: tolerable,
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// IsBreakerOpen reports whether err came from an open or saturated breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ============================================================
// Bulkhead
// ============================================================

// Bulkhead bounds how many callers use a resource at once.
type Bulkhead struct {
	slots chan struct{}
}

// NewBulkhead creates a bulkhead with size slots (at least one).
func NewBulkhead(size int) *Bulkhead {
	if size <= 0 {
		size = 1
	}
	return &Bulkhead{slots: make(chan struct{}, size)}
}

// Acquire waits for a free slot or for ctx to end.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	<-b.slots
}

// Do runs fn inside a slot. A nil bulkhead runs fn directly.
func (b *Bulkhead) Do(ctx context.Context, fn func(context.Context) error) error {
	if b == nil {
		return fn(ctx)
	}
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn(ctx)
}

// InUse returns the number of taken slots.
func (b *Bulkhead) InUse() int {
	return len(b.slots)
}

// Package supabase provides a client for Supabase (PostgREST).
// Used as the record store for sales, role permissions and users.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// transient reports whether the same request may succeed later.
func (e *statusError) transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// Tolerable reports whether err must not count as a breaker failure:
// missing rows, conflicts and client-side 4xx say nothing about store health.
func Tolerable(err error) bool {
	if err == nil {
		return true
	}
	var conflict *domain.ErrConflict
	if domain.IsNotFound(err) || errors.As(err, &conflict) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return !se.transient()
	}
	return false
}

// fatalError marks a failure that no retry can fix (malformed request or response).
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &fatalError{err: err}
}

// call runs fn under the circuit breaker with retries, then maps the outcome
// onto the domain taxonomy: NotFound and Conflict pass through, transient
// failures become StoreUnavailable, anything else is fatal for the operation.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			err := fn()
			var fe *fatalError
			if err != nil && (Tolerable(err) || errors.As(err, &fe)) {
				return resilience.Permanent(err)
			}
			return err
		})
	})
	return c.classify(op, err)
}

func (c *Client) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var conflict *domain.ErrConflict
	if domain.IsNotFound(err) || errors.As(err, &conflict) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var fe *fatalError
	if errors.As(err, &fe) {
		return fmt.Errorf("supabase/%s: %w", op, fe.err)
	}
	var se *statusError
	if errors.As(err, &se) && !se.transient() {
		return fmt.Errorf("supabase/%s: %w", op, err)
	}
	if resilience.IsBreakerOpen(err) {
		c.logger.Warn("supabase: circuit breaker open", zap.String("op", op))
	}
	return &domain.ErrStoreUnavailable{Service: "supabase/" + op, Err: err}
}

func (c *Client) setHeaders(req *http.Request, prefer string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

// Ping checks PostgREST reachability for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.get(ctx, rolePermissionsTable+"?select=role&limit=1")
	return c.classify("ping", err)
}

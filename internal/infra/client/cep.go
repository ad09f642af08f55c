// Package client holds HTTP clients for third-party APIs consumed by the service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// CEPClient resolves Brazilian postal codes through the ViaCEP API.
type CEPClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewCEPClient creates a new CEPClient.
func NewCEPClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *CEPClient {
	return &CEPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

// viaCEPResponse mirrors the ViaCEP payload; unknown CEPs come back as 200 with "erro".
type viaCEPResponse struct {
	domain.Address
	Erro any `json:"erro,omitempty"`
}

// Tolerable is the breaker success predicate for ViaCEP: a CEP that does not
// exist or is malformed says nothing about the health of the API.
func Tolerable(err error) bool {
	var validation *domain.ErrValidation
	return err == nil || domain.IsNotFound(err) || errors.As(err, &validation)
}

// LookupCEP fetches the address of an 8-digit CEP with retry, circuit breaker, and tracing.
func (c *CEPClient) LookupCEP(ctx context.Context, cep string) (*domain.Address, error) {
	ctx, span := tracer.Start(ctx, "CEPClient.LookupCEP")
	defer span.End()
	span.SetAttributes(attribute.String("address.cep", cep))

	result, err := c.cb.Execute(func() (any, error) {
		var payload viaCEPResponse
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			url := fmt.Sprintf("%s/ws/%s/json/", c.baseURL, cep)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return resilience.Permanent(err)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return resilience.Permanent(&domain.ErrNotFound{Resource: "cep", ID: cep})
			case resp.StatusCode == http.StatusBadRequest:
				return resilience.Permanent(&domain.ErrValidation{Field: "cep", Message: "invalid CEP"})
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("viacep returned status %d", resp.StatusCode)
			}

			payload = viaCEPResponse{}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return resilience.Permanent(fmt.Errorf("decode viacep: %w", err))
			}
			if payload.Erro != nil && payload.Erro != false && payload.Erro != "false" {
				return resilience.Permanent(&domain.ErrNotFound{Resource: "cep", ID: cep})
			}
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		addr := payload.Address
		return &addr, nil
	})

	if err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		var validation *domain.ErrValidation
		if errors.As(err, &validation) {
			return nil, err
		}
		span.RecordError(err)
		return nil, &domain.ErrStoreUnavailable{Service: "viacep", Err: err}
	}

	return result.(*domain.Address), nil
}

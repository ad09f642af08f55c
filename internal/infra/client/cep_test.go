package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/client"
	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCEPClient(t *testing.T, h http.HandlerFunc) *client.CEPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cb := resilience.NewCircuitBreaker("viacep-test", func(err error) bool {
		return err == nil || domain.IsNotFound(err)
	})
	return client.NewCEPClient(srv.Client(), srv.URL, cb, resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond})
}

func TestLookupCEP_Success(t *testing.T) {
	c := newCEPClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/01001000/json/", r.URL.Path)
		w.Write([]byte(`{"cep":"01001-000","logradouro":"Praça da Sé","bairro":"Sé","localidade":"São Paulo","uf":"SP"}`))
	})

	addr, err := c.LookupCEP(context.Background(), "01001000")
	require.NoError(t, err)
	assert.Equal(t, "São Paulo", addr.City)
	assert.Equal(t, "SP", addr.State)
}

func TestLookupCEP_ErroFlagIsNotFound(t *testing.T) {
	c := newCEPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"erro": true}`))
	})

	_, err := c.LookupCEP(context.Background(), "99999999")
	assert.True(t, domain.IsNotFound(err))
}

func TestLookupCEP_ServerErrorIsUnavailable(t *testing.T) {
	c := newCEPClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.LookupCEP(context.Background(), "01001000")
	assert.True(t, domain.IsRetryable(err))
}

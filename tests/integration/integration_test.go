package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/handler"
	"github.com/boddenberg/sales-intake-go/internal/infra/cache"
	"github.com/boddenberg/sales-intake-go/internal/infra/client"
	"github.com/boddenberg/sales-intake-go/internal/infra/memory"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"
	"github.com/boddenberg/sales-intake-go/internal/infra/supabase"
	"github.com/boddenberg/sales-intake-go/internal/port"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type store interface {
	handler.Pinger
	port.SaleStore
	port.PermissionStore
	port.UserStore
}

// newStack wires the same graph as cmd/intake against the given store and ViaCEP URL.
func newStack(t *testing.T, st store, viaCEPURL string) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	perms := service.NewPermissionRegistry(st, logger)
	_ = perms.Load(context.Background())
	auth := service.NewAuthService(st, perms, "integration-secret", time.Hour, logger).WithBcryptCost(bcrypt.MinCost)
	_ = auth.BootstrapAdmin(context.Background(), "Administrador", "admin@example.com", "admin-pass")

	engine := service.NewLifecycleEngine(st, perms, metrics, logger)
	drafts := service.NewAutosaveCoordinator(engine, 20*time.Millisecond, metrics, logger)
	views := service.NewViewManager(engine, nil, time.Minute, resilience.NewBulkhead(cfg.MaxConcurrency), metrics, logger)
	addressCache := cache.New[*domain.Address](time.Minute)
	cep := client.NewCEPClient(httpClient, viaCEPURL, resilience.NewCircuitBreaker("viacep", client.Tolerable), cfg)
	t.Cleanup(func() {
		drafts.Shutdown(context.Background())
		views.Shutdown(context.Background())
		addressCache.Close()
	})

	return handler.NewRouter(handler.Services{
		Auth:      auth,
		Perms:     perms,
		Engine:    engine,
		Drafts:    drafts,
		Views:     views,
		Dashboard: service.NewDashboardService(engine, st, metrics, logger),
		Address:   service.NewAddressService(cep, addressCache, metrics, logger),
		Store:     st,
	}, metrics, logger)
}

func call(t *testing.T, router http.Handler, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func login(t *testing.T, router http.Handler, email, password string) *domain.LoginResponse {
	t.Helper()
	var resp domain.LoginResponse
	if code := call(t, router, http.MethodPost, "/v1/auth/login", "", domain.LoginRequest{Email: email, Password: password}, &resp); code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d", email, code)
	}
	return &resp
}

// TestIntegration_FullFlow walks a sale from an empty form to FINISHED over HTTP.
func TestIntegration_FullFlow(t *testing.T) {
	// --- Mock ViaCEP ---
	viaCEP := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/01001000/json/" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cep":"01001-000","logradouro":"Praça da Sé","complemento":"lado ímpar","bairro":"Sé","localidade":"São Paulo","uf":"SP"}`))
	}))
	defer viaCEP.Close()

	router := newStack(t, memory.New(), viaCEP.URL)

	// --- Registration and confirmation ---
	var registered struct {
		User domain.User `json:"user"`
	}
	code := call(t, router, http.MethodPost, "/v1/auth/register", "", domain.RegisterRequest{
		Name: "Carla Souza", Email: "carla@example.com", Password: "segredo123",
	}, &registered)
	if code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", code)
	}

	admin := login(t, router, "admin@example.com", "admin-pass")
	if code := call(t, router, http.MethodPost, "/v1/users/"+registered.User.ID+"/confirm", admin.AccessToken, nil, nil); code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", code)
	}
	seller := login(t, router, "carla@example.com", "segredo123")

	// --- Draft with address lookup ---
	var addr domain.Address
	if code := call(t, router, http.MethodGet, "/v1/address/01001-000", seller.AccessToken, nil, &addr); code != http.StatusOK {
		t.Fatalf("address: expected 200, got %d", code)
	}
	if addr.City != "São Paulo" {
		t.Errorf("expected city 'São Paulo', got '%s'", addr.City)
	}

	var session service.DraftSession
	if code := call(t, router, http.MethodPost, "/v1/drafts", seller.AccessToken, nil, &session); code != http.StatusCreated {
		t.Fatalf("open draft: expected 201, got %d", code)
	}
	form := domain.CustomerData{
		domain.FieldName:     "Ana Silva",
		domain.FieldDocument: "123.456.789-09",
		"cep":                addr.CEP,
		"cidade":             addr.City,
	}
	if code := call(t, router, http.MethodPut, "/v1/drafts/"+session.FormID, seller.AccessToken, domain.SaveDraftRequest{CustomerData: form}, nil); code != http.StatusAccepted {
		t.Fatalf("save draft: expected 202, got %d", code)
	}

	var submitted struct {
		Sale domain.Sale `json:"sale"`
	}
	if code := call(t, router, http.MethodPost, "/v1/drafts/"+session.FormID+"/submit", seller.AccessToken, nil, &submitted); code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d", code)
	}
	if submitted.Sale.Status != domain.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", submitted.Sale.Status)
	}
	if got := submitted.Sale.CustomerData.String("cidade"); got != "São Paulo" {
		t.Errorf("expected cidade to be saved, got '%s'", got)
	}

	// --- Review ---
	saleID := submitted.Sale.ID
	for _, target := range []domain.SaleStatus{domain.StatusAnalyzed, domain.StatusFinished} {
		code := call(t, router, http.MethodPost, "/v1/sales/"+saleID+"/transitions", admin.AccessToken,
			domain.TransitionRequest{Status: target}, nil)
		if code != http.StatusOK {
			t.Fatalf("transition to %s: expected 200, got %d", target, code)
		}
	}

	var summary domain.DashboardSummary
	if code := call(t, router, http.MethodGet, "/v1/dashboard", admin.AccessToken, nil, &summary); code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", code)
	}
	if summary.ByStatus[domain.StatusFinished] != 1 {
		t.Errorf("expected 1 finished sale, got %d", summary.ByStatus[domain.StatusFinished])
	}

	var metrics domain.WorkflowMetrics
	call(t, router, http.MethodGet, "/v1/metrics/workflow", admin.AccessToken, nil, &metrics)
	if metrics.TransitionsSucceeded != 3 {
		t.Errorf("expected 3 successful transitions, got %v", metrics.TransitionsSucceeded)
	}
}

// TestIntegration_CEPNotFound maps the ViaCEP error flag to 404.
func TestIntegration_CEPNotFound(t *testing.T) {
	viaCEP := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"erro": true}`))
	}))
	defer viaCEP.Close()

	router := newStack(t, memory.New(), viaCEP.URL)
	admin := login(t, router, "admin@example.com", "admin-pass")

	if code := call(t, router, http.MethodGet, "/v1/address/99999-999", admin.AccessToken, nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

// TestIntegration_SupabaseOutage checks that a failing PostgREST surfaces as 503, not 500.
func TestIntegration_SupabaseOutage(t *testing.T) {
	postgrest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer postgrest.Close()

	cfg := resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond}
	st := supabase.NewClient(
		&http.Client{Timeout: 2 * time.Second},
		postgrest.URL, "anon", "service",
		resilience.NewCircuitBreaker("supabase-test", supabase.Tolerable),
		cfg, zap.NewNop(),
	)
	router := newStack(t, st, "http://127.0.0.1:0")

	code := call(t, router, http.MethodPost, "/v1/auth/login", "", domain.LoginRequest{Email: "admin@example.com", Password: "admin-pass"}, nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("login: expected 503, got %d", code)
	}

	var health domain.HealthStatus
	call(t, router, http.MethodGet, "/healthz", "", nil, &health)
	if health.Status != "degraded" {
		t.Errorf("expected degraded health, got '%s'", health.Status)
	}
	if code := call(t, router, http.MethodGet, "/readyz", "", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("readyz: expected 503, got %d", code)
	}
}

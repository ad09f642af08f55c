package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether a backing dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups what the router serves. A nil Auth disables every /v1 route
// except the operational endpoints.
type Services struct {
	Auth      *service.AuthService
	Perms     *service.PermissionRegistry
	Engine    *service.LifecycleEngine
	Drafts    *service.AutosaveCoordinator
	Views     *service.ViewManager
	Dashboard *service.DashboardService
	Address   *service.AddressService
	Store     Pinger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.AccessLog(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Store))
	r.Get("/readyz", readyzHandler(svc.Store))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if svc.Auth == nil {
			r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			}))
			return
		}

		// =============================================
		// Autenticação (public)
		// =============================================
		r.Post("/auth/register", authRegisterHandler(svc.Auth, logger))
		r.Post("/auth/login", authLoginHandler(svc.Auth, logger))

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svc.Auth, logger))

			r.Get("/auth/me", authMeHandler(svc.Perms))

			// =============================================
			// Vendas
			// =============================================
			r.Get("/sales", listSalesHandler(svc.Engine, logger))
			r.Get("/sales/{saleId}", getSaleHandler(svc.Engine, logger))
			r.Post("/sales/{saleId}/transitions", transitionHandler(svc.Engine, logger))
			r.Delete("/sales/{saleId}", deleteDraftHandler(svc.Engine, logger))

			// =============================================
			// Rascunhos (autosave)
			// =============================================
			r.Post("/drafts", openDraftHandler(svc.Drafts, logger))
			r.Put("/drafts/{formId}", saveDraftHandler(svc.Drafts, logger))
			r.Post("/drafts/{formId}/submit", submitDraftHandler(svc.Drafts, logger))
			r.Delete("/drafts/{formId}", closeDraftHandler(svc.Drafts, logger))

			// =============================================
			// Listagens sincronizadas
			// =============================================
			r.Post("/views", openViewHandler(svc.Views, logger))
			r.Get("/views/{viewId}", getViewHandler(svc.Views, logger))
			r.Delete("/views/{viewId}", closeViewHandler(svc.Views, logger))

			// =============================================
			// Administração
			// =============================================
			r.Get("/permissions", listPermissionsHandler(svc.Perms, logger))
			r.Put("/permissions/{role}", setPermissionsHandler(svc.Perms, logger))
			r.Get("/users", listUsersHandler(svc.Auth, logger))
			r.Post("/users/{userId}/confirm", confirmUserHandler(svc.Auth, logger))
			r.Put("/users/{userId}/role", changeRoleHandler(svc.Auth, logger))
			r.Delete("/users/{userId}", deleteUserHandler(svc.Auth, logger))

			// =============================================
			// Painel, endereço e métricas
			// =============================================
			r.Get("/dashboard", dashboardHandler(svc.Dashboard, logger))
			r.Get("/address/{cep}", addressHandler(svc.Address, logger))
			r.Get("/metrics/workflow", workflowMetricsHandler(metrics))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "sales-intake", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(r.Context())
			status := "healthy"
			if err != nil {
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "store", Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overall := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overall = s.Status
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func workflowMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}

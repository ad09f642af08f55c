package handler

import (
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func dashboardHandler(dash *service.DashboardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		summary, err := dash.Summary(ctx, ActorFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func addressHandler(addr *service.AddressService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/address/{cep}")
		defer span.End()

		if addr == nil {
			writeError(w, http.StatusServiceUnavailable, "address lookup unavailable")
			return
		}

		address, err := addr.Lookup(ctx, chi.URLParam(r, "cep"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, address)
	}
}

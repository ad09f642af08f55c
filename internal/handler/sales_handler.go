package handler

import (
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Vendas
// ============================================================

type saleResponse struct {
	Sale         *domain.Sale         `json:"sale"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

type saleListResponse struct {
	Sales []domain.Sale `json:"sales"`
	Total int           `json:"total"`
}

func listSalesHandler(engine *service.LifecycleEngine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sales")
		defer span.End()

		sales, err := engine.VisibleSales(ctx, ActorFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, saleListResponse{Sales: sales, Total: len(sales)})
	}
}

func getSaleHandler(engine *service.LifecycleEngine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sales/{saleId}")
		defer span.End()

		saleID := chi.URLParam(r, "saleId")
		span.SetAttributes(attribute.String("sale.id", saleID))

		sale, err := engine.GetSale(ctx, ActorFromContext(ctx), saleID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, saleResponse{Sale: sale})
	}
}

func transitionHandler(engine *service.LifecycleEngine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sales/{saleId}/transitions")
		defer span.End()

		saleID := chi.URLParam(r, "saleId")
		var req domain.TransitionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		span.SetAttributes(
			attribute.String("sale.id", saleID),
			attribute.String("sale.target", string(req.Status)),
		)

		sale, err := engine.TransitionByID(ctx, ActorFromContext(ctx), saleID, req.Status, req.Reason)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var from domain.SaleStatus
		if n := len(sale.StatusHistory); n >= 2 {
			from = sale.StatusHistory[n-2].Status
		}
		notice := service.TransitionNotice(from, sale.Status)
		writeJSON(w, http.StatusOK, saleResponse{Sale: sale, Notification: &notice})
	}
}

func deleteDraftHandler(engine *service.LifecycleEngine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/sales/{saleId}")
		defer span.End()

		saleID := chi.URLParam(r, "saleId")
		if err := engine.DeleteDraft(ctx, ActorFromContext(ctx), saleID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"notification": domain.Success("Rascunho excluído"),
		})
	}
}

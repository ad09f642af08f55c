package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Rascunhos: each form session owns one debounced autosave.
// ============================================================

func openDraftHandler(drafts *service.AutosaveCoordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/drafts")
		defer span.End()

		// The body is optional: an empty one starts a new form.
		var req domain.OpenDraftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		session, err := drafts.Open(ctx, ActorFromContext(ctx), req.SaleID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, session)
	}
}

func saveDraftHandler(drafts *service.AutosaveCoordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/drafts/{formId}")
		defer span.End()

		var req domain.SaveDraftRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		session, err := drafts.Save(ActorFromContext(ctx), chi.URLParam(r, "formId"), req.CustomerData)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusAccepted, session)
	}
}

func submitDraftHandler(drafts *service.AutosaveCoordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/drafts/{formId}/submit")
		defer span.End()

		sale, err := drafts.Submit(ctx, ActorFromContext(ctx), chi.URLParam(r, "formId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		notice := service.TransitionNotice(domain.StatusDraft, sale.Status)
		writeJSON(w, http.StatusOK, saleResponse{Sale: sale, Notification: &notice})
	}
}

func closeDraftHandler(drafts *service.AutosaveCoordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := drafts.Close(ActorFromContext(ctx), chi.URLParam(r, "formId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error        string              `json:"error"`
	Notification domain.Notification `json:"notification"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Notification: domain.Warning(msg)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeJSON reads the request body into dst. On failure it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var unavailable *domain.ErrStoreUnavailable
	var validation *domain.ErrValidation
	var denied *domain.ErrPermissionDenied
	var invalidTransition *domain.ErrInvalidTransition
	var invalidState *domain.ErrInvalidState
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unavailable):
		logger.Error("store unavailable", zap.String("service", unavailable.Service), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Serviço temporariamente indisponível. Tente novamente.")
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, validation.Message)
	case errors.As(err, &denied):
		logger.Warn("permission denied", zap.String("action", denied.Action))
		writeError(w, http.StatusForbidden, "Você não tem permissão para esta ação")
	case errors.As(err, &invalidTransition):
		logger.Debug("invalid transition",
			zap.String("from", string(invalidTransition.From)),
			zap.String("to", string(invalidTransition.To)),
		)
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalidState):
		logger.Debug("invalid state", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

package handler

import (
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Autenticação
// ============================================================

func authRegisterHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/register")
		defer span.End()

		var req domain.RegisterRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		user, err := authSvc.Register(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"user":         user,
			"notification": domain.Success("Cadastro realizado. Aguarde a confirmação do administrador."),
		})
	}
}

func authLoginHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		var req domain.LoginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		resp, err := authSvc.Login(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

type meResponse struct {
	Actor       *domain.Actor       `json:"actor"`
	Permissions []domain.Permission `json:"permissions"`
}

func authMeHandler(perms *service.PermissionRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		writeJSON(w, http.StatusOK, meResponse{
			Actor:       actor,
			Permissions: perms.Get(actor.Role).Slice(),
		})
	}
}

package handler

import (
	"fmt"
	"net/http"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Administração: permissions and users
// ============================================================

func listPermissionsHandler(perms *service.PermissionRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := ActorFromContext(r.Context())
		if !perms.Check(actor, domain.PermAccessAdminPanel) {
			handleServiceError(w, &domain.ErrPermissionDenied{Action: "list permissions"}, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": perms.Snapshot()})
	}
}

func setPermissionsHandler(perms *service.PermissionRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/permissions/{role}")
		defer span.End()

		role, err := domain.ParseRole(chi.URLParam(r, "role"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var req domain.SetPermissionsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		parsed := make([]domain.Permission, 0, len(req.Permissions))
		for _, name := range req.Permissions {
			p, err := domain.ParsePermission(name)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			parsed = append(parsed, p)
		}

		set, err := perms.Set(ctx, ActorFromContext(ctx), role, parsed)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"role":         role,
			"permissions":  set.Slice(),
			"notification": domain.Success(fmt.Sprintf("Permissões de %s atualizadas", role)),
		})
	}
}

func listUsersHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/users")
		defer span.End()

		users, err := authSvc.ListUsers(ctx, ActorFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users, "total": len(users)})
	}
}

func confirmUserHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/users/{userId}/confirm")
		defer span.End()

		if err := authSvc.ConfirmUser(ctx, ActorFromContext(ctx), chi.URLParam(r, "userId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notification": domain.Success("Usuário confirmado")})
	}
}

func changeRoleHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/users/{userId}/role")
		defer span.End()

		var req domain.ChangeRoleRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := authSvc.ChangeRole(ctx, ActorFromContext(ctx), chi.URLParam(r, "userId"), req.Role); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notification": domain.Success("Perfil atualizado")})
	}
}

func deleteUserHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/users/{userId}")
		defer span.End()

		if err := authSvc.DeleteUser(ctx, ActorFromContext(ctx), chi.URLParam(r, "userId")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notification": domain.Success("Usuário excluído")})
	}
}

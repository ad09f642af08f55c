package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"go.uber.org/zap"
)

type actorCtxKey struct{}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, string) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", "Token de autenticação não fornecido"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", "Formato de token inválido"
	}
	return strings.TrimSpace(token), ""
}

// JWTAuthMiddleware resolves the Bearer token into the session Actor that
// every service call receives explicitly.
func JWTAuthMiddleware(authSvc *service.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, problem := bearerToken(r)
			if problem != "" {
				logger.Debug("auth: rejected request", zap.String("path", r.URL.Path), zap.String("reason", problem))
				writeError(w, http.StatusUnauthorized, problem)
				return
			}

			claims, err := authSvc.ValidateAccessToken(token)
			if err != nil {
				logger.Warn("auth: invalid or expired token", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			actor := claims.Actor()
			observability.AnnotateRequest(r.Context(),
				zap.String("actor", actor.UserID),
				zap.String("role", string(actor.Role)),
			)
			ctx := context.WithValue(r.Context(), actorCtxKey{}, &actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the authenticated actor, or nil.
func ActorFromContext(ctx context.Context) *domain.Actor {
	actor, _ := ctx.Value(actorCtxKey{}).(*domain.Actor)
	return actor
}

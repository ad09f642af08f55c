// Package service holds the workflow services: permission registry, lifecycle
// engine, draft autosave, synchronization pollers, users and dashboard.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const bcryptCost = 12

// AuthService handles registration, login, JWT validation and the admin
// user operations.
type AuthService struct {
	users      port.UserStore
	perms      *PermissionRegistry
	jwtSecret  []byte
	accessTTL  time.Duration
	bcryptCost int
	logger     *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(users port.UserStore, perms *PermissionRegistry, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:      users,
		perms:      perms,
		jwtSecret:  []byte(jwtSecret),
		accessTTL:  accessTTL,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// WithBcryptCost overrides the hashing cost (tests use bcrypt.MinCost).
func (s *AuthService) WithBcryptCost(cost int) *AuthService {
	s.bcryptCost = cost
	return s
}

// ============================================================
// Register: POST /v1/auth/register
// ============================================================

// Register creates an unconfirmed SELLER. An admin must confirm it before login.
func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.User, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, &domain.User{
		Name:         req.Name,
		Email:        req.Email,
		Role:         domain.RoleSeller,
		Confirmed:    false,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
	)
	return user, nil
}

// ============================================================
// Login: POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.email", req.Email))

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: invalid password", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
	}
	if !user.Confirmed {
		s.logger.Warn("login: user not confirmed", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "Cadastro aguardando confirmação do administrador"}
	}

	token, err := s.signAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &domain.LoginResponse{
		AccessToken:     token,
		ExpiresIn:       int(s.accessTTL.Seconds()),
		User:            user,
		IsAuthenticated: true,
	}, nil
}

// ============================================================
// Admin user operations: /v1/users
// ============================================================

func (s *AuthService) requireAdmin(actor *domain.Actor, action string) error {
	if !s.perms.Check(actor, domain.PermAccessAdminPanel) {
		return &domain.ErrPermissionDenied{Action: action}
	}
	return nil
}

// ListUsers returns every user.
func (s *AuthService) ListUsers(ctx context.Context, actor *domain.Actor) ([]domain.User, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.ListUsers")
	defer span.End()

	if err := s.requireAdmin(actor, "list users"); err != nil {
		return nil, err
	}
	return s.users.ListUsers(ctx)
}

// ConfirmUser allows a registered user to log in.
func (s *AuthService) ConfirmUser(ctx context.Context, actor *domain.Actor, userID string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.ConfirmUser")
	defer span.End()

	if err := s.requireAdmin(actor, "confirm user"); err != nil {
		return err
	}
	confirmed := true
	if err := s.users.UpdateUser(ctx, userID, domain.UserFields{Confirmed: &confirmed}); err != nil {
		return err
	}
	s.logger.Info("user confirmed", zap.String("user_id", userID), zap.String("by", actor.UserID))
	return nil
}

// ChangeRole assigns a new role. Admins cannot change their own role.
func (s *AuthService) ChangeRole(ctx context.Context, actor *domain.Actor, userID string, role string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.ChangeRole")
	defer span.End()

	if err := s.requireAdmin(actor, "change role"); err != nil {
		return err
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return err
	}
	if userID == actor.UserID {
		return &domain.ErrValidation{Field: "role", Message: "não é possível alterar o próprio perfil"}
	}
	if err := s.users.UpdateUser(ctx, userID, domain.UserFields{Role: &parsed}); err != nil {
		return err
	}
	s.logger.Info("user role changed",
		zap.String("user_id", userID),
		zap.String("role", string(parsed)),
		zap.String("by", actor.UserID),
	)
	return nil
}

// DeleteUser removes a user. Admins cannot delete themselves.
func (s *AuthService) DeleteUser(ctx context.Context, actor *domain.Actor, userID string) error {
	ctx, span := authTracer.Start(ctx, "AuthService.DeleteUser")
	defer span.End()

	if err := s.requireAdmin(actor, "delete user"); err != nil {
		return err
	}
	if userID == actor.UserID {
		return &domain.ErrValidation{Field: "userId", Message: "não é possível excluir o próprio usuário"}
	}
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.String("user_id", userID), zap.String("by", actor.UserID))
	return nil
}

// BootstrapAdmin makes sure a confirmed ADMIN with email exists.
// An existing user with that e-mail is promoted and confirmed.
func (s *AuthService) BootstrapAdmin(ctx context.Context, name, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		role := domain.RoleAdmin
		confirmed := true
		if existing.Role == role && existing.Confirmed {
			return nil
		}
		return s.users.UpdateUser(ctx, existing.ID, domain.UserFields{Role: &role, Confirmed: &confirmed})
	case !domain.IsNotFound(err):
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, &domain.User{
		Name:         name,
		Email:        email,
		Role:         domain.RoleAdmin,
		Confirmed:    true,
		PasswordHash: string(hash),
	})
	var conflict *domain.ErrConflict
	if errors.As(err, &conflict) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", user.ID), zap.String("email", email))
	return nil
}

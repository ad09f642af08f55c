package service

import (
	"context"
	"sync"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/port"

	"go.uber.org/zap"
)

// PermissionRegistry maps each role to its permission set.
// Roles without an explicit entry fall back to domain.DefaultPermissions,
// so configuring one role never blanks the others.
type PermissionRegistry struct {
	store  port.PermissionStore
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[domain.Role]domain.PermissionSet
}

// NewPermissionRegistry creates a registry holding only the defaults.
func NewPermissionRegistry(store port.PermissionStore, logger *zap.Logger) *PermissionRegistry {
	return &PermissionRegistry{
		store:   store,
		logger:  logger,
		entries: make(map[domain.Role]domain.PermissionSet),
	}
}

// Load reads the persisted mapping. Unknown roles and permissions are
// skipped; on a store failure the current entries are kept.
func (r *PermissionRegistry) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "PermissionRegistry.Load")
	defer span.End()

	rows, err := r.store.LoadRolePermissions(ctx)
	if err != nil {
		r.logger.Warn("permissions: load failed, keeping current entries", zap.Error(err))
		return err
	}

	entries := make(map[domain.Role]domain.PermissionSet, len(rows))
	for _, row := range rows {
		role, err := domain.ParseRole(row.Role)
		if err != nil {
			r.logger.Warn("permissions: skipping unknown role", zap.String("role", row.Role))
			continue
		}
		set := domain.NewPermissionSet()
		for _, name := range row.Permissions {
			p, err := domain.ParsePermission(name)
			if err != nil {
				r.logger.Warn("permissions: skipping unknown permission",
					zap.String("role", row.Role),
					zap.String("permission", name),
				)
				continue
			}
			set[p] = struct{}{}
		}
		entries[role] = set
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.logger.Info("permissions loaded", zap.Int("roles", len(entries)))
	return nil
}

// Get returns the permissions of role. It never fails.
func (r *PermissionRegistry) Get(role domain.Role) domain.PermissionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if set, ok := r.entries[role]; ok {
		return set.Clone()
	}
	return domain.DefaultPermissions(role)
}

// Check reports whether actor holds perm. Unauthenticated actors hold nothing.
func (r *PermissionRegistry) Check(actor *domain.Actor, perm domain.Permission) bool {
	if !actor.Authenticated() {
		return false
	}
	return r.Get(actor.Role).Has(perm)
}

// Set replaces the entry of one role. The caller needs access_admin_panel.
// The store is written first; the in-memory entry changes only on success.
func (r *PermissionRegistry) Set(ctx context.Context, actor *domain.Actor, role domain.Role, perms []domain.Permission) (domain.PermissionSet, error) {
	ctx, span := tracer.Start(ctx, "PermissionRegistry.Set")
	defer span.End()

	if !r.Check(actor, domain.PermAccessAdminPanel) {
		return nil, &domain.ErrPermissionDenied{Action: "configure permissions"}
	}
	if !role.IsValid() {
		return nil, &domain.ErrValidation{Field: "role", Message: "unknown role"}
	}
	for _, p := range perms {
		if !p.IsValid() {
			return nil, &domain.ErrValidation{Field: "permissions", Message: "unknown permission '" + string(p) + "'"}
		}
	}
	// An admin cannot lock every admin out of the panel.
	set := domain.NewPermissionSet(perms...)
	if role == domain.RoleAdmin && !set.Has(domain.PermAccessAdminPanel) {
		return nil, &domain.ErrValidation{Field: "permissions", Message: "ADMIN must keep access_admin_panel"}
	}

	names := make([]string, 0, len(set))
	for _, p := range set.Slice() {
		names = append(names, string(p))
	}
	if err := r.store.SaveRolePermissions(ctx, domain.RolePermissions{Role: string(role), Permissions: names}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[role] = set
	r.mu.Unlock()

	r.logger.Info("permissions updated",
		zap.String("role", string(role)),
		zap.Strings("permissions", names),
		zap.String("by", actor.UserID),
	)
	return set.Clone(), nil
}

// Snapshot returns the effective mapping of every role.
func (r *PermissionRegistry) Snapshot() []domain.RolePermissions {
	out := make([]domain.RolePermissions, 0, len(domain.Roles()))
	for _, role := range domain.Roles() {
		perms := r.Get(role).Slice()
		names := make([]string, len(perms))
		for i, p := range perms {
			names[i] = string(p)
		}
		out = append(out, domain.RolePermissions{Role: string(role), Permissions: names})
	}
	return out
}

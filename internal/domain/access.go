package domain

import (
	"fmt"
	"slices"
	"strings"
)

// ============================================================
// Roles & Permissions
// ============================================================

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleSeller  Role = "SELLER"
)

// Roles lists every role in display order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleSeller}
}

func (r Role) String() string {
	return string(r)
}

// IsValid checks if the Role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSeller:
		return true
	default:
		return false
	}
}

// ParseRole accepts any casing ("seller", "SELLER").
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", &ErrValidation{Field: "role", Message: fmt.Sprintf("unknown role '%s'", s)}
	}
	return r, nil
}

// Permission is a named capability held by roles.
type Permission string

const (
	PermViewOwnSales     Permission = "view_own_sales"
	PermViewAllSales     Permission = "view_all_sales"
	PermCreateSales      Permission = "create_sales"
	PermApproveSales     Permission = "approve_sales"
	PermAccessAdminPanel Permission = "access_admin_panel"
	PermViewDashboard    Permission = "view_dashboard"
)

// Permissions lists every known permission.
func Permissions() []Permission {
	return []Permission{
		PermViewOwnSales,
		PermViewAllSales,
		PermCreateSales,
		PermApproveSales,
		PermAccessAdminPanel,
		PermViewDashboard,
	}
}

func (p Permission) IsValid() bool {
	return slices.Contains(Permissions(), p)
}

// ParsePermission validates a permission name coming from the store or an API payload.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", &ErrValidation{Field: "permissions", Message: fmt.Sprintf("unknown permission '%s'", s)}
	}
	return p, nil
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set, dropping duplicates.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the permissions sorted by name.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// DefaultPermissions returns the built-in permission set for a role.
// It is the fallback whenever no explicit entry was configured.
func DefaultPermissions(role Role) PermissionSet {
	switch role {
	case RoleAdmin:
		return NewPermissionSet(Permissions()...)
	case RoleManager:
		return NewPermissionSet(PermViewAllSales, PermApproveSales, PermViewDashboard)
	case RoleSeller:
		return NewPermissionSet(PermViewOwnSales, PermCreateSales, PermViewDashboard)
	default:
		return NewPermissionSet()
	}
}

// RolePermissions is one persisted row of the role → permissions mapping.
type RolePermissions struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Actor is the authenticated caller of an engine operation.
// It is always passed explicitly; nothing is looked up from ambient state.
type Actor struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
}

// Authenticated reports whether the actor carries an identity.
func (a *Actor) Authenticated() bool {
	return a != nil && a.UserID != ""
}

// SetPermissionsRequest is the body for PUT /v1/permissions/{role}.
type SetPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

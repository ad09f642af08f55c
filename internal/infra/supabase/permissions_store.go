package supabase

import (
	"context"

	"github.com/boddenberg/sales-intake-go/internal/domain"
)

const rolePermissionsTable = "role_permissions"

// LoadRolePermissions reads every role → permissions row.
func (c *Client) LoadRolePermissions(ctx context.Context) ([]domain.RolePermissions, error) {
	ctx, span := tracer.Start(ctx, "Supabase.LoadRolePermissions")
	defer span.End()

	var out []domain.RolePermissions
	err := c.call(ctx, "load_role_permissions", func() error {
		body, err := c.get(ctx, rolePermissionsTable+"?select=role,permissions")
		if err != nil {
			return err
		}
		rows, err := decodeRows[domain.RolePermissions](body, "role_permissions")
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// SaveRolePermissions upserts the row of one role.
func (c *Client) SaveRolePermissions(ctx context.Context, row domain.RolePermissions) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveRolePermissions")
	defer span.End()

	payload := map[string]any{
		"role":        row.Role,
		"permissions": row.Permissions,
	}
	return c.call(ctx, "save_role_permissions", func() error {
		return c.upsert(ctx, rolePermissionsTable, "role", payload)
	})
}

package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
)

// ============================================================
// Users store
// ============================================================

const usersTable = "users"

// userRow carries the password hash, which the domain model never serializes.
type userRow struct {
	ID           string      `json:"id,omitempty"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Role         domain.Role `json:"role"`
	Confirmed    bool        `json:"confirmed"`
	PasswordHash string      `json:"password_hash"`
	CreatedAt    *time.Time  `json:"created_at,omitempty"`
}

func (r userRow) toDomain() domain.User {
	u := domain.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		Role:         r.Role,
		Confirmed:    r.Confirmed,
		PasswordHash: r.PasswordHash,
	}
	if r.CreatedAt != nil {
		u.CreatedAt = *r.CreatedAt
	}
	return u
}

// CreateUser inserts a user; a duplicate e-mail yields *domain.ErrConflict.
func (c *Client) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateUser")
	defer span.End()

	row := userRow{
		Name:         user.Name,
		Email:        strings.ToLower(user.Email),
		Role:         user.Role,
		Confirmed:    user.Confirmed,
		PasswordHash: user.PasswordHash,
	}

	var created *domain.User
	err := c.call(ctx, "create_user", func() error {
		body, err := c.insert(ctx, usersTable, row)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.Status == http.StatusConflict {
				return &domain.ErrConflict{Message: "email already registered"}
			}
			return err
		}
		rows, err := decodeRows[userRow](body, "user")
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fatal(fmt.Errorf("no result from users insert"))
		}
		u := rows[0].toDomain()
		created = &u
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return created, nil
}

func (c *Client) getUser(ctx context.Context, op, column, value string) (*domain.User, error) {
	var user *domain.User
	err := c.call(ctx, op, func() error {
		body, err := c.get(ctx, eq(usersTable, column, value)+"&select=*")
		if err != nil {
			return err
		}
		rows, err := decodeRows[userRow](body, "user")
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "user", ID: value}
		}
		u := rows[0].toDomain()
		user = &u
		return nil
	})
	return user, err
}

// GetUserByID fetches one user by id.
func (c *Client) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByID")
	defer span.End()
	return c.getUser(ctx, "get_user", "id", id)
}

// GetUserByEmail fetches one user by e-mail (case-insensitive).
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUserByEmail")
	defer span.End()
	return c.getUser(ctx, "get_user_by_email", "email", strings.ToLower(email))
}

// ListUsers returns every user, oldest first.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListUsers")
	defer span.End()

	var users []domain.User
	err := c.call(ctx, "list_users", func() error {
		body, err := c.get(ctx, usersTable+"?select=*&order=created_at.asc")
		if err != nil {
			return err
		}
		rows, err := decodeRows[userRow](body, "users")
		if err != nil {
			return err
		}
		users = make([]domain.User, 0, len(rows))
		for _, r := range rows {
			users = append(users, r.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUser applies an admin change to one user.
func (c *Client) UpdateUser(ctx context.Context, id string, fields domain.UserFields) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateUser")
	defer span.End()

	row := map[string]any{}
	if fields.Role != nil {
		row["role"] = *fields.Role
	}
	if fields.Confirmed != nil {
		row["confirmed"] = *fields.Confirmed
	}
	if len(row) == 0 {
		return nil
	}

	return c.call(ctx, "update_user", func() error {
		body, err := c.patch(ctx, eq(usersTable, "id", id), row)
		if err != nil {
			return err
		}
		if emptyRows(body) {
			return &domain.ErrNotFound{Resource: "user", ID: id}
		}
		return nil
	})
}

// DeleteUser removes one user.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteUser")
	defer span.End()

	return c.call(ctx, "delete_user", func() error {
		body, err := c.remove(ctx, eq(usersTable, "id", id))
		if err != nil {
			return err
		}
		if emptyRows(body) {
			return &domain.ErrNotFound{Resource: "user", ID: id}
		}
		return nil
	})
}

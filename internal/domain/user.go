package domain

import "time"

// ============================================================
// Users
// ============================================================

// User is an account of the intake application.
// Registration always creates an unconfirmed SELLER; only an admin
// confirms, changes the role or deletes it.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	Confirmed    bool      `json:"confirmed"`
	CreatedAt    time.Time `json:"created_at"`
	PasswordHash string    `json:"-"`
}

// Actor returns the session identity of the user.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Name: u.Name, Role: u.Role}
}

// UserFields is a partial admin update of a user.
type UserFields struct {
	Role      *Role
	Confirmed *bool
}

// RegisterRequest is the body for POST /v1/auth/register.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the access token and the session record.
type LoginResponse struct {
	AccessToken     string `json:"accessToken"`
	ExpiresIn       int    `json:"expiresIn"`
	User            *User  `json:"user"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// ChangeRoleRequest is the body for PUT /v1/users/{userId}/role.
type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

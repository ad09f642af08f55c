// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the workflow
// services from the concrete store and lookup implementations.
package port

import (
	"context"

	"github.com/boddenberg/sales-intake-go/internal/domain"
)

// SaleStore is the record store collaborator for Sales.
// Implementations return *domain.ErrNotFound for missing rows and
// *domain.ErrStoreUnavailable for transient failures.
type SaleStore interface {
	CreateSale(ctx context.Context, sale *domain.Sale) (string, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, id string, fields domain.SaleFields) error
	DeleteSale(ctx context.Context, id string) error
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
}

// PermissionStore persists the role → permissions mapping.
type PermissionStore interface {
	LoadRolePermissions(ctx context.Context) ([]domain.RolePermissions, error)
	SaveRolePermissions(ctx context.Context, row domain.RolePermissions) error
}

// UserStore persists application users.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, id string, fields domain.UserFields) error
	DeleteUser(ctx context.Context, id string) error
}

// AddressLookup resolves a Brazilian CEP into an address.
type AddressLookup interface {
	LookupCEP(ctx context.Context, cep string) (*domain.Address, error)
}

// Cache keeps lookup results for a TTL. GetOrLoad reports hit=true when
// the value was served without calling load; load errors are not cached.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (value T, hit bool, err error)
}

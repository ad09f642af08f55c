// Package memory implements the record store in process memory.
// Used for local runs (STORE_DRIVER=memory) and as the fake store in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"

	"github.com/google/uuid"
)

// Operation names accepted by FailOn and Calls.
const (
	OpCreateSale          = "CreateSale"
	OpGetSale             = "GetSale"
	OpUpdateSale          = "UpdateSale"
	OpDeleteSale          = "DeleteSale"
	OpListSales           = "ListSales"
	OpLoadRolePermissions = "LoadRolePermissions"
	OpSaveRolePermissions = "SaveRolePermissions"
	OpCreateUser          = "CreateUser"
	OpGetUser             = "GetUser"
	OpListUsers           = "ListUsers"
	OpUpdateUser          = "UpdateUser"
	OpDeleteUser          = "DeleteUser"
)

// Store implements port.SaleStore, port.PermissionStore and port.UserStore.
// Every value crossing the boundary is copied.
type Store struct {
	mu       sync.RWMutex
	sales    map[string]*domain.Sale
	perms    map[string][]string
	users    map[string]*domain.User
	failures map[string]error
	calls    map[string]int
	now      func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		sales:    make(map[string]*domain.Sale),
		perms:    make(map[string][]string),
		users:    make(map[string]*domain.User),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Unavailable is a ready-made transient failure for FailOn.
func Unavailable(op string) error {
	return &domain.ErrStoreUnavailable{Service: "memory/" + op, Err: context.DeadlineExceeded}
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// enter records the call; the caller holds s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

// ============================================================
// Sales
// ============================================================

// CreateSale stores sale. Creating an id that already exists is a no-op.
func (s *Store) CreateSale(_ context.Context, sale *domain.Sale) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateSale); err != nil {
		return "", err
	}
	stored := sale.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, ok := s.sales[stored.ID]; ok {
		return stored.ID, nil
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.sales[stored.ID] = stored
	return stored.ID, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetSale); err != nil {
		return nil, err
	}
	sale, ok := s.sales[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "sale", ID: id}
	}
	return sale.Clone(), nil
}

func (s *Store) UpdateSale(_ context.Context, id string, fields domain.SaleFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateSale); err != nil {
		return err
	}
	sale, ok := s.sales[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "sale", ID: id}
	}
	fields.Apply(sale)
	return nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeleteSale); err != nil {
		return err
	}
	if _, ok := s.sales[id]; !ok {
		return &domain.ErrNotFound{Resource: "sale", ID: id}
	}
	delete(s.sales, id)
	return nil
}

// ListSales returns matching sales, newest first.
func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListSales); err != nil {
		return nil, err
	}
	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Matches(sale) {
			out = append(out, *sale.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ============================================================
// Role permissions
// ============================================================

func (s *Store) LoadRolePermissions(context.Context) ([]domain.RolePermissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpLoadRolePermissions); err != nil {
		return nil, err
	}
	out := make([]domain.RolePermissions, 0, len(s.perms))
	for role, perms := range s.perms {
		out = append(out, domain.RolePermissions{Role: role, Permissions: append([]string(nil), perms...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (s *Store) SaveRolePermissions(_ context.Context, row domain.RolePermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSaveRolePermissions); err != nil {
		return err
	}
	s.perms[row.Role] = append([]string(nil), row.Permissions...)
	return nil
}

// ============================================================
// Users
// ============================================================

func (s *Store) CreateUser(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateUser); err != nil {
		return nil, err
	}
	email := strings.ToLower(user.Email)
	for _, u := range s.users {
		if u.Email == email {
			return nil, &domain.ErrConflict{Message: "email already registered"}
		}
	}
	stored := *user
	stored.Email = email
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.users[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetUser); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	out := *u
	return &out, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetUser); err != nil {
		return nil, err
	}
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: email}
}

// ListUsers returns every user, oldest first.
func (s *Store) ListUsers(context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListUsers); err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, id string, fields domain.UserFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateUser); err != nil {
		return err
	}
	u, ok := s.users[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "user", ID: id}
	}
	if fields.Role != nil {
		u.Role = *fields.Role
	}
	if fields.Confirmed != nil {
		u.Confirmed = *fields.Confirmed
	}
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDeleteUser); err != nil {
		return err
	}
	if _, ok := s.users[id]; !ok {
		return &domain.ErrNotFound{Resource: "user", ID: id}
	}
	delete(s.users, id)
	return nil
}

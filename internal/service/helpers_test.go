package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/memory"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	seller      = &domain.Actor{UserID: "seller-1", Name: "Carla", Role: domain.RoleSeller}
	otherSeller = &domain.Actor{UserID: "seller-2", Name: "Bruno", Role: domain.RoleSeller}
	manager     = &domain.Actor{UserID: "manager-1", Name: "Marcos", Role: domain.RoleManager}
	admin       = &domain.Actor{UserID: "admin-1", Name: "Alice", Role: domain.RoleAdmin}
)

type fixture struct {
	store   *memory.Store
	perms   *service.PermissionRegistry
	engine  *service.LifecycleEngine
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	metrics := observability.NewMetrics()
	perms := service.NewPermissionRegistry(store, zap.NewNop())
	return &fixture{
		store:   store,
		perms:   perms,
		engine:  service.NewLifecycleEngine(store, perms, metrics, zap.NewNop()),
		metrics: metrics,
	}
}

// seedSale stores a sale owned by owner that walked the forward path up to status.
func (f *fixture) seedSale(t *testing.T, owner *domain.Actor, status domain.SaleStatus, name string) *domain.Sale {
	t.Helper()
	path := []domain.SaleStatus{domain.StatusDraft, domain.StatusInProgress, domain.StatusAnalyzed, domain.StatusFinished}
	now := time.Now().UTC()
	var history []domain.StatusHistoryEntry
	for _, s := range path {
		history = append(history, domain.StatusHistoryEntry{Status: s, UpdatedBy: "seed", UpdatedAt: now})
		if s == status {
			break
		}
	}
	id, err := f.store.CreateSale(context.Background(), &domain.Sale{
		SellerID:      owner.UserID,
		SellerName:    owner.Name,
		CustomerData:  domain.CustomerData{domain.FieldName: name, domain.FieldDocument: "123.456.789-09"},
		Status:        status,
		StatusHistory: history,
		CreatedAt:     now,
	})
	require.NoError(t, err)
	return f.get(t, id)
}

func (f *fixture) get(t *testing.T, id string) *domain.Sale {
	t.Helper()
	sale, err := f.store.GetSale(context.Background(), id)
	require.NoError(t, err)
	return sale
}

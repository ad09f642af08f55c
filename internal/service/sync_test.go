package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/memory"
	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPoller(f *fixture, actor *domain.Actor, interval time.Duration) *service.SyncPoller {
	return service.NewSyncPoller(f.engine, *actor, interval, resilience.NewBulkhead(2), f.metrics, zap.NewNop())
}

func TestSyncPoller_ScopeByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.seedSale(t, seller, domain.StatusDraft, "Ana")
	submitted := f.seedSale(t, seller, domain.StatusInProgress, "Bia")
	foreign := f.seedSale(t, otherSeller, domain.StatusAnalyzed, "Caio")

	sp := newPoller(f, seller, time.Hour)
	require.NoError(t, sp.Refresh(ctx))
	assert.ElementsMatch(t, []string{draft.ID, submitted.ID}, saleIDs(sp.Sales()))

	mp := newPoller(f, manager, time.Hour)
	require.NoError(t, mp.Refresh(ctx))
	assert.ElementsMatch(t, []string{submitted.ID, foreign.ID}, saleIDs(mp.Sales()))
}

func TestSyncPoller_ReplacesCacheWholesale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedSale(t, seller, domain.StatusInProgress, "Ana")
	b := f.seedSale(t, seller, domain.StatusInProgress, "Bia")

	p := newPoller(f, manager, time.Hour)
	require.NoError(t, p.Refresh(ctx))
	require.Len(t, p.Sales(), 2)

	require.NoError(t, f.store.DeleteSale(ctx, a.ID))
	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, []string{b.ID}, saleIDs(p.Sales()))
}

func TestSyncPoller_RegressionAlertsOncePerSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, seller, domain.StatusFinished, "Ana")
	returned, err := f.engine.ApplyTransition(ctx, manager, sale, domain.StatusInProgress, "documento ilegível")
	require.NoError(t, err)

	p := newPoller(f, seller, time.Hour)
	require.NoError(t, p.Refresh(ctx))
	notes := p.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.SeverityWarning, notes[0].Severity)
	assert.Contains(t, notes[0].Message, "Ana")
	assert.Contains(t, notes[0].Message, "documento ilegível")

	require.NoError(t, p.Refresh(ctx))
	assert.Empty(t, p.Drain())

	// A later regression of the same sale does not alert again: the seen-set is never cleared.
	analyzed, err := f.engine.ApplyTransition(ctx, manager, returned, domain.StatusAnalyzed, "")
	require.NoError(t, err)
	require.NoError(t, p.Refresh(ctx))
	_, err = f.engine.ApplyTransition(ctx, manager, analyzed, domain.StatusInProgress, "assinatura faltando")
	require.NoError(t, err)
	require.NoError(t, p.Refresh(ctx))
	assert.Empty(t, p.Drain())
}

func TestSyncPoller_FailureKeepsPreviousList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSale(t, seller, domain.StatusInProgress, "Ana")

	p := newPoller(f, manager, time.Hour)
	require.NoError(t, p.Refresh(ctx))

	f.store.FailOn(memory.OpListSales, memory.Unavailable(memory.OpListSales))
	err := p.Refresh(ctx)
	assert.True(t, domain.IsRetryable(err))
	assert.Len(t, p.Sales(), 1)
	_, lastErr := p.Status()
	assert.Error(t, lastErr)
}

func TestSyncPoller_NoMutationAfterStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := newPoller(f, manager, time.Hour)
	p.Stop()

	f.seedSale(t, seller, domain.StatusInProgress, "Ana")
	err := p.Refresh(ctx)
	assert.True(t, errors.Is(err, service.ErrPollerStopped))
	assert.Empty(t, p.Sales())
}

func TestSyncPoller_LoopPollsUntilStopped(t *testing.T) {
	f := newFixture(t)
	p := newPoller(f, manager, 10*time.Millisecond)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return f.store.Calls(memory.OpListSales) >= 3 }, time.Second, 5*time.Millisecond)
	p.Stop()

	calls := f.store.Calls(memory.OpListSales)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, f.store.Calls(memory.OpListSales))
}

func newViewManager(f *fixture, idle time.Duration) *service.ViewManager {
	intervals := map[domain.Role]time.Duration{
		domain.RoleSeller:  time.Hour,
		domain.RoleManager: time.Hour,
		domain.RoleAdmin:   time.Hour,
	}
	return service.NewViewManager(f.engine, intervals, idle, resilience.NewBulkhead(4), f.metrics, zap.NewNop())
}

func TestViewManager_OpenGetClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSale(t, seller, domain.StatusInProgress, "Ana")
	m := newViewManager(f, time.Minute)
	defer m.Shutdown(ctx)

	snap, err := m.Open(ctx, manager)
	require.NoError(t, err)
	assert.Len(t, snap.Sales, 1)
	assert.False(t, snap.Stale)
	assert.Equal(t, 1, m.Len())

	_, err = m.Get(seller, snap.ViewID)
	assert.True(t, domain.IsNotFound(err), "views are private to their owner")

	again, err := m.Get(manager, snap.ViewID)
	require.NoError(t, err)
	assert.Equal(t, snap.ViewID, again.ViewID)

	require.NoError(t, m.Close(manager, snap.ViewID))
	assert.Equal(t, 0, m.Len())
	assert.True(t, domain.IsNotFound(m.Close(manager, snap.ViewID)))
}

func TestViewManager_OpenWithStoreDownIsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.FailOn(memory.OpListSales, memory.Unavailable(memory.OpListSales))
	m := newViewManager(f, time.Minute)
	defer m.Shutdown(ctx)

	snap, err := m.Open(ctx, seller)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Empty(t, snap.Sales)
}

func TestViewManager_ExpiresIdleViews(t *testing.T) {
	f := newFixture(t)
	m := newViewManager(f, 30*time.Millisecond)
	defer m.Shutdown(context.Background())

	_, err := m.Open(context.Background(), manager)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestViewManager_Shutdown(t *testing.T) {
	f := newFixture(t)
	m := newViewManager(f, time.Minute)
	for _, actor := range []*domain.Actor{seller, manager, admin} {
		_, err := m.Open(context.Background(), actor)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Len())
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/memory"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDelay = 20 * time.Millisecond

func newAutosave(f *fixture, existingID string) *service.DraftAutosave {
	return service.NewDraftAutosave(f.engine, *seller, existingID, testDelay, f.metrics, zap.NewNop())
}

func TestAutosave_EmptyIdentityNeverWrites(t *testing.T) {
	f := newFixture(t)
	a := newAutosave(f, "")
	defer a.Close()

	a.ScheduleSave(domain.CustomerData{domain.FieldName: "  ", "telefone": "11999990000"})
	time.Sleep(5 * testDelay)

	assert.Zero(t, f.store.Calls(memory.OpCreateSale))
	assert.Zero(t, f.store.Calls(memory.OpUpdateSale))
	assert.Empty(t, a.ID())
}

func TestAutosave_FirstWriteCreatesThenUpdatesSameID(t *testing.T) {
	f := newFixture(t)
	a := newAutosave(f, "")
	defer a.Close()

	a.ScheduleSave(domain.CustomerData{domain.FieldName: ""})
	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana Silva"})
	require.Eventually(t, func() bool { return a.ID() != "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.store.Calls(memory.OpCreateSale))
	id := a.ID()

	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana Silva", "telefone": "11999990000"})
	require.Eventually(t, func() bool { return f.store.Calls(memory.OpUpdateSale) == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, f.store.Calls(memory.OpCreateSale))
	assert.Equal(t, id, a.ID())
	stored := f.get(t, id)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Equal(t, "11999990000", stored.CustomerData.String("telefone"))
	assert.Equal(t, seller.UserID, stored.SellerID)
}

func TestAutosave_DebouncesToLatestEdit(t *testing.T) {
	f := newFixture(t)
	a := newAutosave(f, "")
	defer a.Close()

	for _, name := range []string{"A", "An", "Ana", "Ana S", "Ana Silva"} {
		a.ScheduleSave(domain.CustomerData{domain.FieldName: name})
	}
	require.Eventually(t, func() bool { return a.ID() != "" }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * testDelay)

	assert.Equal(t, 1, f.store.Calls(memory.OpCreateSale))
	assert.Zero(t, f.store.Calls(memory.OpUpdateSale))
	assert.Equal(t, "Ana Silva", f.get(t, a.ID()).CustomerData.String(domain.FieldName))
}

func TestAutosave_DraftWriteResetsHistory(t *testing.T) {
	f := newFixture(t)
	draft := f.seedSale(t, seller, domain.StatusDraft, "Ana")
	f.store.UpdateSale(context.Background(), draft.ID, domain.SaleFields{StatusHistory: []domain.StatusHistoryEntry{
		{Status: domain.StatusDraft}, {Status: domain.StatusDraft}, {Status: domain.StatusDraft},
	}})

	a := newAutosave(f, draft.ID)
	defer a.Close()
	a.ScheduleSave(domain.CustomerData{domain.FieldDocument: "123.456.789-09"})
	require.Eventually(t, func() bool { return f.store.Calls(memory.OpUpdateSale) == 2 }, time.Second, 5*time.Millisecond)

	stored := f.get(t, draft.ID)
	require.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, domain.StatusDraft, stored.StatusHistory[0].Status)
	assert.Equal(t, "", stored.CustomerData.String(domain.FieldName))
}

func TestAutosave_CancelPreventsWrite(t *testing.T) {
	f := newFixture(t)
	a := newAutosave(f, "")

	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana"})
	a.Cancel()
	time.Sleep(5 * testDelay)
	assert.Zero(t, f.store.Calls(memory.OpCreateSale))

	a.Close()
	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana"})
	time.Sleep(5 * testDelay)
	assert.Zero(t, f.store.Calls(memory.OpCreateSale))
}

func TestAutosave_RetriesWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn(memory.OpCreateSale, memory.Unavailable(memory.OpCreateSale))
	a := newAutosave(f, "")
	defer a.Close()

	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana"})
	require.Eventually(t, func() bool { return f.store.Calls(memory.OpCreateSale) >= 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.LastError() != nil }, time.Second, 5*time.Millisecond)

	f.store.FailOn(memory.OpCreateSale, nil)
	require.Eventually(t, func() bool { return a.ID() != "" }, time.Second, 5*time.Millisecond)
	assert.NoError(t, a.LastError())
	assert.False(t, a.Pending())
}

func TestAutosave_FlushWritesImmediately(t *testing.T) {
	f := newFixture(t)
	a := service.NewDraftAutosave(f.engine, *seller, "", time.Hour, f.metrics, zap.NewNop())
	defer a.Close()

	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana"})
	id, err := a.Flush(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, f.store.Calls(memory.OpCreateSale))
}

func TestCoordinator_SubmitMovesDraftToInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := service.NewAutosaveCoordinator(f.engine, time.Hour, f.metrics, zap.NewNop())

	session, err := c.Open(ctx, seller, "")
	require.NoError(t, err)
	_, err = c.Save(seller, session.FormID, domain.CustomerData{domain.FieldName: "Ana Silva"})
	require.NoError(t, err)

	sale, err := c.Submit(ctx, seller, session.FormID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, sale.Status)
	require.Len(t, sale.StatusHistory, 2)
	assert.Equal(t, domain.StatusDraft, sale.StatusHistory[0].Status)
	assert.Equal(t, 0, c.Len())

	_, err = c.Get(seller, session.FormID)
	assert.True(t, domain.IsNotFound(err))
}

func TestCoordinator_SubmitEmptyFormFails(t *testing.T) {
	f := newFixture(t)
	c := service.NewAutosaveCoordinator(f.engine, time.Hour, f.metrics, zap.NewNop())
	session, err := c.Open(context.Background(), seller, "")
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), seller, session.FormID)

	var validation *domain.ErrValidation
	assert.True(t, errors.As(err, &validation))
	assert.Equal(t, 1, c.Len(), "session stays open")
}

func TestCoordinator_OpenChecksDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := service.NewAutosaveCoordinator(f.engine, time.Hour, f.metrics, zap.NewNop())

	submitted := f.seedSale(t, seller, domain.StatusInProgress, "Ana")
	_, err := c.Open(ctx, seller, submitted.ID)
	var invalid *domain.ErrInvalidState
	assert.True(t, errors.As(err, &invalid))

	foreign := f.seedSale(t, otherSeller, domain.StatusDraft, "Bia")
	_, err = c.Open(ctx, seller, foreign.ID)
	var denied *domain.ErrPermissionDenied
	assert.True(t, errors.As(err, &denied))

	_, err = c.Open(ctx, manager, "")
	assert.True(t, errors.As(err, &denied))
}

func TestCoordinator_SessionsArePrivate(t *testing.T) {
	f := newFixture(t)
	c := service.NewAutosaveCoordinator(f.engine, time.Hour, f.metrics, zap.NewNop())
	session, err := c.Open(context.Background(), seller, "")
	require.NoError(t, err)

	_, err = c.Save(otherSeller, session.FormID, domain.CustomerData{domain.FieldName: "x"})
	assert.True(t, domain.IsNotFound(err))
	assert.True(t, domain.IsNotFound(c.Close(otherSeller, session.FormID)))
	assert.NoError(t, c.Close(seller, session.FormID))
}

// lostCreateStore stores the first created sale but reports the store as
// unavailable, as when the response is lost after the row landed.
type lostCreateStore struct {
	*memory.Store
	mu   sync.Mutex
	lost bool
}

func (s *lostCreateStore) CreateSale(ctx context.Context, sale *domain.Sale) (string, error) {
	id, err := s.Store.CreateSale(ctx, sale)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && !s.lost {
		s.lost = true
		return "", memory.Unavailable(memory.OpCreateSale)
	}
	return id, err
}

func TestAutosave_RetriedCreateKeepsOneDraft(t *testing.T) {
	f := newFixture(t)
	store := &lostCreateStore{Store: f.store}
	engine := service.NewLifecycleEngine(store, f.perms, f.metrics, zap.NewNop())
	a := service.NewDraftAutosave(engine, *seller, "", testDelay, f.metrics, zap.NewNop())
	defer a.Close()

	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana"})
	require.Eventually(t, func() bool { return a.ID() != "" }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, f.store.Calls(memory.OpCreateSale), 2)
	assert.NoError(t, a.LastError())

	all, err := f.store.ListSales(context.Background(), domain.FilterAll())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, a.ID(), all[0].ID)
}

func TestAutosave_StaleEditNeverRewindsSubmittedSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.seedSale(t, seller, domain.StatusDraft, "Ana")

	a := newAutosave(f, draft.ID)
	defer a.Close()
	_, err := f.engine.TransitionByID(ctx, seller, draft.ID, domain.StatusInProgress, "")
	require.NoError(t, err)
	_, err = f.engine.TransitionByID(ctx, manager, draft.ID, domain.StatusAnalyzed, "")
	require.NoError(t, err)

	reads := f.store.Calls(memory.OpGetSale)
	a.ScheduleSave(domain.CustomerData{domain.FieldName: "Ana Souza"})
	require.Eventually(t, func() bool { return !a.Pending() }, time.Second, 5*time.Millisecond)
	time.Sleep(5 * testDelay)

	var invalid *domain.ErrInvalidState
	require.True(t, errors.As(a.LastError(), &invalid), "got %v", a.LastError())
	assert.Equal(t, domain.StatusAnalyzed, invalid.State)
	assert.Equal(t, reads+1, f.store.Calls(memory.OpGetSale), "no retry after a terminal error")

	stored := f.get(t, draft.ID)
	assert.Equal(t, domain.StatusAnalyzed, stored.Status)
	assert.Len(t, stored.StatusHistory, 3)
	assert.Equal(t, "Ana", stored.CustomerData.String(domain.FieldName))
	assert.Equal(t, 2, f.store.Calls(memory.OpUpdateSale))
}

func TestCoordinator_SecondSessionCannotRewindSubmittedDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := service.NewAutosaveCoordinator(f.engine, time.Hour, f.metrics, zap.NewNop())
	draft := f.seedSale(t, seller, domain.StatusDraft, "Ana")

	first, err := c.Open(ctx, seller, draft.ID)
	require.NoError(t, err)
	second, err := c.Open(ctx, seller, draft.ID)
	require.NoError(t, err)

	_, err = c.Save(seller, second.FormID, domain.CustomerData{domain.FieldName: "Ana Antiga"})
	require.NoError(t, err)
	_, err = c.Submit(ctx, seller, first.FormID)
	require.NoError(t, err)
	_, err = f.engine.TransitionByID(ctx, manager, draft.ID, domain.StatusAnalyzed, "")
	require.NoError(t, err)

	stale, err := c.Get(seller, second.FormID)
	require.NoError(t, err)
	_, err = stale.Flush(ctx)
	var invalid *domain.ErrInvalidState
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.False(t, stale.Pending())

	stored := f.get(t, draft.ID)
	assert.Equal(t, domain.StatusAnalyzed, stored.Status)
	assert.Len(t, stored.StatusHistory, 3)
	assert.Equal(t, "Ana", stored.CustomerData.String(domain.FieldName))
}

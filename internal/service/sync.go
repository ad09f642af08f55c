package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPollerStopped is returned by Refresh once the poller was stopped.
var ErrPollerStopped = errors.New("sync poller stopped")

// SyncPoller re-lists the Sales visible to one actor on a fixed interval and
// replaces its cached list wholesale. Each Sale id raises at most one
// regression alert for the lifetime of the poller.
type SyncPoller struct {
	engine   *LifecycleEngine
	actor    domain.Actor
	interval time.Duration
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu          sync.Mutex
	sales       []domain.Sale
	seen        map[string]struct{}
	notes       []domain.Notification
	refreshedAt time.Time
	lastErr     error
	stopped     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncPoller creates a stopped poller. bulkhead may be nil.
func NewSyncPoller(engine *LifecycleEngine, actor domain.Actor, interval time.Duration, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *SyncPoller {
	return &SyncPoller{
		engine:   engine,
		actor:    actor,
		interval: interval,
		bulkhead: bulkhead,
		metrics:  metrics,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

// Start runs the poll loop until ctx is done or Stop is called.
// The first refresh happens immediately.
func (p *SyncPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopped || p.done != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			// Failures are logged and retried on the next tick.
			_ = p.Refresh(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Refresh lists the visible Sales once and updates the cache.
// On failure the previous list is kept.
func (p *SyncPoller) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "SyncPoller.Refresh")
	defer span.End()

	if p.isStopped() {
		return ErrPollerStopped
	}

	filter, err := p.engine.VisibilityFilter(&p.actor)
	if err != nil {
		return err
	}
	scope := "all"
	if filter.OwnerID != "" {
		scope = "own"
	}

	var sales []domain.Sale
	err = p.bulkhead.Do(ctx, func(ctx context.Context) error {
		var err error
		sales, err = p.engine.store.ListSales(ctx, filter)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.metrics.IncrSyncRefresh(scope, "error")
		p.logger.Warn("sync: refresh failed",
			zap.String("actor", p.actor.UserID),
			zap.Error(err),
		)
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPollerStopped
	}
	p.sales = sales
	p.refreshedAt = time.Now().UTC()
	p.lastErr = nil
	for i := range sales {
		sale := &sales[i]
		if !sale.IsRegressed() {
			continue
		}
		if _, ok := p.seen[sale.ID]; ok {
			continue
		}
		p.seen[sale.ID] = struct{}{}
		p.notes = append(p.notes, regressionAlert(sale))
		p.metrics.IncrRegressionAlert()
	}
	p.metrics.IncrSyncRefresh(scope, "success")
	return nil
}

func regressionAlert(sale *domain.Sale) domain.Notification {
	name := sale.CustomerData.String(domain.FieldName)
	if name == "" {
		name = sale.ID
	}
	msg := fmt.Sprintf("Venda de %s devolvida para correção", name)
	if sale.ReturnReason != nil && *sale.ReturnReason != "" {
		msg += ": " + *sale.ReturnReason
	}
	return domain.Warning(msg)
}

// Sales returns a copy of the cached list.
func (p *SyncPoller) Sales() []domain.Sale {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Sale, len(p.sales))
	for i := range p.sales {
		out[i] = *p.sales[i].Clone()
	}
	return out
}

// Drain returns the notifications raised since the last call and forgets them.
func (p *SyncPoller) Drain() []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.notes
	p.notes = nil
	return out
}

// Status returns the time of the last successful refresh and the latest refresh error.
func (p *SyncPoller) Status() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshedAt, p.lastErr
}

// Stop cancels the loop and waits for it to exit. The cache is frozen afterwards.
func (p *SyncPoller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *SyncPoller) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// ============================================================
// Views
// ============================================================

// ViewSnapshot is what a connected view receives on each read.
type ViewSnapshot struct {
	ViewID        string                `json:"viewId"`
	Sales         []domain.Sale         `json:"sales"`
	Notifications []domain.Notification `json:"notifications"`
	RefreshedAt   time.Time             `json:"refreshedAt"`
	Stale         bool                  `json:"stale"`
}

type view struct {
	poller     *SyncPoller
	owner      string
	lastAccess time.Time
}

// ViewManager owns one SyncPoller per open view and tears down views that
// were not read for longer than the idle timeout.
type ViewManager struct {
	engine      *LifecycleEngine
	intervals   map[domain.Role]time.Duration
	idleTimeout time.Duration
	bulkhead    *resilience.Bulkhead
	metrics     *observability.Metrics
	logger      *zap.Logger

	mu    sync.Mutex
	views map[string]*view

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewViewManager creates the manager and starts its idle-view janitor.
func NewViewManager(engine *LifecycleEngine, intervals map[domain.Role]time.Duration, idleTimeout time.Duration, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *ViewManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ViewManager{
		engine:      engine,
		intervals:   intervals,
		idleTimeout: idleTimeout,
		bulkhead:    bulkhead,
		metrics:     metrics,
		logger:      logger,
		views:       make(map[string]*view),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *ViewManager) interval(role domain.Role) time.Duration {
	if d, ok := m.intervals[role]; ok && d > 0 {
		return d
	}
	return 30 * time.Second
}

// Open starts a poller for actor and returns the first snapshot.
// A failed first refresh still opens the view; the snapshot is marked stale.
func (m *ViewManager) Open(ctx context.Context, actor *domain.Actor) (*ViewSnapshot, error) {
	ctx, span := tracer.Start(ctx, "ViewManager.Open")
	defer span.End()

	if _, err := m.engine.VisibilityFilter(actor); err != nil {
		return nil, err
	}

	viewID := uuid.NewString()
	poller := NewSyncPoller(m.engine, *actor, m.interval(actor.Role), m.bulkhead, m.metrics,
		m.logger.With(zap.String("view_id", viewID)))
	if err := poller.Refresh(ctx); err != nil && !domain.IsRetryable(err) {
		return nil, err
	}

	m.mu.Lock()
	m.views[viewID] = &view{poller: poller, owner: actor.UserID, lastAccess: time.Now()}
	n := len(m.views)
	m.mu.Unlock()

	poller.Start(m.ctx)
	m.metrics.SetActiveViews(n)
	m.logger.Info("sync: view opened",
		zap.String("view_id", viewID),
		zap.String("actor", actor.UserID),
		zap.Duration("interval", poller.interval),
	)
	return m.snapshot(viewID, poller), nil
}

// Get returns the current snapshot of a view owned by actor.
func (m *ViewManager) Get(actor *domain.Actor, viewID string) (*ViewSnapshot, error) {
	m.mu.Lock()
	v, ok := m.views[viewID]
	if ok && actor.Authenticated() && v.owner == actor.UserID {
		v.lastAccess = time.Now()
	} else {
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "view", ID: viewID}
	}
	return m.snapshot(viewID, v.poller), nil
}

func (m *ViewManager) snapshot(viewID string, p *SyncPoller) *ViewSnapshot {
	refreshedAt, err := p.Status()
	notes := p.Drain()
	if notes == nil {
		notes = []domain.Notification{}
	}
	return &ViewSnapshot{
		ViewID:        viewID,
		Sales:         p.Sales(),
		Notifications: notes,
		RefreshedAt:   refreshedAt,
		Stale:         err != nil,
	}
}

// Close stops the poller of a view owned by actor.
func (m *ViewManager) Close(actor *domain.Actor, viewID string) error {
	m.mu.Lock()
	v, ok := m.views[viewID]
	if !ok || !actor.Authenticated() || v.owner != actor.UserID {
		m.mu.Unlock()
		return &domain.ErrNotFound{Resource: "view", ID: viewID}
	}
	delete(m.views, viewID)
	n := len(m.views)
	m.mu.Unlock()

	v.poller.Stop()
	m.metrics.SetActiveViews(n)
	return nil
}

// Len returns the number of open views.
func (m *ViewManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

func (m *ViewManager) janitor() {
	defer close(m.done)
	if m.idleTimeout <= 0 {
		<-m.ctx.Done()
		return
	}
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.expireIdle(time.Now())
		}
	}
}

// expireIdle stops views not read since now minus the idle timeout.
func (m *ViewManager) expireIdle(now time.Time) int {
	m.mu.Lock()
	var expired []*SyncPoller
	for id, v := range m.views {
		if now.Sub(v.lastAccess) > m.idleTimeout {
			expired = append(expired, v.poller)
			delete(m.views, id)
			m.logger.Info("sync: view expired", zap.String("view_id", id))
		}
	}
	n := len(m.views)
	m.mu.Unlock()

	for _, p := range expired {
		p.Stop()
	}
	if len(expired) > 0 {
		m.metrics.SetActiveViews(n)
	}
	return len(expired)
}

// Shutdown stops every poller and the janitor.
func (m *ViewManager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	views := m.views
	m.views = make(map[string]*view)
	m.mu.Unlock()

	var g errgroup.Group
	for _, v := range views {
		p := v.poller
		g.Go(func() error {
			p.Stop()
			return nil
		})
	}

	stopped := make(chan error, 1)
	go func() {
		err := g.Wait()
		<-m.done
		stopped <- err
	}()

	select {
	case err := <-stopped:
		m.metrics.SetActiveViews(0)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

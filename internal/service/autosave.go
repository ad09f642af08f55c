package service

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultAutosaveDelay is the quiet window before a scheduled draft write fires.
const DefaultAutosaveDelay = 5 * time.Second

// autosaveWriteTimeout bounds one timer-driven store call.
const autosaveWriteTimeout = 15 * time.Second

// DraftAutosave debounces the edits of one intake form into DRAFT writes.
// Only the latest edit inside the quiet window is written. The draft id is
// reserved up front, so a create that is retried after an ambiguous failure
// lands on the same row. Once the Sale leaves DRAFT, writes stop for good.
type DraftAutosave struct {
	engine  *LifecycleEngine
	actor   domain.Actor
	delay   time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger

	draftID string

	mu      sync.Mutex
	id      string
	pending domain.CustomerData
	timer   *time.Timer
	gen     uint64
	closed  bool
	lastErr error

	// writeMu serializes store writes so one form never creates two drafts.
	writeMu sync.Mutex
}

// NewDraftAutosave creates the autosave of one form. existingID is empty
// for a form that was never saved.
func NewDraftAutosave(engine *LifecycleEngine, actor domain.Actor, existingID string, delay time.Duration, metrics *observability.Metrics, logger *zap.Logger) *DraftAutosave {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	draftID := existingID
	if draftID == "" {
		draftID = uuid.NewString()
	}
	return &DraftAutosave{
		engine:  engine,
		actor:   actor,
		delay:   delay,
		metrics: metrics,
		logger:  logger,
		draftID: draftID,
		id:      existingID,
	}
}

// ScheduleSave records the current form state and restarts the quiet window,
// canceling any write still pending.
func (d *DraftAutosave) ScheduleSave(form domain.CustomerData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = form.Clone()
	d.gen++
	d.armLocked(d.gen)
}

func (d *DraftAutosave) armLocked(gen uint64) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// ID returns the persistent id, empty until the first successful write.
func (d *DraftAutosave) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// LastError returns the error of the latest failed write, nil after a success.
func (d *DraftAutosave) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Pending reports whether an edit is waiting for its write.
func (d *DraftAutosave) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *DraftAutosave) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	data := d.pending
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), autosaveWriteTimeout)
	defer cancel()

	err := d.write(ctx, gen, data)
	if err == nil || !domain.IsRetryable(err) {
		return
	}

	// Transient store failure: try again after another quiet window unless a newer edit arrived.
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed && gen == d.gen {
		d.logger.Warn("autosave: store unavailable, retrying", zap.String("sale_id", d.id), zap.Error(err))
		d.armLocked(gen)
	}
}

// write persists data if gen is still current. It is the only path to the store.
func (d *DraftAutosave) write(ctx context.Context, gen uint64, data domain.CustomerData) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return nil
	}
	id := d.id
	d.mu.Unlock()

	if !data.HasIdentity() {
		d.logger.Debug("autosave: skipping draft without identity fields")
		d.settle(gen, id, nil)
		return nil
	}

	op := "update"
	var err error
	if id == "" {
		op = "create"
		var sale *domain.Sale
		sale, err = d.engine.CreateDraft(ctx, &d.actor, d.draftID, data)
		if err == nil {
			id = sale.ID
		}
	} else {
		err = d.engine.SaveDraft(ctx, &d.actor, id, data)
	}

	if err != nil {
		d.metrics.IncrAutosave(op, "error")
		d.logger.Warn("autosave: write failed",
			zap.String("op", op),
			zap.String("sale_id", id),
			zap.Error(err),
		)
		if domain.IsRetryable(err) {
			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()
		} else {
			// The draft was submitted, deleted or taken over: this edit can never land.
			d.settle(gen, id, err)
		}
		return err
	}

	d.metrics.IncrAutosave(op, "success")
	d.logger.Debug("autosave: draft saved", zap.String("op", op), zap.String("sale_id", id))
	d.settle(gen, id, nil)
	return nil
}

// settle adopts id and clears the pending edit when no newer edit replaced it.
func (d *DraftAutosave) settle(gen uint64, id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.id == "" {
		d.id = id
	}
	d.lastErr = err
	if gen == d.gen {
		d.pending = nil
	}
}

// Flush cancels the quiet window and writes the pending edit now.
// It returns the persistent id, empty if nothing was ever saved.
func (d *DraftAutosave) Flush(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.closed {
		id := d.id
		d.mu.Unlock()
		return id, nil
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	data := d.pending
	d.mu.Unlock()

	if data != nil {
		if err := d.write(ctx, gen, data); err != nil {
			return d.ID(), err
		}
	}
	return d.ID(), nil
}

// Cancel drops the pending edit. A write already in flight completes first.
func (d *DraftAutosave) Cancel() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = nil
	d.mu.Unlock()

	// Wait for an in-flight write.
	d.writeMu.Lock()
	d.writeMu.Unlock()
}

// Close cancels and stops accepting edits. No write happens after Close returns.
func (d *DraftAutosave) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.Cancel()
}

// ============================================================
// Autosave sessions keyed by form id
// ============================================================

// AutosaveCoordinator keeps one DraftAutosave per open intake form.
type AutosaveCoordinator struct {
	engine  *LifecycleEngine
	delay   time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*DraftAutosave
}

// NewAutosaveCoordinator creates an empty coordinator.
func NewAutosaveCoordinator(engine *LifecycleEngine, delay time.Duration, metrics *observability.Metrics, logger *zap.Logger) *AutosaveCoordinator {
	return &AutosaveCoordinator{
		engine:   engine,
		delay:    delay,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[string]*DraftAutosave),
	}
}

// DraftSession describes an open form.
type DraftSession struct {
	FormID  string `json:"formId"`
	SaleID  string `json:"saleId,omitempty"`
	Pending bool   `json:"pending"`
}

// Open starts a form session. A non-empty existingID resumes a saved draft
// owned by actor.
func (c *AutosaveCoordinator) Open(ctx context.Context, actor *domain.Actor, existingID string) (*DraftSession, error) {
	ctx, span := tracer.Start(ctx, "AutosaveCoordinator.Open")
	defer span.End()

	if !c.engine.perms.Check(actor, domain.PermCreateSales) {
		return nil, &domain.ErrPermissionDenied{Action: "create sale"}
	}
	if existingID != "" {
		sale, err := c.engine.store.GetSale(ctx, existingID)
		if err != nil {
			return nil, err
		}
		if sale.SellerID != actor.UserID {
			return nil, &domain.ErrPermissionDenied{Action: "edit another seller's draft"}
		}
		if sale.Status != domain.StatusDraft {
			return nil, &domain.ErrInvalidState{State: sale.Status, Action: "edit"}
		}
	}

	formID := uuid.NewString()
	autosave := NewDraftAutosave(c.engine, *actor, existingID, c.delay, c.metrics, c.logger.With(zap.String("form_id", formID)))

	c.mu.Lock()
	c.sessions[formID] = autosave
	c.mu.Unlock()

	return &DraftSession{FormID: formID, SaleID: existingID}, nil
}

// Get returns the autosave of formID if actor owns it.
func (c *AutosaveCoordinator) Get(actor *domain.Actor, formID string) (*DraftAutosave, error) {
	c.mu.Lock()
	autosave, ok := c.sessions[formID]
	c.mu.Unlock()
	if !ok || !actor.Authenticated() || autosave.actor.UserID != actor.UserID {
		return nil, &domain.ErrNotFound{Resource: "draft session", ID: formID}
	}
	return autosave, nil
}

// Save schedules a debounced write of form.
func (c *AutosaveCoordinator) Save(actor *domain.Actor, formID string, form domain.CustomerData) (*DraftSession, error) {
	autosave, err := c.Get(actor, formID)
	if err != nil {
		return nil, err
	}
	autosave.ScheduleSave(form)
	return &DraftSession{FormID: formID, SaleID: autosave.ID(), Pending: true}, nil
}

// Submit writes the pending edit, then moves the draft to IN_PROGRESS and
// closes the session. On failure the session stays open.
func (c *AutosaveCoordinator) Submit(ctx context.Context, actor *domain.Actor, formID string) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "AutosaveCoordinator.Submit")
	defer span.End()

	autosave, err := c.Get(actor, formID)
	if err != nil {
		return nil, err
	}

	id, err := autosave.Flush(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &domain.ErrValidation{Field: domain.FieldName, Message: "informe o nome ou o CPF do cliente"}
	}

	sale, err := c.engine.TransitionByID(ctx, actor, id, domain.StatusInProgress, "")
	if err != nil {
		return nil, err
	}

	c.remove(formID)
	autosave.Close()
	return sale, nil
}

// Close discards the pending edit of formID and ends the session.
func (c *AutosaveCoordinator) Close(actor *domain.Actor, formID string) error {
	autosave, err := c.Get(actor, formID)
	if err != nil {
		return err
	}
	c.remove(formID)
	autosave.Close()
	return nil
}

// Len returns the number of open sessions.
func (c *AutosaveCoordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown flushes and closes every session.
func (c *AutosaveCoordinator) Shutdown(ctx context.Context) {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*DraftAutosave)
	c.mu.Unlock()

	for formID, autosave := range sessions {
		if _, err := autosave.Flush(ctx); err != nil {
			c.logger.Warn("autosave: flush on shutdown failed", zap.String("form_id", formID), zap.Error(err))
		}
		autosave.Close()
	}
}

func (c *AutosaveCoordinator) remove(formID string) {
	c.mu.Lock()
	delete(c.sessions, formID)
	c.mu.Unlock()
}

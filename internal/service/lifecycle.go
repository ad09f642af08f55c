package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// LifecycleEngine applies status transitions to Sales and owns draft
// creation and deletion. Transitions on the same Sale are serialized
// inside one engine; across engines the store is last-write-wins.
type LifecycleEngine struct {
	store   port.SaleStore
	perms   *PermissionRegistry
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
	locks   saleLocks
}

// NewLifecycleEngine creates the engine with all dependencies injected.
func NewLifecycleEngine(store port.SaleStore, perms *PermissionRegistry, metrics *observability.Metrics, logger *zap.Logger) *LifecycleEngine {
	return &LifecycleEngine{
		store:   store,
		perms:   perms,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   saleLocks{m: make(map[string]*saleLock)},
	}
}

// requiredPermission returns the capability needed for a move. Only the
// submit edge needs create_sales; every other request, including one that
// names no edge, needs approve_sales.
func requiredPermission(from, to domain.SaleStatus) domain.Permission {
	if from == domain.StatusDraft && to == domain.StatusInProgress {
		return domain.PermCreateSales
	}
	return domain.PermApproveSales
}

// ValidateReturnReason trims reason and enforces the minimum length of a regression justification.
func ValidateReturnReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if utf8.RuneCountInString(trimmed) < domain.MinReturnReasonLength {
		return "", &domain.ErrValidation{Field: "reason", Message: "justificativa obrigatória (mínimo de 5 caracteres)"}
	}
	return trimmed, nil
}

// ApplyTransition moves sale to target on behalf of actor and persists it.
// sale is never modified; on success the updated copy is returned, on
// failure nothing is written and the error is returned unchanged.
func (e *LifecycleEngine) ApplyTransition(ctx context.Context, actor *domain.Actor, sale *domain.Sale, target domain.SaleStatus, reason string) (*domain.Sale, error) {
	if sale == nil || sale.ID == "" {
		return nil, &domain.ErrValidation{Field: "sale", Message: "sale id is required"}
	}

	unlock := e.locks.lock(sale.ID)
	defer unlock()

	return e.applyLocked(ctx, actor, sale, target, reason)
}

// TransitionByID reads the current state of the Sale under its lock, then applies the transition.
func (e *LifecycleEngine) TransitionByID(ctx context.Context, actor *domain.Actor, saleID string, target domain.SaleStatus, reason string) (*domain.Sale, error) {
	if saleID == "" {
		return nil, &domain.ErrValidation{Field: "sale", Message: "sale id is required"}
	}

	unlock := e.locks.lock(saleID)
	defer unlock()

	sale, err := e.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !e.canView(actor, sale) {
		return nil, &domain.ErrNotFound{Resource: "sale", ID: saleID}
	}
	return e.applyLocked(ctx, actor, sale, target, reason)
}

func (e *LifecycleEngine) applyLocked(ctx context.Context, actor *domain.Actor, sale *domain.Sale, target domain.SaleStatus, reason string) (_ *domain.Sale, err error) {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.ApplyTransition")
	defer span.End()

	from := sale.Status
	span.SetAttributes(
		attribute.String("sale.id", sale.ID),
		attribute.String("sale.from", string(from)),
		attribute.String("sale.to", string(target)),
	)

	start := time.Now()
	defer func() {
		e.metrics.RecordRequestDuration("transition", time.Since(start))
		e.metrics.IncrTransition(from, target, resultLabel(err))
		if err != nil {
			span.RecordError(err)
		}
	}()

	if !e.perms.Check(actor, requiredPermission(from, target)) {
		return nil, &domain.ErrPermissionDenied{Action: "move sale to " + string(target)}
	}

	if !domain.IsAllowedTransition(from, target) {
		e.logger.Warn("lifecycle: invalid transition",
			zap.String("sale_id", sale.ID),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
		)
		return nil, &domain.ErrInvalidTransition{From: from, To: target}
	}
	if from == domain.StatusDraft && sale.SellerID != actor.UserID {
		return nil, &domain.ErrPermissionDenied{Action: "submit another seller's draft"}
	}

	regression := domain.IsRegression(from, target)
	if regression {
		if reason, err = ValidateReturnReason(reason); err != nil {
			return nil, err
		}
	} else {
		reason = ""
	}

	updated := sale.Clone()
	updated.Status = target
	updated.StatusHistory = append(updated.StatusHistory, domain.StatusHistoryEntry{
		Status:    target,
		UpdatedBy: actorLabel(actor),
		UpdatedAt: e.now(),
		Reason:    reason,
	})
	if regression {
		updated.ReturnReason = &reason
	} else {
		updated.ReturnReason = nil
	}

	if err := e.store.UpdateSale(ctx, sale.ID, domain.SaleFields{
		Status:        &updated.Status,
		StatusHistory: updated.StatusHistory,
		ReturnReason:  &reason,
	}); err != nil {
		e.metrics.IncrStoreError("update_sale")
		e.logger.Error("lifecycle: persist transition failed",
			zap.String("sale_id", sale.ID),
			zap.String("to", string(target)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Info("lifecycle: transition applied",
		zap.String("sale_id", sale.ID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("actor", actor.UserID),
		zap.Bool("regression", regression),
	)
	return updated, nil
}

// CreateDraft persists a new DRAFT Sale owned by actor under id. An empty
// id gets a fresh one. Creating the same id twice stores one row, so a
// retried create never duplicates the draft.
func (e *LifecycleEngine) CreateDraft(ctx context.Context, actor *domain.Actor, id string, data domain.CustomerData) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.CreateDraft")
	defer span.End()

	if !e.perms.Check(actor, domain.PermCreateSales) {
		return nil, &domain.ErrPermissionDenied{Action: "create sale"}
	}
	if id == "" {
		id = uuid.NewString()
	}

	sale := e.newDraft(actor, data)
	sale.ID = id
	stored, err := e.store.CreateSale(ctx, sale)
	if err != nil {
		e.metrics.IncrStoreError("create_sale")
		return nil, err
	}
	sale.ID = stored
	return sale, nil
}

// newDraft builds a draft row with a single-entry history.
func (e *LifecycleEngine) newDraft(actor *domain.Actor, data domain.CustomerData) *domain.Sale {
	now := e.now()
	return &domain.Sale{
		SellerID:     actor.UserID,
		SellerName:   actor.Name,
		CustomerData: data.Clone(),
		Status:       domain.StatusDraft,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status:    domain.StatusDraft,
			UpdatedBy: actorLabel(actor),
			UpdatedAt: now,
		}},
		CreatedAt: now,
	}
}

// SaveDraft overwrites the customer data of a draft. The history is reset to
// a single DRAFT entry on every write, unlike a regular transition. The Sale
// must still be a DRAFT owned by actor: once submitted it is never written
// here again.
func (e *LifecycleEngine) SaveDraft(ctx context.Context, actor *domain.Actor, saleID string, data domain.CustomerData) error {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.SaveDraft")
	defer span.End()

	if !e.perms.Check(actor, domain.PermCreateSales) {
		return &domain.ErrPermissionDenied{Action: "edit draft"}
	}

	unlock := e.locks.lock(saleID)
	defer unlock()

	current, err := e.store.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	if current.SellerID != actor.UserID {
		return &domain.ErrPermissionDenied{Action: "edit another seller's draft"}
	}
	if current.Status != domain.StatusDraft {
		e.logger.Info("lifecycle: draft write dropped, sale already submitted",
			zap.String("sale_id", saleID),
			zap.String("status", string(current.Status)),
		)
		return &domain.ErrInvalidState{State: current.Status, Action: "edit"}
	}

	draft := e.newDraft(actor, data)
	empty := ""
	err = e.store.UpdateSale(ctx, saleID, domain.SaleFields{
		SellerName:    &draft.SellerName,
		CustomerData:  draft.CustomerData,
		Status:        &draft.Status,
		StatusHistory: draft.StatusHistory,
		ReturnReason:  &empty,
	})
	if err != nil {
		e.metrics.IncrStoreError("update_sale")
	}
	return err
}

// DeleteDraft removes a DRAFT Sale. Only its owning seller may delete it.
func (e *LifecycleEngine) DeleteDraft(ctx context.Context, actor *domain.Actor, saleID string) error {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.DeleteDraft")
	defer span.End()

	unlock := e.locks.lock(saleID)
	defer unlock()

	sale, err := e.store.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.Status != domain.StatusDraft {
		return &domain.ErrInvalidState{State: sale.Status, Action: "delete"}
	}
	if !actor.Authenticated() || actor.Role != domain.RoleSeller || sale.SellerID != actor.UserID {
		return &domain.ErrPermissionDenied{Action: "delete draft"}
	}

	if err := e.store.DeleteSale(ctx, saleID); err != nil {
		e.metrics.IncrStoreError("delete_sale")
		return err
	}
	e.logger.Info("lifecycle: draft deleted", zap.String("sale_id", saleID), zap.String("actor", actor.UserID))
	return nil
}

// GetSale returns one Sale if actor may see it. Hidden sales read as not found.
func (e *LifecycleEngine) GetSale(ctx context.Context, actor *domain.Actor, saleID string) (*domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.GetSale")
	defer span.End()

	sale, err := e.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !e.canView(actor, sale) {
		return nil, &domain.ErrNotFound{Resource: "sale", ID: saleID}
	}
	return sale, nil
}

// VisibleSales lists what actor sees: own sales for sellers, every
// submitted sale for roles with view_all_sales.
func (e *LifecycleEngine) VisibleSales(ctx context.Context, actor *domain.Actor) ([]domain.Sale, error) {
	ctx, span := tracer.Start(ctx, "LifecycleEngine.VisibleSales")
	defer span.End()

	filter, err := e.VisibilityFilter(actor)
	if err != nil {
		return nil, err
	}
	return e.store.ListSales(ctx, filter)
}

// VisibilityFilter returns the list filter for actor.
func (e *LifecycleEngine) VisibilityFilter(actor *domain.Actor) (domain.SaleFilter, error) {
	switch {
	case e.perms.Check(actor, domain.PermViewAllSales):
		return domain.FilterNotDraft(), nil
	case e.perms.Check(actor, domain.PermViewOwnSales):
		return domain.FilterByOwner(actor.UserID), nil
	default:
		return domain.SaleFilter{}, &domain.ErrPermissionDenied{Action: "view sales"}
	}
}

func (e *LifecycleEngine) canView(actor *domain.Actor, sale *domain.Sale) bool {
	if !actor.Authenticated() {
		return false
	}
	if sale.SellerID == actor.UserID && e.perms.Check(actor, domain.PermViewOwnSales) {
		return true
	}
	return sale.Status != domain.StatusDraft && e.perms.Check(actor, domain.PermViewAllSales)
}

// TransitionNotice is the toast shown after a successful transition.
func TransitionNotice(from, to domain.SaleStatus) domain.Notification {
	switch {
	case domain.IsRegression(from, to):
		return domain.Warning("Venda devolvida para correção")
	case to == domain.StatusInProgress:
		return domain.Success("Venda enviada para análise")
	case to == domain.StatusAnalyzed:
		return domain.Success("Venda marcada como analisada")
	case to == domain.StatusFinished:
		return domain.Success("Venda finalizada")
	default:
		return domain.Info("Status atualizado")
	}
}

// actorLabel is the updatedBy value written to history.
func actorLabel(actor *domain.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	return actor.UserID
}

// resultLabel maps an outcome onto the metrics result label.
func resultLabel(err error) string {
	var (
		denied     *domain.ErrPermissionDenied
		validation *domain.ErrValidation
		invalid    *domain.ErrInvalidTransition
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &denied):
		return "permission_denied"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &invalid):
		return "invalid_transition"
	case domain.IsRetryable(err):
		return "store_unavailable"
	case domain.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}

// saleLocks hands out one mutex per Sale id and forgets it once unused.
type saleLocks struct {
	mu sync.Mutex
	m  map[string]*saleLock
}

type saleLock struct {
	mu   sync.Mutex
	refs int
}

func (l *saleLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.m[id]
	if !ok {
		sl = &saleLock{}
		l.m[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

package service

import (
	"context"
	"sort"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DashboardService aggregates the sales an actor can see.
type DashboardService struct {
	engine  *LifecycleEngine
	users   port.UserStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewDashboardService creates the dashboard service.
func NewDashboardService(engine *LifecycleEngine, users port.UserStore, metrics *observability.Metrics, logger *zap.Logger) *DashboardService {
	return &DashboardService{engine: engine, users: users, metrics: metrics, logger: logger}
}

// Summary counts the visible sales by status and seller. Actors with the
// admin panel also get user counts, fetched concurrently.
func (s *DashboardService) Summary(ctx context.Context, actor *domain.Actor) (*domain.DashboardSummary, error) {
	ctx, span := tracer.Start(ctx, "DashboardService.Summary")
	defer span.End()

	if !s.engine.perms.Check(actor, domain.PermViewDashboard) {
		return nil, &domain.ErrPermissionDenied{Action: "view dashboard"}
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("dashboard", time.Since(start))
	}()

	var (
		sales []domain.Sale
		users []domain.User
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		sales, err = s.engine.VisibleSales(gCtx, actor)
		return err
	})

	withUsers := s.engine.perms.Check(actor, domain.PermAccessAdminPanel)
	if withUsers {
		g.Go(func() error {
			var err error
			users, err = s.users.ListUsers(gCtx)
			if err != nil {
				s.logger.Warn("dashboard: list users failed", zap.Error(err))
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := summarize(sales)
	if withUsers {
		for _, u := range users {
			if u.Confirmed {
				summary.ConfirmedUsers++
			} else {
				summary.PendingUsers++
			}
		}
	}
	return summary, nil
}

func summarize(sales []domain.Sale) *domain.DashboardSummary {
	summary := &domain.DashboardSummary{
		Total:    len(sales),
		ByStatus: make(map[domain.SaleStatus]int),
		BySeller: []domain.SellerTotal{},
	}
	bySeller := make(map[string]*domain.SellerTotal)

	for i := range sales {
		sale := &sales[i]
		summary.ByStatus[sale.Status]++
		if sale.ReturnReason != nil {
			summary.Returned++
		}

		st, ok := bySeller[sale.SellerID]
		if !ok {
			st = &domain.SellerTotal{SellerID: sale.SellerID, SellerName: sale.SellerName}
			bySeller[sale.SellerID] = st
		}
		st.Total++
		if sale.Status == domain.StatusFinished {
			st.Finished++
		}
	}

	for _, st := range bySeller {
		summary.BySeller = append(summary.BySeller, *st)
	}
	sort.Slice(summary.BySeller, func(i, j int) bool {
		a, b := summary.BySeller[i], summary.BySeller[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.SellerID < b.SellerID
	})
	return summary
}

package observability_test

import (
	"testing"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
)

func TestMetrics_SnapshotCountsTransitions(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrTransition(domain.StatusDraft, domain.StatusInProgress, "success")
	m.IncrTransition(domain.StatusFinished, domain.StatusInProgress, "success")
	m.IncrTransition(domain.StatusAnalyzed, domain.StatusInProgress, "validation")
	m.IncrAutosave("create", "success")
	m.IncrAutosave("update", "error")
	m.IncrSyncRefresh("own", "success")
	m.IncrRegressionAlert()
	m.IncrCacheHit("address")
	m.IncrCacheMiss("address")
	m.RecordRequestDuration("transition", 15*time.Millisecond)

	snap := m.Snapshot()
	if snap.TransitionsSucceeded != 2 {
		t.Errorf("expected 2 successful transitions, got %v", snap.TransitionsSucceeded)
	}
	if snap.Regressions != 1 {
		t.Errorf("expected 1 regression, got %v", snap.Regressions)
	}
	if snap.TransitionsFailed != 1 {
		t.Errorf("expected 1 failed transition, got %v", snap.TransitionsFailed)
	}
	if snap.AutosaveWrites != 1 || snap.AutosaveFailures != 1 {
		t.Errorf("unexpected autosave counters: %+v", snap)
	}
	if snap.SyncRefreshes != 1 {
		t.Errorf("expected 1 sync refresh, got %v", snap.SyncRefreshes)
	}
	if snap.RegressionAlerts != 1 {
		t.Errorf("expected 1 regression alert, got %v", snap.RegressionAlerts)
	}
	if snap.AddressCacheHitRate != 0.5 {
		t.Errorf("expected hit rate 0.5, got %v", snap.AddressCacheHitRate)
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()

	a.IncrRegressionAlert()

	if got := b.Snapshot().RegressionAlerts; got != 0 {
		t.Errorf("expected isolated registry, got %v alerts", got)
	}
}

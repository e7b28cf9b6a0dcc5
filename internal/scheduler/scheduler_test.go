package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lucentgrid/meridian/internal/broker"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/pkg/models"
)

func newTestScheduler() (*Scheduler, *MemoryPlanStore, *inbox.Inbox) {
	store := NewMemoryPlanStore()
	ib := inbox.New(inbox.NewMemoryStore(), broker.NewMemoryBroker(0))
	return New(store, ib, nil, nil), store, ib
}

func TestOnJobFirePushesPlanEventAndCompletesOneShot(t *testing.T) {
	s, store, ib := newTestScheduler()
	ctx := context.Background()

	plan := &models.Plan{
		ID:            "plan-1",
		AgentEntityID: "agent-1",
		Name:          "wake up",
		Instruction:   "check email",
		NextRunAt:     time.Now().Add(time.Minute),
		Status:        models.PlanPending,
	}
	if err := store.Save(ctx, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.OnJobFire(ctx, "plan-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := ib.DrainInbox(ctx, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.InboxEventPlan {
		t.Fatalf("expected one plan event, got %+v", events)
	}

	saved, err := store.Get(ctx, "plan-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Status != models.PlanCompleted {
		t.Fatalf("expected one-shot plan completed, got status %s", saved.Status)
	}
	if !saved.NextRunAt.IsZero() {
		t.Fatalf("expected NextRunAt cleared, got %v", saved.NextRunAt)
	}
}

func TestOnJobFireAdvancesRecurringPlan(t *testing.T) {
	s, store, _ := newTestScheduler()
	ctx := context.Background()

	plan := &models.Plan{
		ID:            "plan-2",
		AgentEntityID: "agent-1",
		Name:          "daily check",
		Instruction:   "summarize",
		Cron:          "0 9 * * *",
		IsRecurring:   true,
		Status:        models.PlanPending,
	}
	if err := store.Save(ctx, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.OnJobFire(ctx, "plan-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := store.Get(ctx, "plan-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Status != models.PlanPending {
		t.Fatalf("expected recurring plan to stay pending, got %s", saved.Status)
	}
	if saved.NextRunAt.IsZero() || saved.LastRunAt.IsZero() {
		t.Fatalf("expected next/last run to be set, got %+v", saved)
	}
}

func TestOnJobFireIsNoOpForMissingOrNonPendingPlan(t *testing.T) {
	s, store, ib := newTestScheduler()
	ctx := context.Background()

	if err := s.OnJobFire(ctx, "does-not-exist"); err != nil {
		t.Fatalf("unexpected error for missing plan: %v", err)
	}

	completed := &models.Plan{ID: "plan-3", AgentEntityID: "agent-1", Status: models.PlanCompleted}
	if err := store.Save(ctx, completed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.OnJobFire(ctx, "plan-3"); err != nil {
		t.Fatalf("unexpected error for completed plan: %v", err)
	}

	events, err := ib.DrainInbox(ctx, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events pushed for a non-pending plan, got %d", len(events))
	}
}

func TestReconcileOnStartupComputesMissingNextRunForRecurring(t *testing.T) {
	s, store, _ := newTestScheduler()
	ctx := context.Background()

	plan := &models.Plan{
		ID:            "plan-4",
		AgentEntityID: "agent-1",
		Cron:          "*/5 * * * *",
		IsRecurring:   true,
		Status:        models.PlanPending,
	}
	if err := store.Save(ctx, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := s.ReconcileOnStartup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reconciled plan, got %d", n)
	}

	saved, err := store.Get(ctx, "plan-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.NextRunAt.IsZero() {
		t.Fatalf("expected NextRunAt computed for recurring plan")
	}
}

func TestReconcileOnStartupCompletesPastOneShot(t *testing.T) {
	s, store, _ := newTestScheduler()
	ctx := context.Background()

	plan := &models.Plan{
		ID:            "plan-5",
		AgentEntityID: "agent-1",
		NextRunAt:     time.Now().Add(-time.Hour),
		Status:        models.PlanPending,
	}
	if err := store.Save(ctx, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.ReconcileOnStartup(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := store.Get(ctx, "plan-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Status != models.PlanCompleted {
		t.Fatalf("expected past one-shot plan completed without firing, got %s", saved.Status)
	}
}

func TestDequeuePlanRemovesTimer(t *testing.T) {
	s, store, _ := newTestScheduler()
	ctx := context.Background()

	plan := &models.Plan{
		ID:            "plan-6",
		AgentEntityID: "agent-1",
		NextRunAt:     time.Now().Add(time.Hour),
		Status:        models.PlanPending,
	}
	store.Save(ctx, plan)
	if err := s.EnqueuePlan(ctx, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.DequeuePlan(plan.ID, plan.Cron)

	s.mu.Lock()
	_, stillTracked := s.timers[plan.ID]
	s.mu.Unlock()
	if stillTracked {
		t.Fatal("expected timer removed after dequeue")
	}
}

func TestFireRecordsPlanFireMetric(t *testing.T) {
	store := NewMemoryPlanStore()
	ib := inbox.New(inbox.NewMemoryStore(), broker.NewMemoryBroker(0))
	metrics := observability.NewMetrics()
	s := New(store, ib, nil, metrics)
	ctx := context.Background()

	plan := &models.Plan{ID: "plan-7", AgentEntityID: "agent-1", Status: models.PlanPending, NextRunAt: time.Now().Add(time.Minute)}
	if err := store.Save(ctx, plan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.fire(ctx, "plan-7")
	if got := testutil.ToFloat64(metrics.PlanFireCounter.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected one ok firing recorded, got %v", got)
	}

	s.fire(ctx, "does-not-exist-but-errors-only-on-store-failure")
	if got := testutil.ToFloat64(metrics.PlanFireCounter.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected a missing plan to still count as ok (silent no-op), got %v", got)
	}
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/pkg/models"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler is the Plan Scheduler (C6): it registers a live cron
// binding or one-shot timer per pending plan, and on firing pushes a
// plan event into the target agent's inbox.
type Scheduler struct {
	mu          sync.Mutex
	cron        *cron.Cron
	cronEntries map[string]cron.EntryID
	timers      map[string]*time.Timer

	store   PlanStore
	inbox   *inbox.Inbox
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New constructs a Scheduler. metrics may be nil, in which case plan
// firings are not counted.
func New(store PlanStore, ib *inbox.Inbox, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:        cron.New(cron.WithParser(cronParser)),
		cronEntries: make(map[string]cron.EntryID),
		timers:      make(map[string]*time.Timer),
		store:       store,
		inbox:       ib,
		logger:      logger,
		metrics:     metrics,
	}
}

// Start begins running registered cron entries. One-shot timers run
// independently of the cron scheduler's own clock.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron scheduler and cancels every outstanding one-shot
// timer, waiting for any in-flight cron job to finish (or ctx to end).
// A one-shot firing already running is not waited for.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()

	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// EnqueuePlan registers plan's live firing, replacing any existing
// binding for the same plan id so at most one firing is ever live.
func (s *Scheduler) EnqueuePlan(ctx context.Context, plan *models.Plan) error {
	s.DequeuePlan(plan.ID, plan.Cron)

	if plan.IsRecurring && plan.Cron != "" {
		entryID, err := s.cron.AddFunc(plan.Cron, func() { s.fire(ctx, plan.ID) })
		if err != nil {
			return fmt.Errorf("scheduler: register cron for plan %s: %w", plan.ID, err)
		}
		s.mu.Lock()
		s.cronEntries[plan.ID] = entryID
		s.mu.Unlock()
		return nil
	}

	if !plan.NextRunAt.IsZero() {
		delay := time.Until(plan.NextRunAt)
		if delay < 0 {
			delay = 0
		}
		timer := time.AfterFunc(delay, func() { s.fire(ctx, plan.ID) })
		s.mu.Lock()
		s.timers[plan.ID] = timer
		s.mu.Unlock()
	}
	return nil
}

// DequeuePlan removes the delayed job for planID and, if cronExpr is
// non-empty, its repeatable cron binding too.
func (s *Scheduler) DequeuePlan(planID string, cronExpr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[planID]; ok {
		t.Stop()
		delete(s.timers, planID)
	}
	if cronExpr != "" {
		if entryID, ok := s.cronEntries[planID]; ok {
			s.cron.Remove(entryID)
			delete(s.cronEntries, planID)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, planID string) {
	err := s.OnJobFire(ctx, planID)
	if s.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.RecordPlanFire(outcome)
	}
	if err != nil {
		s.logger.Error("plan firing failed", "plan_id", planID, "error", err)
	}
}

// OnJobFire loads plan, pushes its plan event into the target agent's
// inbox, and advances or completes the plan. A missing or non-pending
// plan is a silent no-op (the firing raced a deletion or an earlier
// completion).
func (s *Scheduler) OnJobFire(ctx context.Context, planID string) error {
	plan, err := s.store.Get(ctx, planID)
	if err != nil {
		return &gatewayerr.TransientError{Op: "scheduler.load_plan", Err: err}
	}
	if plan == nil || plan.Status != models.PlanPending {
		return nil
	}

	now := time.Now().UTC()
	if err := s.inbox.PushPlanEvent(ctx, plan.AgentEntityID, models.PlanEventData{
		PlanID:      plan.ID,
		PlanName:    plan.Name,
		Instruction: plan.Instruction,
	}, now); err != nil {
		return err
	}

	if plan.IsRecurring {
		next, err := nextCronFire(plan.Cron, now)
		if err != nil {
			return fmt.Errorf("scheduler: compute next fire for plan %s: %w", plan.ID, err)
		}
		plan.LastRunAt = now
		plan.NextRunAt = next
	} else {
		plan.Status = models.PlanCompleted
		plan.LastRunAt = now
		plan.NextRunAt = time.Time{}
	}

	if err := s.store.Save(ctx, plan); err != nil {
		return &gatewayerr.TransientError{Op: "scheduler.save_plan", Err: err}
	}
	return nil
}

// ReconcileOnStartup walks every pending plan: a recurring plan missing
// its next fire time gets one computed; a one-shot plan already past its
// fire time is marked completed without firing; everything else is
// re-enqueued.
func (s *Scheduler) ReconcileOnStartup(ctx context.Context) (int, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, &gatewayerr.TransientError{Op: "scheduler.reconcile.list", Err: err}
	}

	reconciled := 0
	now := time.Now().UTC()
	for _, plan := range pending {
		if plan.IsRecurring && plan.NextRunAt.IsZero() {
			next, err := nextCronFire(plan.Cron, now)
			if err != nil {
				return reconciled, fmt.Errorf("scheduler: reconcile plan %s: %w", plan.ID, err)
			}
			plan.NextRunAt = next
			if err := s.store.Save(ctx, plan); err != nil {
				return reconciled, &gatewayerr.TransientError{Op: "scheduler.reconcile.save", Err: err}
			}
		} else if !plan.IsRecurring && !plan.NextRunAt.IsZero() && now.After(plan.NextRunAt) {
			plan.Status = models.PlanCompleted
			if err := s.store.Save(ctx, plan); err != nil {
				return reconciled, &gatewayerr.TransientError{Op: "scheduler.reconcile.save", Err: err}
			}
			reconciled++
			continue
		}

		if err := s.EnqueuePlan(ctx, plan); err != nil {
			return reconciled, err
		}
		reconciled++
	}
	return reconciled, nil
}

func nextCronFire(cronExpr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(after), nil
}

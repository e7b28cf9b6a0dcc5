// Package supervisor implements the Process Supervisor (C1): it owns
// one goroutine per agent worker, restarts a worker that exits with a
// jittered backoff, and performs boot-time reconciliation of scheduler
// state left over from a prior crash (inbox recovery runs in each worker).
package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lucentgrid/meridian/internal/backoff"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/internal/scheduler"
	"github.com/lucentgrid/meridian/internal/worker"
)

// WorkerFactory builds the Worker for one agent entity. Supplied by the
// caller so the supervisor does not need to know how each worker's
// dependency graph (consciousness store, provider, tool registry...) is
// wired.
type WorkerFactory func(agentEntityID string) (*worker.Worker, error)

// Supervisor runs and restarts one worker goroutine per registered
// agent entity.
type Supervisor struct {
	inbox     *inbox.Inbox
	scheduler *scheduler.Scheduler
	factory   WorkerFactory
	policy    backoff.BackoffPolicy
	logger    *slog.Logger
	metrics   *observability.Metrics

	wg sync.WaitGroup
}

// New constructs a Supervisor. metrics may be nil, in which case the
// active-worker gauge is not maintained.
func New(ib *inbox.Inbox, sched *scheduler.Scheduler, factory WorkerFactory, logger *slog.Logger, metrics *observability.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		inbox:     ib,
		scheduler: sched,
		factory:   factory,
		policy:    backoff.DefaultPolicy(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Boot reconciles pending plans left from before startup, then starts
// the scheduler's cron and a supervised goroutine per agent. Events
// stuck mid-processing from a prior crash are recovered by each
// worker's Run when it starts, not by Boot itself.
func (s *Supervisor) Boot(ctx context.Context, agentEntityIDs []string) error {
	missed, err := s.scheduler.ReconcileOnStartup(ctx)
	if err != nil {
		return err
	}
	if missed > 0 {
		s.logger.Info("reconciled missed plans", "count", missed)
	}
	s.scheduler.Start()

	for _, id := range agentEntityIDs {
		s.Spawn(ctx, id)
	}
	return nil
}

// Spawn starts (or restarts) the supervised goroutine for one agent
// entity. Safe to call for an agent added after Boot.
func (s *Supervisor) Spawn(ctx context.Context, agentEntityID string) {
	s.wg.Add(1)
	go s.superviseLoop(ctx, agentEntityID)
}

// Wait blocks until every supervised goroutine has returned, which only
// happens once ctx is canceled.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// superviseLoop restarts the agent's Worker.Run with exponential
// backoff whenever it returns an error; a nil return (context canceled)
// ends the loop for good.
func (s *Supervisor) superviseLoop(ctx context.Context, agentEntityID string) {
	defer s.wg.Done()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		w, err := s.factory(agentEntityID)
		if err != nil {
			s.logger.Error("build worker failed", "agent_entity_id", agentEntityID, "error", err)
			attempt++
			if sleepErr := backoff.SleepWithBackoff(ctx, s.policy, attempt); sleepErr != nil {
				return
			}
			continue
		}

		if s.metrics != nil {
			s.metrics.ActiveWorkers.Inc()
		}
		runErr := w.Run(ctx)
		if s.metrics != nil {
			s.metrics.ActiveWorkers.Dec()
		}
		if runErr == nil {
			return
		}

		attempt++
		s.logger.Error("worker exited, restarting", "agent_entity_id", agentEntityID, "attempt", attempt, "error", runErr)
		if sleepErr := backoff.SleepWithBackoff(ctx, s.policy, attempt); sleepErr != nil {
			return
		}
	}
}

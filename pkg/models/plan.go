package models

import "time"

// PlanStatus is the lifecycle state of a scheduled stimulus source.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanCompleted PlanStatus = "completed"
	PlanCanceled  PlanStatus = "canceled"
)

// Plan is a scheduled stimulus source owned by an agent: exactly one of
// RunAfter, ScheduledAt, or Cron is set.
type Plan struct {
	ID            string        `json:"id"`
	AgentEntityID string        `json:"agent_entity_id"`
	Name          string        `json:"name"`
	Instruction   string        `json:"instruction"`
	RunAfter      time.Duration `json:"run_after,omitempty"`
	ScheduledAt   time.Time     `json:"scheduled_at,omitempty"`
	Cron          string        `json:"cron,omitempty"`
	IsRecurring   bool          `json:"is_recurring"`
	NextRunAt     time.Time     `json:"next_run_at,omitempty"`
	LastRunAt     time.Time     `json:"last_run_at,omitempty"`
	Status        PlanStatus    `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

package models

import "time"

// RunStatus is the lifecycle state of one think-cycle audit record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Trigger describes what woke the cycle that produced a Run: the type
// is the InboxEventType of the cycle's first drained event, and Source
// carries a short type-specific descriptor (service name, plan name,
// sender name).
type Trigger struct {
	Type   InboxEventType `json:"type"`
	Source string         `json:"source,omitempty"`
}

// Run is the audit record of one executed cycle. Exactly one Run exists
// per started cycle; a skip rolls the cycle back and deletes the Run.
type Run struct {
	ID               string    `json:"id"`
	AgentEntityID    string    `json:"agent_entity_id"`
	AgentID          string    `json:"agent_id"`
	Status           RunStatus `json:"status"`
	CycleNumber      int64     `json:"cycle_number"`
	InboxEventCount  int       `json:"inbox_event_count"`
	StepCount        int       `json:"step_count"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	DurationMs       int64     `json:"duration_ms"`
	Trigger          Trigger   `json:"trigger"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
}

package models

import "time"

// SpaceMessageStatus tracks an assistant/tool-call message's progress
// through the stream processor, distinct from the inbox/run lifecycles.
type SpaceMessageStatus string

const (
	SpaceMessageRunning        SpaceMessageStatus = "running"
	SpaceMessageRequiresAction SpaceMessageStatus = "requires_action"
	SpaceMessageComplete       SpaceMessageStatus = "complete"
)

// Space is a shared room of participants: a membership set (resolved by
// an external oracle, out of scope here), a persisted chronological
// message list with a monotone per-space Seq, and an optional admin
// agent pointer.
type Space struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	AdminAgentID string    `json:"admin_agent_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SpaceMessage is a posted message in a space. Seq is strictly
// increasing per space; the store is required to serialize inserts
// within a space to preserve that guarantee.
type SpaceMessage struct {
	ID           string             `json:"id"`
	SmartSpaceID string             `json:"smart_space_id"`
	EntityID     string             `json:"entity_id"`
	Role         MessageRole        `json:"role"`
	Content      string             `json:"content"`
	Seq          int64              `json:"seq"`
	Status       SpaceMessageStatus `json:"status,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	RunID        string             `json:"run_id,omitempty"`
	// ToolCallID identifies the tool call this message renders, for the
	// single SpaceMessage the stream processor persists per visible
	// tool call (empty for ordinary assistant/human messages).
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

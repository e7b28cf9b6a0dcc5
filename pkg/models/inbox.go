package models

import (
	"encoding/json"
	"time"
)

// InboxEventType classifies the stimulus carried by an InboxEvent.
type InboxEventType string

const (
	InboxEventSpaceMessage InboxEventType = "space_message"
	InboxEventPlan         InboxEventType = "plan"
	InboxEventService      InboxEventType = "service"
	InboxEventToolResult   InboxEventType = "tool_result"
)

// InboxEventStatus is the lifecycle state of one durable inbox row.
type InboxEventStatus string

const (
	InboxStatusPending    InboxEventStatus = "pending"
	InboxStatusProcessing InboxEventStatus = "processing"
	InboxStatusProcessed  InboxEventStatus = "processed"
	InboxStatusFailed     InboxEventStatus = "failed"
)

// SpaceMessageEventData is the payload for an InboxEventSpaceMessage event.
type SpaceMessageEventData struct {
	MessageID      string          `json:"message_id"`
	SmartSpaceID   string          `json:"smart_space_id"`
	SpaceName      string          `json:"space_name"`
	SenderEntityID string          `json:"sender_entity_id"`
	SenderName     string          `json:"sender_name"`
	SenderType     SenderType      `json:"sender_type"`
	Content        string          `json:"content"`
	RecentContext  []RecentMessage `json:"recent_context,omitempty"`
}

// RecentMessage is one entry of the up-to-5 prior messages attached to a
// space_message event for conversational grounding.
type RecentMessage struct {
	SenderName string     `json:"sender_name"`
	SenderType SenderType `json:"sender_type"`
	Content    string     `json:"content"`
}

// PlanEventData is the payload for an InboxEventPlan event.
type PlanEventData struct {
	PlanID      string `json:"plan_id"`
	PlanName    string `json:"plan_name"`
	Instruction string `json:"instruction"`
}

// ServiceEventData is the payload for an InboxEventService event.
type ServiceEventData struct {
	ServiceName string          `json:"service_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ToolResultEventData is the payload for an InboxEventToolResult event.
type ToolResultEventData struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Result     json.RawMessage `json:"result"`
}

// InboxEvent is a durable record of one stimulus delivered to one agent.
// (AgentEntityID, EventID) is the unique key; pushing twice with the same
// EventID is a no-op (idempotent dedup).
type InboxEvent struct {
	AgentEntityID string           `json:"agent_entity_id"`
	EventID       string           `json:"event_id"`
	Type          InboxEventType   `json:"type"`
	Data          json.RawMessage  `json:"data"`
	Status        InboxEventStatus `json:"status"`
	RunID         string           `json:"run_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ProcessedAt   time.Time        `json:"processed_at,omitempty"`
}

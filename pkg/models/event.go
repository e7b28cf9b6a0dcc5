package models

import (
	"encoding/json"
	"time"
)

// FanoutEventType enumerates the event catalogue published to spaces
// and runs by the Fan-out Bus (C8).
type FanoutEventType string

const (
	EventAgentActive          FanoutEventType = "agent.active"
	EventAgentInactive        FanoutEventType = "agent.inactive"
	EventSpaceMessage         FanoutEventType = "space.message"
	EventSpaceMessageStream   FanoutEventType = "space.message.streaming"
	EventSpaceMessageFailed   FanoutEventType = "space.message.failed"
	EventToolStarted          FanoutEventType = "tool.started"
	EventToolStreaming        FanoutEventType = "tool.streaming"
	EventToolDone             FanoutEventType = "tool.done"
	EventToolError            FanoutEventType = "tool.error"
)

// StreamPhase is the phase of a streaming event (send_message deltas or
// visible-tool argument deltas).
type StreamPhase string

const (
	PhaseStart StreamPhase = "start"
	PhaseDelta StreamPhase = "delta"
	PhaseDone  StreamPhase = "done"
)

// FanoutEvent is the tagged-union envelope published on a space:<id> or
// run:<id> channel. Which of Message, Stream, Tool and Error are
// populated depends on Type (agent.active/inactive carry none, tool.error
// carries both Tool and Error); consumers switch on Type before reading
// a payload.
type FanoutEvent struct {
	ID        string          `json:"id"`
	Type      FanoutEventType `json:"type"`
	Timestamp time.Time       `json:"ts"`

	AgentEntityID string `json:"agent_entity_id,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	SmartSpaceID  string `json:"smart_space_id,omitempty"`

	Message  *SpaceMessagePayload `json:"message,omitempty"`
	Stream   *StreamPayload       `json:"stream,omitempty"`
	Tool     *ToolEventPayload    `json:"tool,omitempty"`
	Error    *ErrorPayload        `json:"error,omitempty"`
}

// SpaceMessagePayload accompanies space.message.
type SpaceMessagePayload struct {
	MessageID string             `json:"message_id"`
	Role      MessageRole        `json:"role"`
	Content   string             `json:"content"`
	Status    SpaceMessageStatus `json:"status,omitempty"`
	Seq       int64              `json:"seq"`
}

// StreamPayload accompanies space.message.streaming; tool.streaming
// carries its argument deltas in ToolEventPayload.ArgsDelta instead.
type StreamPayload struct {
	Phase    StreamPhase `json:"phase"`
	ToolName string      `json:"tool_name,omitempty"`
	Text     string      `json:"text,omitempty"`
}

// ToolEventPayload accompanies tool.started/tool.streaming/tool.done/tool.error.
type ToolEventPayload struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	ArgsDelta  string          `json:"args_delta,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Pending    bool            `json:"pending,omitempty"`
}

// ErrorPayload accompanies space.message.failed and tool.error.
type ErrorPayload struct {
	Message string `json:"message"`
}

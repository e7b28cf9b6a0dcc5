package models

import (
	"encoding/json"
	"time"
)

// ToolCall is the LLM's request to invoke one tool during a cycle.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool invocation fed back to the LLM.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Content    json.RawMessage `json:"content"`
	IsError    bool            `json:"is_error,omitempty"`
}

// PendingToolCallStatus is the lifecycle state of an async tool call
// awaiting an externally supplied result.
type PendingToolCallStatus string

const (
	PendingToolPending   PendingToolCallStatus = "pending"
	PendingToolCompleted PendingToolCallStatus = "completed"
	PendingToolCanceled  PendingToolCallStatus = "canceled"
)

// PendingToolCall is a tool invocation awaiting an external result.
// (RunID, CallID) is the unique key.
type PendingToolCall struct {
	RunID       string                `json:"run_id"`
	CallID      string                `json:"call_id"`
	ToolName    string                `json:"tool_name"`
	Input       json.RawMessage       `json:"input"`
	Status      PendingToolCallStatus `json:"status"`
	Output      json.RawMessage       `json:"output,omitempty"`
	RequestedAt time.Time             `json:"requested_at"`
	CompletedAt time.Time             `json:"completed_at,omitempty"`
}

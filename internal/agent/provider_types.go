package agent

import (
	"context"
	"encoding/json"

	"github.com/lucentgrid/meridian/pkg/models"
)

// StreamPartKind classifies one incremental event from the external LLM
// streaming API. The provider itself is an assumed external collaborator
// — a streaming text generator that yields typed parts, running its own
// internal multi-step loop up to a step budget and invoking registered
// tools' Execute functions directly as part of that loop. This package
// specifies only the boundary the core touches: the request shape handed
// in and the typed parts streamed back.
type StreamPartKind string

const (
	PartText           StreamPartKind = "text"
	PartReasoning      StreamPartKind = "reasoning"
	PartToolInputStart StreamPartKind = "tool-input-start"
	PartToolInputDelta StreamPartKind = "tool-input-delta"
	PartToolCall       StreamPartKind = "tool-call"
	PartToolResult     StreamPartKind = "tool-result"
	PartStepFinish     StreamPartKind = "step-finish"
	PartFinish         StreamPartKind = "finish"
	PartError          StreamPartKind = "error"
)

// FinishReason is why the provider stopped generating.
type FinishReason string

const (
	FinishToolCalls FinishReason = "tool-calls"
	FinishStop      FinishReason = "stop"
	FinishMaxSteps  FinishReason = "max-steps"
	FinishError     FinishReason = "error"
)

// StreamPart is one typed event in the LLM's output stream. Only the
// fields relevant to Kind are populated; the stream processor (C5)
// switches on Kind before reading them.
type StreamPart struct {
	Kind StreamPartKind

	// PartText / PartReasoning
	Text string

	// PartToolInputStart / PartToolInputDelta / PartToolCall / PartToolResult
	ToolCallID string
	ToolName   string
	InputDelta string          // raw JSON fragment appended so far
	Input      json.RawMessage // complete parsed input, populated at PartToolCall
	Result     json.RawMessage // populated at PartToolResult

	// PartStepFinish / PartFinish
	FinishReason FinishReason

	// PartError
	Err error
}

// CompletionMessage is one entry of the conversation handed to the
// provider; it is the same shape consciousness persists, so the worker
// passes loaded messages straight through without translation.
type CompletionMessage = models.ConsciousnessMessage

// ToolKind tags how a registered tool's execute behaves, per the
// sync/async/skip split the gateway's cycle algorithm depends on.
type ToolKind string

const (
	// ToolKindSync executes in-process and returns its result directly.
	ToolKindSync ToolKind = "sync"
	// ToolKindAsync's execute only records a PendingToolCall and returns
	// a synthetic {"status":"pending"} value; the real result arrives
	// later through the Async-Tool Manager's external submission path.
	ToolKindAsync ToolKind = "async"
	// ToolKindSkip carries no Execute. It exists purely so the worker
	// can recognize, after the stream ends, that this cycle should be
	// rolled back rather than committed.
	ToolKindSkip ToolKind = "skip"
)

// ToolExecuteFunc is a tool body invoked by the provider while producing
// a step. For sync tools it runs to completion and returns the real
// result; for async tools it is a thin wrapper that only records a
// pending call and returns immediately.
type ToolExecuteFunc func(ctx context.Context, input json.RawMessage) (*ToolResult, error)

// ToolResult is the outcome of one tool invocation fed back to the
// provider's multi-step loop.
type ToolResult struct {
	Content string
	IsError bool
}

// Tool describes one entry in an agent's registry, ready to be handed to
// the external provider as part of a cycle's tool set. Exactly one
// meaning applies per Kind; ToolKindSkip's Execute is nil by
// construction — the provider must never call it.
type Tool struct {
	Kind        ToolKind
	Name        string
	Description string
	Schema      json.RawMessage
	Execute     ToolExecuteFunc

	// Visible marks a non-special tool whose lifecycle (tool.started /
	// tool.streaming / tool.done) should be broadcast to the active
	// space and persisted as a SpaceMessage. send_message and skip are
	// never driven by this flag — the stream processor special-cases
	// them by name.
	Visible bool
}

// CycleRequest is everything the provider needs to run one step-bounded
// generation: the full message history, the tool set, and the step
// budget. PrepareStep runs before every step beyond the first, letting
// the caller inject a fresh inbox preview message at that step boundary.
type CycleRequest struct {
	Messages    []CompletionMessage
	Tools       []Tool
	MaxSteps    int
	PrepareStep func(step int) *CompletionMessage
}

// LLMProvider is the external collaborator boundary named in scope: a
// streaming text generator that, given a cycle request, returns a
// channel of typed stream parts spanning one or more internal steps
// (bounded by MaxSteps) and closes it after a PartFinish or PartError
// part.
type LLMProvider interface {
	Name() string
	StreamCycle(ctx context.Context, req CycleRequest) (<-chan StreamPart, error)
}

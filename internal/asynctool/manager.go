package asynctool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/pkg/models"
)

// pendingValue is the synthetic result an async tool's wrapped execute
// returns immediately, per spec §4.7 step 2.
var pendingValue = json.RawMessage(`{"status":"pending"}`)

// SpaceMessageCompleter transitions a tool call's persisted SpaceMessage
// to complete and returns it so the manager can re-broadcast it. Callers
// with no matching message (the tool never rendered one) return
// (nil, nil).
type SpaceMessageCompleter interface {
	CompleteToolCallMessage(ctx context.Context, runID, callID string) (*models.SpaceMessage, error)
}

// EventPublisher re-broadcasts a completed tool-call SpaceMessage to its
// space. Satisfied by the Fan-out Bus (C8).
type EventPublisher interface {
	PublishToSpace(ctx context.Context, smartSpaceID string, event models.FanoutEvent) error
}

// Manager implements the Async-Tool Manager (C7).
type Manager struct {
	store     Store
	inbox     *inbox.Inbox
	messages  SpaceMessageCompleter
	publisher EventPublisher
	metrics   *observability.Metrics
}

// NewManager constructs a Manager. metrics may be nil, in which case
// the pending-call gauge is not maintained.
func NewManager(store Store, ib *inbox.Inbox, messages SpaceMessageCompleter, publisher EventPublisher, metrics *observability.Metrics) *Manager {
	return &Manager{store: store, inbox: ib, messages: messages, publisher: publisher, metrics: metrics}
}

// BeginPending records a new pending tool call and returns the synthetic
// {"status":"pending"} value the wrapped tool's execute returns
// immediately to the LLM stream.
func (m *Manager) BeginPending(ctx context.Context, runID, callID, toolName string, input json.RawMessage) (json.RawMessage, error) {
	if err := m.store.Insert(ctx, &models.PendingToolCall{
		RunID:    runID,
		CallID:   callID,
		ToolName: toolName,
		Input:    input,
	}); err != nil {
		return nil, fmt.Errorf("asynctool: begin pending %s/%s: %w", runID, callID, err)
	}
	if m.metrics != nil {
		m.metrics.IncAsyncToolPending()
	}
	return pendingValue, nil
}

// SubmitToolResult is the external submission path. It completes the
// pending call exactly once, re-broadcasts the tool-call SpaceMessage if
// one was persisted, and wakes the owning agent by pushing a
// tool_result inbox event.
func (m *Manager) SubmitToolResult(ctx context.Context, agentEntityID, runID, callID string, result json.RawMessage) error {
	call, err := m.store.Get(ctx, runID, callID)
	if err != nil {
		return fmt.Errorf("asynctool: load %s/%s: %w", runID, callID, err)
	}
	if call == nil {
		return gatewayerr.ErrNotFound
	}
	if call.Status != models.PendingToolPending {
		return gatewayerr.ErrAlreadyCompleted
	}

	if err := m.store.Complete(ctx, runID, callID, result); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.DecAsyncToolPending()
	}

	if m.messages != nil {
		msg, err := m.messages.CompleteToolCallMessage(ctx, runID, callID)
		if err != nil {
			return fmt.Errorf("asynctool: complete tool-call message %s/%s: %w", runID, callID, err)
		}
		if msg != nil && m.publisher != nil {
			if err := m.publisher.PublishToSpace(ctx, msg.SmartSpaceID, models.FanoutEvent{
				Type:          models.EventSpaceMessage,
				AgentEntityID: agentEntityID,
				RunID:         runID,
				SmartSpaceID:  msg.SmartSpaceID,
				Message: &models.SpaceMessagePayload{
					MessageID: msg.ID,
					Role:      msg.Role,
					Content:   msg.Content,
					Status:    msg.Status,
					Seq:       msg.Seq,
				},
			}); err != nil {
				return fmt.Errorf("asynctool: broadcast completed tool-call message: %w", err)
			}
		}
	}

	return m.inbox.PushToolResultEvent(ctx, agentEntityID, models.ToolResultEventData{
		ToolCallID: callID,
		ToolName:   call.ToolName,
		Result:     result,
	})
}

// Package worker implements the Agent Worker (C2): the persistent
// sleep/wake/think/settle cycle loop for one agent, driving
// consciousness, the inbox, the external LLM provider, the stream
// processor, and the fan-out bus through one cycle at a time.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lucentgrid/meridian/internal/agent"
	"github.com/lucentgrid/meridian/internal/bus"
	"github.com/lucentgrid/meridian/internal/consciousness"
	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/internal/run"
	"github.com/lucentgrid/meridian/internal/stream"
	"github.com/lucentgrid/meridian/pkg/models"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// SpaceMembership resolves which spaces an agent belongs to, an
// access-control concern assumed external to the core.
type SpaceMembership interface {
	SpacesForAgent(ctx context.Context, agentEntityID string) ([]string, error)
}

// PromptBuilder refreshes the system prompt from identity, spaces,
// goals, memories, plans, instructions, and async-tool guidance. This
// is a template fill: idempotent given the same sources.
type PromptBuilder interface {
	BuildSystemPrompt(ctx context.Context, agentEntityID string) (string, error)
}

// Deps bundles one agent's wired dependencies.
type Deps struct {
	Consciousness consciousness.Store
	Inbox         *inbox.Inbox
	Runs          run.Store
	Bus           *bus.Bus
	Stream        *stream.Processor
	Provider      agent.LLMProvider
	Prompts       PromptBuilder
	Spaces        SpaceMembership
	Logger        Logger
	Metrics       *observability.Metrics
	Tracer        *observability.Tracer
}

// Worker runs the cycle loop for exactly one agent.
type Worker struct {
	agentCfg models.Agent
	registry *agent.ToolRegistry
	deps     Deps
}

func New(agentCfg models.Agent, registry *agent.ToolRegistry, deps Deps) *Worker {
	return &Worker{agentCfg: agentCfg, registry: registry, deps: deps}
}

// Run executes the infinite cycle loop until ctx is canceled. It first
// recovers any events left stuck by a prior crash, per the concurrency
// contract. A panic inside a cycle is recovered and returned as an
// error rather than taking the process down with it, so the supervisor
// (C1) can restart this worker with backoff per spec §4.1.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.deps.Inbox.RecoverStuckEvents(ctx, w.agentCfg.AgentEntityID); err != nil {
		w.logf("recoverStuckEvents failed: %v", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.runOneCycleRecovered(ctx); err != nil {
			return err
		}
	}
}

// runOneCycleRecovered runs one sleepAndCycle iteration with panic
// recovery. Ordinary cycle errors are logged and retried in place
// (events are already terminalized as failed, so redriving just
// resumes Sleep); only a panic is fatal to the loop.
func (w *Worker) runOneCycleRecovered(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: recovered panic in cycle: %v", r)
		}
	}()

	if cerr := w.sleepAndCycle(ctx); cerr != nil {
		if errors.Is(cerr, gatewayerr.ErrCanceled) {
			return nil
		}
		w.logf("cycle error: %v", cerr)
	}
	return nil
}

// sleepAndCycle performs steps 1-2 (Sleep, Wake) and, if the wake was
// not spurious, one full cycle (steps 3-16).
func (w *Worker) sleepAndCycle(ctx context.Context) error {
	agentEntityID := w.agentCfg.AgentEntityID

	first, err := w.deps.Inbox.WaitForInbox(ctx, agentEntityID)
	if err != nil {
		return err
	}
	drained, err := w.deps.Inbox.DrainInbox(ctx, agentEntityID)
	if err != nil {
		return err
	}
	events := mergeFirstEvent(first, drained)
	if len(events) == 0 {
		return nil // spurious wake
	}

	return w.runCycle(ctx, events)
}

// mergeFirstEvent folds the event WaitForInbox already popped back onto
// the batch DrainInbox collected afterward, since that pop already
// removed it from the broker list and it would otherwise be lost. It
// goes first: it was the oldest item in the queue.
func mergeFirstEvent(first *models.InboxEvent, drained []*models.InboxEvent) []*models.InboxEvent {
	if first == nil {
		return drained
	}
	for _, e := range drained {
		if e.EventID == first.EventID {
			return drained
		}
	}
	return append([]*models.InboxEvent{first}, drained...)
}

func (w *Worker) runCycle(ctx context.Context, drained []*models.InboxEvent) (err error) {
	agentEntityID := w.agentCfg.AgentEntityID
	cycleStart := time.Now()
	status := "completed"
	var span oteltrace.Span

	defer func() {
		if err != nil {
			status = "failed"
		}
		if span != nil {
			if err != nil {
				w.deps.Tracer.RecordError(span, err)
			}
			span.End()
		}
		if w.deps.Metrics != nil {
			w.deps.Metrics.RecordCycle(agentEntityID, status, time.Since(cycleStart).Seconds())
		}
	}()

	spaces, err := w.resolveSpaces(ctx)
	if err != nil {
		return fmt.Errorf("worker: resolve spaces: %w", err)
	}
	activeSpace := activeSpaceFor(drained, spaces)

	// Step 3: begin cycle — snapshot consciousness, create Run.
	snapshot, err := w.deps.Consciousness.Load(ctx, agentEntityID)
	if err != nil {
		return fmt.Errorf("worker: load consciousness: %w", err)
	}
	preCycle := snapshot.Clone()

	runRecord := &models.Run{
		ID:              uuid.NewString(),
		AgentEntityID:   agentEntityID,
		AgentID:         w.agentCfg.ID,
		Status:          models.RunRunning,
		CycleNumber:     preCycle.CycleCount + 1,
		InboxEventCount: len(drained),
		Trigger:         triggerFor(drained[0]),
		CreatedAt:       time.Now().UTC(),
	}
	if err := w.deps.Runs.Create(ctx, runRecord); err != nil {
		return fmt.Errorf("worker: create run: %w", err)
	}

	if w.deps.Tracer != nil {
		ctx, span = w.deps.Tracer.TraceCycle(ctx, agentEntityID, runRecord.ID)
	}

	eventIDs := eventIDsOf(drained)

	// Step 4: mark events processing.
	if err := w.deps.Inbox.MarkEventsProcessing(ctx, agentEntityID, eventIDs, runRecord.ID); err != nil {
		return w.fail(ctx, runRecord, eventIDs, spaces, err)
	}

	// Step 5: emit agent.active.
	w.emitToSpaces(ctx, spaces, models.FanoutEvent{Type: models.EventAgentActive, AgentEntityID: agentEntityID, RunID: runRecord.ID})

	// Step 6: prepare prompt.
	systemPrompt, err := w.deps.Prompts.BuildSystemPrompt(ctx, agentEntityID)
	if err != nil {
		return w.fail(ctx, runRecord, eventIDs, spaces, err)
	}
	messages := consciousness.RefreshSystemPrompt(preCycle.Messages, systemPrompt)
	messages = append(messages, models.ConsciousnessMessage{
		Role:      models.RoleUser,
		Content:   inbox.FormatInboxEvents(drained, time.Now().UTC()),
		CreatedAt: time.Now().UTC(),
	})

	// Step 7: think.
	step := 0
	req := agent.CycleRequest{
		Messages: messages,
		Tools:    w.registry.AsProviderTools(),
		MaxSteps: w.agentCfg.MaxSteps,
		PrepareStep: func(s int) *models.ConsciousnessMessage {
			step = s
			if s == 0 {
				return nil
			}
			preview, err := w.deps.Inbox.PeekInbox(ctx, agentEntityID, 5)
			if err != nil || len(preview) == 0 {
				return nil
			}
			return &models.ConsciousnessMessage{Role: models.RoleUser, Content: inbox.FormatInboxPreview(preview), CreatedAt: time.Now().UTC()}
		},
	}
	parts, err := w.traceLLMRequest(ctx, req)
	if err != nil {
		return w.fail(ctx, runRecord, eventIDs, spaces, err)
	}

	// Step 8: stream-process.
	result, err := w.deps.Stream.Process(ctx, parts, w.registry, agentEntityID, runRecord.ID, activeSpace)
	if err != nil {
		return w.fail(ctx, runRecord, eventIDs, spaces, err)
	}

	// Step 9: detect skip.
	if w.calledSkip(result.ToolCalls) {
		status = "rolled_back"
		if err := w.deps.Consciousness.Save(ctx, preCycle); err != nil {
			w.logf("skip rollback save failed: %v", err)
		}
		if err := w.deps.Runs.Delete(ctx, runRecord.ID); err != nil {
			w.logf("skip rollback delete run failed: %v", err)
		}
		if err := w.deps.Inbox.MarkEventsProcessed(ctx, agentEntityID, eventIDs); err != nil {
			w.logf("skip rollback mark processed failed: %v", err)
		}
		return nil
	}

	// Step 10: append cycle.
	next := appendCycle(preCycle, result, step+1)

	// Step 11: compact if needed.
	if next.TokenEstimate > w.agentCfg.HardCapTokens && w.agentCfg.HardCapTokens > 0 {
		next.Messages = consciousness.Compact(next.Messages, w.agentCfg.SoftCapTokens)
		next.TokenEstimate = consciousness.EstimateTokens(next.Messages)
		if w.deps.Metrics != nil {
			w.deps.Metrics.RecordCompaction()
		}
	}

	// Step 12: save.
	next.CycleCount = runRecord.CycleNumber
	next.LastCycleAt = time.Now().UTC()
	if err := w.deps.Consciousness.Save(ctx, next); err != nil {
		return w.fail(ctx, runRecord, eventIDs, spaces, err)
	}

	// Step 13: terminalize events (success path).
	if err := w.deps.Inbox.MarkEventsProcessed(ctx, agentEntityID, eventIDs); err != nil {
		return fmt.Errorf("worker: mark events processed: %w", err)
	}

	// Step 14: update Run.
	runRecord.Status = models.RunCompleted
	runRecord.StepCount = step + 1
	runRecord.PromptTokens = consciousness.EstimateTokens(preCycle.Messages)
	runRecord.CompletionTokens = next.TokenEstimate - runRecord.PromptTokens
	runRecord.DurationMs = time.Since(runRecord.CreatedAt).Milliseconds()
	runRecord.CompletedAt = time.Now().UTC()
	if err := w.deps.Runs.Update(ctx, runRecord); err != nil {
		w.logf("update run failed: %v", err)
	}

	// Step 15: emit agent.inactive.
	w.emitToSpaces(ctx, spaces, models.FanoutEvent{Type: models.EventAgentInactive, AgentEntityID: agentEntityID, RunID: runRecord.ID})

	return nil
}

// fail implements step 13's failure path: mark events failed, update
// the Run to failed, emit agent.inactive, sleep 5s (or until ctx is
// done), and return a CycleError; the caller then retries without
// redraining.
func (w *Worker) fail(ctx context.Context, runRecord *models.Run, eventIDs []string, spaces []string, cause error) error {
	if err := w.deps.Inbox.MarkEventsFailed(ctx, w.agentCfg.AgentEntityID, eventIDs); err != nil {
		w.logf("mark events failed: %v", err)
	}
	runRecord.Status = models.RunFailed
	runRecord.Error = cause.Error()
	runRecord.CompletedAt = time.Now().UTC()
	if err := w.deps.Runs.Update(ctx, runRecord); err != nil {
		w.logf("update failed run: %v", err)
	}
	w.emitToSpaces(ctx, spaces, models.FanoutEvent{Type: models.EventAgentInactive, AgentEntityID: w.agentCfg.AgentEntityID, RunID: runRecord.ID})

	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}
	return &gatewayerr.CycleError{AgentEntityID: w.agentCfg.AgentEntityID, RunID: runRecord.ID, Err: cause}
}

// traceLLMRequest wraps the external provider's StreamCycle call in a
// span, if tracing is wired. The span covers only the call that hands
// back the part stream, not the stream's own consumption (step 8).
func (w *Worker) traceLLMRequest(ctx context.Context, req agent.CycleRequest) (<-chan agent.StreamPart, error) {
	if w.deps.Tracer == nil {
		return w.deps.Provider.StreamCycle(ctx, req)
	}
	spanCtx, span := w.deps.Tracer.TraceLLMRequest(ctx, w.deps.Provider.Name())
	defer span.End()
	parts, err := w.deps.Provider.StreamCycle(spanCtx, req)
	if err != nil {
		w.deps.Tracer.RecordError(span, err)
	}
	return parts, err
}

func (w *Worker) calledSkip(calls []stream.ToolCallRecord) bool {
	for _, c := range calls {
		if w.registry.IsSkip(c.Name) {
			return true
		}
	}
	return false
}

func (w *Worker) resolveSpaces(ctx context.Context) ([]string, error) {
	if w.deps.Spaces == nil {
		return nil, nil
	}
	return w.deps.Spaces.SpacesForAgent(ctx, w.agentCfg.AgentEntityID)
}

func (w *Worker) emitToSpaces(ctx context.Context, spaces []string, event models.FanoutEvent) {
	if w.deps.Bus == nil || len(spaces) == 0 {
		return
	}
	if err := w.deps.Bus.EmitToSpaces(ctx, spaces, event); err != nil {
		w.logf("emit to spaces failed: %v", err)
	}
}

func (w *Worker) logf(format string, args ...any) {
	if w.deps.Logger == nil {
		return
	}
	w.deps.Logger.Warnf(format, args...)
}

// Logger is the minimal logging surface the worker needs, satisfied by
// a thin adapter over log/slog in cmd/gatewayd.
type Logger interface {
	Warnf(format string, args ...any)
}

func triggerFor(first *models.InboxEvent) models.Trigger {
	return models.Trigger{Type: first.Type, Source: sourceFor(first)}
}

func sourceFor(e *models.InboxEvent) string {
	switch e.Type {
	case models.InboxEventPlan:
		var data models.PlanEventData
		if json.Unmarshal(e.Data, &data) == nil {
			return data.PlanName
		}
	case models.InboxEventService:
		var data models.ServiceEventData
		if json.Unmarshal(e.Data, &data) == nil {
			return data.ServiceName
		}
	case models.InboxEventSpaceMessage:
		var data models.SpaceMessageEventData
		if json.Unmarshal(e.Data, &data) == nil {
			return data.SenderName
		}
	}
	return ""
}

func eventIDsOf(events []*models.InboxEvent) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID
	}
	return ids
}

// activeSpaceFor picks the space a reply should stream to: the
// triggering space_message's space if the first drained event is one,
// else the agent's first known space.
func activeSpaceFor(drained []*models.InboxEvent, spaces []string) string {
	if len(drained) > 0 && drained[0].Type == models.InboxEventSpaceMessage {
		var data models.SpaceMessageEventData
		if json.Unmarshal(drained[0].Data, &data) == nil && data.SmartSpaceID != "" {
			return data.SmartSpaceID
		}
	}
	if len(spaces) > 0 {
		return spaces[0]
	}
	return ""
}

// appendCycle appends the stream's tool calls and internal text as
// consciousness messages and re-estimates the token count. Each tool
// call, send_message included, is recorded as a tool_call entry carrying
// its input and no Content. Tool results are not recorded, and since
// compaction summarizes only assistant Content, tool calls do not
// survive into a summary.
func appendCycle(c *models.Consciousness, result stream.Result, _ int) *models.Consciousness {
	next := c.Clone()
	now := time.Now().UTC()

	if result.InternalText != "" {
		next.Messages = append(next.Messages, models.ConsciousnessMessage{Role: models.RoleAssistant, Content: result.InternalText, CreatedAt: now})
	}
	for _, call := range result.ToolCalls {
		next.Messages = append(next.Messages, models.ConsciousnessMessage{
			Role:       models.RoleToolCall,
			ToolName:   call.Name,
			ToolCallID: call.ID,
			ToolInput:  call.Input,
			CreatedAt:  now,
		})
	}
	next.TokenEstimate = consciousness.EstimateTokens(next.Messages)
	return next
}

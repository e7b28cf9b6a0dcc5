// Package stream implements the Stream Processor (C5): it consumes the
// external LLM provider's typed-parts stream for one think cycle,
// extracts and fans out the designated send_message tool's text deltas,
// broadcasts lifecycle events for other visible tool calls, persists a
// SpaceMessage per visible tool call, and collects the ordered tool-call
// list the worker appends to consciousness.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lucentgrid/meridian/internal/agent"
	"github.com/lucentgrid/meridian/internal/bus"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/internal/spacemessage"
	"github.com/lucentgrid/meridian/pkg/models"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// SendMessageTool and SkipTool are the two tool names the processor
// special-cases. They are fixed gateway-wide; the processor matches
// tool calls against these names only.
const (
	SendMessageTool = "send_message"
	SkipTool        = "skip"
)

// Registry is the subset of *agent.ToolRegistry the processor needs.
type Registry interface {
	IsVisible(name string) bool
	IsAsync(name string) bool
}

// ToolCallRecord is one tool call the stream produced, in call order.
type ToolCallRecord struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Result is returned after the stream ends.
type Result struct {
	ToolCalls    []ToolCallRecord
	FinishReason agent.FinishReason
	InternalText string // collected text parts; never broadcast, logged only
}

// Processor is the C5 Stream Processor.
type Processor struct {
	bus      *bus.Bus
	messages spacemessage.Store
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// New constructs a Processor. metrics and tracer may be nil, in which
// case tool-execution instrumentation is skipped.
func New(b *bus.Bus, messages spacemessage.Store, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{bus: b, messages: messages, logger: logger, metrics: metrics, tracer: tracer}
}

type callState struct {
	toolName      string
	argsText      strings.Builder
	lastTextLen   int
	isVisible     bool
	isSendMessage bool
	isSkip        bool
	persistedID   string
	startedAt     time.Time
	span          oteltrace.Span
}

// Process consumes parts until the channel closes (after a PartFinish or
// PartError part) and returns the collected tool calls and finish
// reason. smartSpaceID is the space active when the cycle began; all
// broadcast events go there.
func (p *Processor) Process(ctx context.Context, parts <-chan agent.StreamPart, registry Registry, agentEntityID, runID, smartSpaceID string) (Result, error) {
	var result Result
	var internalText strings.Builder
	active := make(map[string]*callState)

	for part := range parts {
		switch part.Kind {
		case agent.PartText:
			internalText.WriteString(part.Text)

		case agent.PartReasoning:
			// ignored

		case agent.PartToolInputStart:
			st := &callState{
				toolName:      part.ToolName,
				isSendMessage: part.ToolName == SendMessageTool,
				isSkip:        part.ToolName == SkipTool,
				startedAt:     time.Now(),
			}
			st.isVisible = !st.isSendMessage && !st.isSkip && registry.IsVisible(part.ToolName)
			if p.tracer != nil && !st.isSkip {
				_, st.span = p.tracer.TraceToolExecution(ctx, part.ToolName)
			}
			active[part.ToolCallID] = st
			if st.isVisible {
				p.publish(ctx, smartSpaceID, models.FanoutEvent{
					Type:          models.EventToolStarted,
					AgentEntityID: agentEntityID,
					RunID:         runID,
					SmartSpaceID:  smartSpaceID,
					Tool:          &models.ToolEventPayload{ToolCallID: part.ToolCallID, ToolName: part.ToolName},
				})
			}

		case agent.PartToolInputDelta:
			st, ok := active[part.ToolCallID]
			if !ok {
				continue
			}
			st.argsText.WriteString(part.InputDelta)
			if st.isSendMessage {
				p.emitSendMessageDelta(ctx, smartSpaceID, agentEntityID, runID, st)
			} else if st.isVisible {
				p.publish(ctx, smartSpaceID, models.FanoutEvent{
					Type:          models.EventToolStreaming,
					AgentEntityID: agentEntityID,
					RunID:         runID,
					SmartSpaceID:  smartSpaceID,
					Tool:          &models.ToolEventPayload{ToolCallID: part.ToolCallID, ToolName: st.toolName, ArgsDelta: part.InputDelta},
				})
			}

		case agent.PartToolCall:
			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{ID: part.ToolCallID, Name: part.ToolName, Input: part.Input})
			st, ok := active[part.ToolCallID]
			if !ok {
				continue
			}
			if st.isVisible {
				status := models.SpaceMessageRunning
				if registry.IsAsync(st.toolName) {
					status = models.SpaceMessageRequiresAction
				}
				if p.messages != nil {
					msg := &models.SpaceMessage{
						SmartSpaceID: smartSpaceID,
						EntityID:     agentEntityID,
						RunID:        runID,
						ToolCallID:   part.ToolCallID,
						Role:         models.RoleAssistant,
						Content:      renderToolCall(st.toolName, part.Input),
						Status:       status,
					}
					if err := p.messages.Insert(ctx, msg); err != nil {
						p.logger.Warn("failed to persist tool-call message", "error", err, "tool_call_id", part.ToolCallID)
					} else {
						st.persistedID = msg.ID
					}
				}
				p.publish(ctx, smartSpaceID, models.FanoutEvent{
					Type:          models.EventToolStreaming,
					AgentEntityID: agentEntityID,
					RunID:         runID,
					SmartSpaceID:  smartSpaceID,
					Tool:          &models.ToolEventPayload{ToolCallID: part.ToolCallID, ToolName: st.toolName, ArgsDelta: string(part.Input)},
				})
			}

		case agent.PartToolResult:
			st, ok := active[part.ToolCallID]
			if !ok {
				continue
			}
			status := "success"
			if isPendingAsyncResult(part.Result) {
				status = "pending"
			}
			p.recordToolExecution(st, status, nil)
			if st.isSendMessage {
				p.publish(ctx, smartSpaceID, models.FanoutEvent{
					Type:          models.EventSpaceMessageStream,
					AgentEntityID: agentEntityID,
					RunID:         runID,
					SmartSpaceID:  smartSpaceID,
					Stream:        &models.StreamPayload{Phase: models.PhaseDone, ToolName: st.toolName},
				})
			} else if st.isVisible {
				pending := isPendingAsyncResult(part.Result)
				if !pending && p.messages != nil && st.persistedID != "" {
					if _, err := p.messages.UpdateStatus(ctx, st.persistedID, models.SpaceMessageComplete, renderToolResult(part.Result)); err != nil {
						p.logger.Warn("failed to complete tool-call message", "error", err, "tool_call_id", part.ToolCallID)
					}
				}
				p.publish(ctx, smartSpaceID, models.FanoutEvent{
					Type:          models.EventToolDone,
					AgentEntityID: agentEntityID,
					RunID:         runID,
					SmartSpaceID:  smartSpaceID,
					Tool:          &models.ToolEventPayload{ToolCallID: part.ToolCallID, ToolName: st.toolName, Result: part.Result, Pending: pending},
				})
			}
			delete(active, part.ToolCallID)

		case agent.PartStepFinish:
			// step boundaries are driven by CycleRequest.PrepareStep outside the stream

		case agent.PartFinish:
			result.FinishReason = part.FinishReason

		case agent.PartError:
			p.emitErrorsForActive(ctx, smartSpaceID, agentEntityID, runID, active, part.Err)
			active = make(map[string]*callState)
			result.FinishReason = agent.FinishError
			result.InternalText = internalText.String()
			return result, fmt.Errorf("stream: %w", part.Err)
		}
	}

	result.InternalText = internalText.String()
	return result, nil
}

func (p *Processor) emitSendMessageDelta(ctx context.Context, smartSpaceID, agentEntityID, runID string, st *callState) {
	text, ok := extractStreamingText(st.argsText.String())
	if !ok || len(text) <= st.lastTextLen {
		return
	}
	delta := text[st.lastTextLen:]
	st.lastTextLen = len(text)
	p.publish(ctx, smartSpaceID, models.FanoutEvent{
		Type:          models.EventSpaceMessageStream,
		AgentEntityID: agentEntityID,
		RunID:         runID,
		SmartSpaceID:  smartSpaceID,
		Stream:        &models.StreamPayload{Phase: models.PhaseDelta, ToolName: st.toolName, Text: delta},
	})
}

func (p *Processor) emitErrorsForActive(ctx context.Context, smartSpaceID, agentEntityID, runID string, active map[string]*callState, cause error) {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	for callID, st := range active {
		p.recordToolExecution(st, "error", cause)
		if st.isSendMessage {
			p.publish(ctx, smartSpaceID, models.FanoutEvent{
				Type:          models.EventSpaceMessageFailed,
				AgentEntityID: agentEntityID,
				RunID:         runID,
				SmartSpaceID:  smartSpaceID,
				Error:         &models.ErrorPayload{Message: message},
			})
			continue
		}
		if st.isVisible {
			p.publish(ctx, smartSpaceID, models.FanoutEvent{
				Type:          models.EventToolError,
				AgentEntityID: agentEntityID,
				RunID:         runID,
				SmartSpaceID:  smartSpaceID,
				Tool:          &models.ToolEventPayload{ToolCallID: callID, ToolName: st.toolName},
				Error:         &models.ErrorPayload{Message: message},
			})
		}
	}
}

// recordToolExecution closes out st's instrumentation: it ends the
// tracing span opened at PartToolInputStart (if tracing is wired) and
// records the outcome in the tool-execution metrics (if metrics are
// wired). Skip-tool calls never get a span and are not instrumented,
// since they never reach the external provider's execution loop.
func (p *Processor) recordToolExecution(st *callState, status string, cause error) {
	if st.isSkip {
		return
	}
	if p.tracer != nil && st.span != nil {
		if cause != nil {
			p.tracer.RecordError(st.span, cause)
		}
		st.span.End()
	}
	if p.metrics != nil {
		p.metrics.RecordToolExecution(st.toolName, status, time.Since(st.startedAt).Seconds())
	}
}

func (p *Processor) publish(ctx context.Context, smartSpaceID string, event models.FanoutEvent) {
	if p.bus == nil {
		return
	}
	if err := p.bus.PublishToSpace(ctx, smartSpaceID, event); err != nil {
		p.logger.Warn("failed to publish fan-out event", "error", err, "type", event.Type, "space", smartSpaceID)
	}
}

// extractStreamingText best-effort partial-parses a streamed JSON object
// for a growing top-level "text" string field, tolerant of the value
// still being mid-stream (an unterminated quoted string). It never
// returns a shrinking value: callers only act when the result grows.
func extractStreamingText(partialJSON string) (string, bool) {
	key := `"text"`
	idx := strings.Index(partialJSON, key)
	if idx < 0 {
		return "", false
	}
	rest := partialJSON[idx+len(key):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", false
	}
	rest = strings.TrimLeft(rest[colon+1:], " \t\n")
	if len(rest) == 0 || rest[0] != '"' {
		return "", false
	}
	rest = rest[1:]

	var b strings.Builder
	escaped := false
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if escaped {
			switch c {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			break
		}
		b.WriteByte(c)
	}
	return b.String(), true
}

func isPendingAsyncResult(result json.RawMessage) bool {
	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return false
	}
	return decoded.Status == "pending"
}

func renderToolCall(name string, input json.RawMessage) string {
	if len(input) == 0 {
		return fmt.Sprintf("calling %s", name)
	}
	return fmt.Sprintf("calling %s with %s", name, string(input))
}

func renderToolResult(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	return string(result)
}

package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lucentgrid/meridian/internal/agent"
	"github.com/lucentgrid/meridian/internal/asynctool"
	"github.com/lucentgrid/meridian/internal/broker"
	"github.com/lucentgrid/meridian/internal/bus"
	"github.com/lucentgrid/meridian/internal/consciousness"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/internal/run"
	"github.com/lucentgrid/meridian/internal/spacemessage"
	"github.com/lucentgrid/meridian/internal/stream"
	"github.com/lucentgrid/meridian/pkg/models"
)

type fakePromptBuilder struct{}

func (fakePromptBuilder) BuildSystemPrompt(context.Context, string) (string, error) {
	return "you are a helpful agent", nil
}

type fakeSpaces struct{ spaces []string }

func (f fakeSpaces) SpacesForAgent(context.Context, string) ([]string, error) {
	return f.spaces, nil
}

// fakeProvider emits a canned sequence of StreamPart values, ignoring
// the request, to drive the stream processor deterministically.
type fakeProvider struct {
	parts []agent.StreamPart
}

func (fakeProvider) Name() string { return "fake" }

func (p fakeProvider) StreamCycle(ctx context.Context, req agent.CycleRequest) (<-chan agent.StreamPart, error) {
	ch := make(chan agent.StreamPart, len(p.parts))
	for _, part := range p.parts {
		ch <- part
	}
	close(ch)
	return ch, nil
}

func sendMessageParts(text string) []agent.StreamPart {
	input, _ := json.Marshal(map[string]string{"text": text})
	return []agent.StreamPart{
		{Kind: agent.PartToolInputStart, ToolCallID: "call-1", ToolName: stream.SendMessageTool},
		{Kind: agent.PartToolInputDelta, ToolCallID: "call-1", InputDelta: string(input)},
		{Kind: agent.PartToolCall, ToolCallID: "call-1", ToolName: stream.SendMessageTool, Input: input},
		{Kind: agent.PartToolResult, ToolCallID: "call-1", Result: json.RawMessage(`{"status":"ok"}`)},
		{Kind: agent.PartFinish, FinishReason: agent.FinishToolCalls},
	}
}

func skipParts() []agent.StreamPart {
	return []agent.StreamPart{
		{Kind: agent.PartToolCall, ToolCallID: "call-1", ToolName: stream.SkipTool, Input: json.RawMessage(`{}`)},
		{Kind: agent.PartFinish, FinishReason: agent.FinishToolCalls},
	}
}

// panicProvider simulates a programming-error crash mid-cycle (e.g. a
// nil-pointer dereference inside a vendor SDK client), used to verify
// Run recovers it instead of taking the process down.
type panicProvider struct{}

func (panicProvider) Name() string { return "panic" }

func (panicProvider) StreamCycle(context.Context, agent.CycleRequest) (<-chan agent.StreamPart, error) {
	panic("simulated provider crash")
}

func newTestDepsWithProvider(t *testing.T, provider agent.LLMProvider) (*Worker, *inbox.Inbox, *consciousness.MemoryStore, *run.MemoryStore) {
	t.Helper()
	b := broker.NewMemoryBroker(64)
	ib := inbox.New(inbox.NewMemoryStore(), b)
	cs := consciousness.NewMemoryStore()
	rs := run.NewMemoryStore()
	ms := spacemessage.NewMemoryStore()
	fb := bus.New(b, nil)

	registry := agent.NewToolRegistry()
	registry.Register(agent.Tool{Kind: agent.ToolKindSync, Name: stream.SendMessageTool, Visible: false})
	registry.Register(agent.Tool{Kind: agent.ToolKindSkip, Name: stream.SkipTool, Visible: false})

	sp := stream.New(fb, ms, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)

	agentCfg := models.Agent{
		ID:            "agent-cfg-1",
		AgentEntityID: "agent-1",
		MaxSteps:      4,
		HardCapTokens: 100000,
		SoftCapTokens: 50000,
	}

	w := New(agentCfg, registry, Deps{
		Consciousness: cs,
		Inbox:         ib,
		Runs:          rs,
		Bus:           fb,
		Stream:        sp,
		Provider:      provider,
		Prompts:       fakePromptBuilder{},
		Spaces:        fakeSpaces{spaces: []string{"space-1"}},
	})

	_ = asynctool.SpaceMessageCompleter(spacemessage.Completer{Store: ms})

	return w, ib, cs, rs
}

func newTestDeps(t *testing.T, parts []agent.StreamPart) (*Worker, *inbox.Inbox, *consciousness.MemoryStore, *run.MemoryStore) {
	t.Helper()
	return newTestDepsWithProvider(t, fakeProvider{parts: parts})
}

func TestRunCycleCompletesAndAppendsConsciousness(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w, ib, cs, rs := newTestDeps(t, sendMessageParts("hello there"))

	if err := ib.PushSpaceMessageEvent(ctx, "agent-1", models.SpaceMessageEventData{
		MessageID:      "msg-1",
		SmartSpaceID:   "space-1",
		SenderEntityID: "human-1",
		SenderName:     "Ada",
		SenderType:     models.SenderHuman,
		Content:        "hi",
	}); err != nil {
		t.Fatalf("push event: %v", err)
	}

	if err := w.sleepAndCycle(ctx); err != nil {
		t.Fatalf("sleepAndCycle: %v", err)
	}

	loaded, err := cs.Load(ctx, "agent-1")
	if err != nil {
		t.Fatalf("load consciousness: %v", err)
	}
	if loaded.CycleCount != 1 {
		t.Fatalf("expected cycle count 1, got %d", loaded.CycleCount)
	}

	foundToolCall := false
	for _, m := range loaded.Messages {
		if m.Role == models.RoleToolCall && m.ToolName == stream.SendMessageTool {
			foundToolCall = true
		}
	}
	if !foundToolCall {
		t.Fatalf("expected a send_message tool_call message in consciousness, got %+v", loaded.Messages)
	}

	size, err := ib.InboxSize(ctx, "agent-1")
	if err != nil {
		t.Fatalf("inbox size: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected inbox drained, got size %d", size)
	}

	_ = rs
}

func TestRunCycleSkipRollsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w, ib, cs, rs := newTestDeps(t, skipParts())

	if err := ib.PushServiceEvent(ctx, "agent-1", models.ServiceEventData{ServiceName: "heartbeat"}); err != nil {
		t.Fatalf("push event: %v", err)
	}

	if err := w.sleepAndCycle(ctx); err != nil {
		t.Fatalf("sleepAndCycle: %v", err)
	}

	loaded, err := cs.Load(ctx, "agent-1")
	if err != nil {
		t.Fatalf("load consciousness: %v", err)
	}
	if loaded.CycleCount != 0 {
		t.Fatalf("expected rollback to leave cycle count 0, got %d", loaded.CycleCount)
	}
	if len(loaded.Messages) != 0 {
		t.Fatalf("expected no messages appended on skip, got %+v", loaded.Messages)
	}

	if _, ok := rs.GetForTest("does-not-matter"); ok {
		t.Fatal("unexpected run stored")
	}
}

// TestRunRecoversPanicAndReturnsError verifies a panic inside a cycle
// (e.g. a crashing provider client) surfaces as a returned error from
// Run instead of taking the process down, so the supervisor's
// restart-with-backoff path can fire.
func TestRunRecoversPanicAndReturnsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w, ib, _, _ := newTestDepsWithProvider(t, panicProvider{})

	if err := ib.PushServiceEvent(ctx, "agent-1", models.ServiceEventData{ServiceName: "heartbeat"}); err != nil {
		t.Fatalf("push event: %v", err)
	}

	err := w.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to return an error after a panicking cycle, got nil")
	}
	if !strings.Contains(err.Error(), "simulated provider crash") {
		t.Fatalf("expected panic message in returned error, got: %v", err)
	}
}

func TestRunCycleRecordsCompletedCycleMetric(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b := broker.NewMemoryBroker(64)
	ib := inbox.New(inbox.NewMemoryStore(), b)
	cs := consciousness.NewMemoryStore()
	rs := run.NewMemoryStore()
	ms := spacemessage.NewMemoryStore()
	fb := bus.New(b, nil)
	metrics := observability.NewMetrics()

	registry := agent.NewToolRegistry()
	registry.Register(agent.Tool{Kind: agent.ToolKindSync, Name: stream.SendMessageTool, Visible: false})
	registry.Register(agent.Tool{Kind: agent.ToolKindSkip, Name: stream.SkipTool, Visible: false})

	sp := stream.New(fb, ms, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)

	agentCfg := models.Agent{
		ID:            "agent-cfg-1",
		AgentEntityID: "agent-1",
		MaxSteps:      4,
		HardCapTokens: 100000,
		SoftCapTokens: 50000,
	}

	w := New(agentCfg, registry, Deps{
		Consciousness: cs,
		Inbox:         ib,
		Runs:          rs,
		Bus:           fb,
		Stream:        sp,
		Provider:      fakeProvider{parts: sendMessageParts("hello there")},
		Prompts:       fakePromptBuilder{},
		Spaces:        fakeSpaces{spaces: []string{"space-1"}},
		Metrics:       metrics,
	})

	if err := ib.PushSpaceMessageEvent(ctx, "agent-1", models.SpaceMessageEventData{
		MessageID:      "msg-1",
		SmartSpaceID:   "space-1",
		SenderEntityID: "human-1",
		SenderName:     "Ada",
		SenderType:     models.SenderHuman,
		Content:        "hi",
	}); err != nil {
		t.Fatalf("push event: %v", err)
	}

	if err := w.sleepAndCycle(ctx); err != nil {
		t.Fatalf("sleepAndCycle: %v", err)
	}

	if got := testutil.ToFloat64(metrics.CycleCounter.WithLabelValues("agent-1", "completed")); got != 1 {
		t.Fatalf("expected one completed cycle recorded, got %v", got)
	}
}

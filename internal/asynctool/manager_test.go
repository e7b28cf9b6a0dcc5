package asynctool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lucentgrid/meridian/internal/broker"
	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/pkg/models"
)

type fakeCompleter struct {
	msg *models.SpaceMessage
}

func (f *fakeCompleter) CompleteToolCallMessage(_ context.Context, runID, callID string) (*models.SpaceMessage, error) {
	return f.msg, nil
}

type fakePublisher struct {
	published []models.FanoutEvent
}

func (f *fakePublisher) PublishToSpace(_ context.Context, smartSpaceID string, event models.FanoutEvent) error {
	f.published = append(f.published, event)
	return nil
}

func TestManagerBeginPendingReturnsSyntheticValue(t *testing.T) {
	store := NewMemoryStore()
	ib := inbox.New(inbox.NewMemoryStore(), broker.NewMemoryBroker(0))
	m := NewManager(store, ib, nil, nil, nil)

	out, err := m.BeginPending(context.Background(), "run-1", "call-1", "approve", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded["status"] != "pending" {
		t.Fatalf("expected pending status value, got %+v", decoded)
	}
}

func TestManagerSubmitToolResultWakesAgentAndBroadcasts(t *testing.T) {
	store := NewMemoryStore()
	ib := inbox.New(inbox.NewMemoryStore(), broker.NewMemoryBroker(0))
	completer := &fakeCompleter{msg: &models.SpaceMessage{ID: "msg-1", SmartSpaceID: "space-1", Role: models.RoleAssistant, Status: models.SpaceMessageComplete}}
	publisher := &fakePublisher{}
	m := NewManager(store, ib, completer, publisher, nil)
	ctx := context.Background()

	if _, err := m.BeginPending(ctx, "run-1", "call-1", "approve", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.SubmitToolResult(ctx, "agent-1", "run-1", "call-1", json.RawMessage(`{"approved":true}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(publisher.published))
	}

	events, err := ib.DrainInbox(ctx, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "tr:call-1" {
		t.Fatalf("expected tr:call-1 inbox event, got %+v", events)
	}
}

func TestManagerSubmitToolResultTwiceFails(t *testing.T) {
	store := NewMemoryStore()
	ib := inbox.New(inbox.NewMemoryStore(), broker.NewMemoryBroker(0))
	m := NewManager(store, ib, nil, nil, nil)
	ctx := context.Background()

	m.BeginPending(ctx, "run-1", "call-1", "approve", json.RawMessage(`{}`))
	if err := m.SubmitToolResult(ctx, "agent-1", "run-1", "call-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := m.SubmitToolResult(ctx, "agent-1", "run-1", "call-1", json.RawMessage(`{}`))
	if err != gatewayerr.ErrAlreadyCompleted {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestManagerSubmitToolResultMissingFails(t *testing.T) {
	store := NewMemoryStore()
	ib := inbox.New(inbox.NewMemoryStore(), broker.NewMemoryBroker(0))
	m := NewManager(store, ib, nil, nil, nil)

	err := m.SubmitToolResult(context.Background(), "agent-1", "run-1", "missing", json.RawMessage(`{}`))
	if err != gatewayerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManagerTracksPendingGauge(t *testing.T) {
	store := NewMemoryStore()
	ib := inbox.New(inbox.NewMemoryStore(), broker.NewMemoryBroker(0))
	metrics := observability.NewMetrics()
	m := NewManager(store, ib, nil, nil, metrics)
	ctx := context.Background()

	if _, err := m.BeginPending(ctx, "run-1", "call-1", "approve", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.AsyncToolPending); got != 1 {
		t.Fatalf("expected pending gauge at 1 after begin, got %v", got)
	}

	if err := m.SubmitToolResult(ctx, "agent-1", "run-1", "call-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.AsyncToolPending); got != 0 {
		t.Fatalf("expected pending gauge back to 0 after completion, got %v", got)
	}
}

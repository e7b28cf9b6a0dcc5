package edge

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lucentgrid/meridian/internal/asynctool"
	"github.com/lucentgrid/meridian/internal/broker"
	"github.com/lucentgrid/meridian/internal/bus"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/run"
	"github.com/lucentgrid/meridian/internal/spacemessage"
	"github.com/lucentgrid/meridian/pkg/models"
)

type fakeMembers struct {
	members map[string][]Member
	names   map[string]string
}

func (f fakeMembers) MembersOf(_ context.Context, spaceID string) ([]Member, error) {
	return f.members[spaceID], nil
}

func (f fakeMembers) SpaceName(_ context.Context, spaceID string) (string, error) {
	return f.names[spaceID], nil
}

func newTestHandler(t *testing.T) (*Handler, *inbox.Inbox, *run.MemoryStore, *asynctool.Manager) {
	t.Helper()
	b := broker.NewMemoryBroker(64)
	ib := inbox.New(inbox.NewMemoryStore(), b)
	fanout := bus.New(b, nil)
	messages := spacemessage.NewMemoryStore()
	runs := run.NewMemoryStore()
	asyncStore := asynctool.NewMemoryStore()
	mgr := asynctool.NewManager(asyncStore, ib, spacemessage.Completer{Store: messages}, fanout, nil)

	h := NewHandler(Config{
		Inbox:      ib,
		Bus:        fanout,
		Messages:   messages,
		AsyncTools: mgr,
		Runs:       runs,
		Members: fakeMembers{
			members: map[string][]Member{
				"space-1": {
					{AgentEntityID: "human-1", Name: "Ada", Type: models.SenderHuman},
					{AgentEntityID: "agent-1", Name: "Watcher", Type: models.SenderAgent},
				},
			},
			names: map[string]string{"space-1": "General"},
		},
	})
	return h, ib, runs, mgr
}

func TestHandleTriggerPushesServiceEvent(t *testing.T) {
	h, ib, _, _ := newTestHandler(t)

	body := strings.NewReader(`{"serviceName":"cron","payload":{"k":"v"}}`)
	req := httptest.NewRequest(http.MethodPost, "/agents/agent-1/trigger", body)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	events, err := ib.DrainInbox(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(events) != 1 || events[0].Type != models.InboxEventService {
		t.Fatalf("expected one service event, got %+v", events)
	}
}

func TestHandleTriggerRejectsMissingServiceName(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/agents/agent-1/trigger", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlePostMessageWakesAgentMembers(t *testing.T) {
	h, ib, _, _ := newTestHandler(t)

	body := strings.NewReader(`{"entityId":"human-1","content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/smart-spaces/space-1/messages", body)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var msg models.SpaceMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if msg.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", msg.Seq)
	}

	events, err := ib.DrainInbox(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(events) != 1 || events[0].EventID != msg.ID {
		t.Fatalf("expected one space_message event keyed by messageId, got %+v", events)
	}

	// The sender (a human, not an agent member) must not receive its own event.
	humanEvents, err := ib.DrainInbox(context.Background(), "human-1")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(humanEvents) != 0 {
		t.Fatalf("expected no self-delivery, got %+v", humanEvents)
	}
}

func TestHandlePostMessageRejectsMissingFields(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/smart-spaces/space-1/messages", strings.NewReader(`{"entityId":""}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleToolResultSentinelMapping(t *testing.T) {
	h, _, runs, mgr := newTestHandler(t)

	ctx := context.Background()
	if err := runs.Create(ctx, &models.Run{ID: "run-1", AgentEntityID: "agent-1", Status: models.RunRunning}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if _, err := mgr.BeginPending(ctx, "run-1", "call-1", "approve", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("begin pending: %v", err)
	}

	body := strings.NewReader(`{"callId":"call-1","result":{"approved":true}}`)
	req := httptest.NewRequest(http.MethodPost, "/runs/run-1/tool-results", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// Second submission for the same callId must fail as AlreadyCompleted -> 409.
	req2 := httptest.NewRequest(http.MethodPost, "/runs/run-1/tool-results", strings.NewReader(`{"callId":"call-1","result":{}}`))
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)
	if w2.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate submission, got %d", w2.Code)
	}

	req3 := httptest.NewRequest(http.MethodPost, "/runs/run-1/tool-results", strings.NewReader(`{"callId":"missing","result":{}}`))
	w3 := httptest.NewRecorder()
	h.ServeHTTP(w3, req3)
	if w3.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w3.Code)
	}
}

func TestHandleToolResultUnknownRun(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/runs/does-not-exist/tool-results", strings.NewReader(`{"callId":"call-1","result":{}}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleSpaceStreamRepliesWithPublishedEvents(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	// Publish before subscribing so replay (not live) delivers it.
	if err := h.cfg.Bus.PublishToSpace(context.Background(), "space-1", models.FanoutEvent{
		ID:   "evt-1",
		Type: models.EventAgentActive,
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/smart-spaces/space-1/stream", nil).WithContext(ctx)
	w := newFlushRecorder()
	h.ServeHTTP(w, req)

	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	foundEvent, foundData := false, false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: "+sseEventName) {
			foundEvent = true
		}
		if strings.Contains(line, `"agent.active"`) {
			foundData = true
		}
	}
	if !foundEvent || !foundData {
		t.Fatalf("expected replayed fanout event in SSE body, got: %s", w.Body.String())
	}
}

// flushRecorder adapts httptest.ResponseRecorder with a no-op Flush so
// serveSSE's http.Flusher type assertion succeeds in tests.
type flushRecorder struct {
	*httptest.ResponseRecorder
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (f *flushRecorder) Flush() {}

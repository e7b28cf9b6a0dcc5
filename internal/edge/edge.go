// Package edge implements the five HTTP/SSE touch points spec §6 names
// as the core's external interface: the trigger endpoint, the space
// message post (which fans into agent inboxes), the two SSE
// subscriptions the fan-out bus feeds, and the async-tool result
// submission. Routing, auth, and request validation beyond this
// minimal surface are out of scope per spec §1 — a real deployment
// fronts this with its own edge (rate limiting, membership checks,
// CORS) the way the teacher's own dashboard sits in front of its core.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lucentgrid/meridian/internal/asynctool"
	"github.com/lucentgrid/meridian/internal/bus"
	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/internal/inbox"
	"github.com/lucentgrid/meridian/internal/run"
	"github.com/lucentgrid/meridian/internal/spacemessage"
	"github.com/lucentgrid/meridian/pkg/models"
)

// Member is one resolved participant of a space, as an external
// membership oracle (spec §1: "assumed: a policy oracle the core
// calls") would report it.
type Member struct {
	AgentEntityID string
	Name          string
	Type          models.SenderType
}

// MembershipOracle resolves space membership and naming. The core
// never maintains membership itself; this is the boundary interface it
// calls, satisfied in a real deployment by the access-control service
// named out of scope in spec §1.
type MembershipOracle interface {
	// MembersOf returns every participant of smartSpaceID.
	MembersOf(ctx context.Context, smartSpaceID string) ([]Member, error)
	// SpaceName returns the display name of smartSpaceID.
	SpaceName(ctx context.Context, smartSpaceID string) (string, error)
}

// Config wires the Handler to the core components it fronts.
type Config struct {
	Inbox       *inbox.Inbox
	Bus         *bus.Bus
	Messages    spacemessage.Store
	AsyncTools  *asynctool.Manager
	Runs        run.Store
	Members     MembershipOracle
	Logger      *slog.Logger
	// RecentContextSize bounds the recentContext attached to a
	// space_message inbox event (spec §4.4). Defaults to 5.
	RecentContextSize int
}

// Handler is the gateway's minimal HTTP/SSE edge.
type Handler struct {
	cfg Config
	mux *http.ServeMux
}

// NewHandler builds the five-route mux described in spec §6.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RecentContextSize <= 0 {
		cfg.RecentContextSize = 5
	}

	h := &Handler{cfg: cfg, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /agents/{agentId}/trigger", h.handleTrigger)
	h.mux.HandleFunc("POST /smart-spaces/{spaceId}/messages", h.handlePostMessage)
	h.mux.HandleFunc("GET /smart-spaces/{spaceId}/stream", h.handleSpaceStream)
	h.mux.HandleFunc("GET /runs/{runId}/stream", h.handleRunStream)
	h.mux.HandleFunc("POST /runs/{runId}/tool-results", h.handleToolResult)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// triggerRequest is the body of POST /agents/{agentId}/trigger.
type triggerRequest struct {
	ServiceName string          `json:"serviceName"`
	Payload     json.RawMessage `json:"payload"`
}

type triggerResponse struct {
	Status    string `json:"status"`
	StreamURL string `json:"streamUrl"`
}

// handleTrigger pushes a service event to the named agent's inbox.
// agentId in the route is the addressable AgentEntityID the rest of
// the core keys on (spec calls it agentId at this boundary; internally
// it is the agentEntityId).
func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	agentEntityID := r.PathValue("agentId")
	if agentEntityID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ServiceName == "" {
		writeError(w, http.StatusBadRequest, "serviceName is required")
		return
	}

	if err := h.cfg.Inbox.PushServiceEvent(r.Context(), agentEntityID, models.ServiceEventData{
		ServiceName: req.ServiceName,
		Payload:     req.Payload,
	}); err != nil {
		h.cfg.Logger.Error("trigger: push service event", "agent_entity_id", agentEntityID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue trigger")
		return
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{
		Status:    "queued",
		StreamURL: "/runs/{runId}/stream", // runId is assigned once the worker creates its Run; returned lazily per spec §6
	})
}

// postMessageRequest is the body of POST /smart-spaces/{spaceId}/messages.
type postMessageRequest struct {
	EntityID string `json:"entityId"`
	Content  string `json:"content"`
}

// handlePostMessage persists a SpaceMessage with a new seq and wakes
// every other agent member of the space by pushing a space_message
// inbox event, per spec §6.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	spaceID := r.PathValue("spaceId")
	if spaceID == "" {
		writeError(w, http.StatusBadRequest, "spaceId is required")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "entityId and content are required")
		return
	}

	ctx := r.Context()
	members, err := h.cfg.Members.MembersOf(ctx, spaceID)
	if err != nil {
		h.cfg.Logger.Error("post message: resolve members", "space_id", spaceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve space membership")
		return
	}

	senderType := models.SenderHuman
	senderName := req.EntityID
	for _, m := range members {
		if m.AgentEntityID == req.EntityID {
			senderType = m.Type
			senderName = m.Name
			break
		}
	}

	role := models.RoleUser
	if senderType == models.SenderAgent {
		role = models.RoleAssistant
	}

	msg := &models.SpaceMessage{
		ID:           uuid.NewString(),
		SmartSpaceID: spaceID,
		EntityID:     req.EntityID,
		Role:         role,
		Content:      req.Content,
	}
	recentContext, err := h.recentContext(ctx, spaceID)
	if err != nil {
		h.cfg.Logger.Error("post message: recent context", "space_id", spaceID, "error", err)
	}

	if err := h.cfg.Messages.Insert(ctx, msg); err != nil {
		h.cfg.Logger.Error("post message: insert", "space_id", spaceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	spaceName, err := h.cfg.Members.SpaceName(ctx, spaceID)
	if err != nil {
		h.cfg.Logger.Error("post message: space name", "space_id", spaceID, "error", err)
	}

	for _, m := range members {
		if m.Type != models.SenderAgent || m.AgentEntityID == req.EntityID {
			continue
		}
		if err := h.cfg.Inbox.PushSpaceMessageEvent(ctx, m.AgentEntityID, models.SpaceMessageEventData{
			MessageID:      msg.ID,
			SmartSpaceID:   spaceID,
			SpaceName:      spaceName,
			SenderEntityID: req.EntityID,
			SenderName:     senderName,
			SenderType:     senderType,
			Content:        req.Content,
			RecentContext:  recentContext,
		}); err != nil {
			h.cfg.Logger.Error("post message: push inbox event", "agent_entity_id", m.AgentEntityID, "error", err)
		}
	}

	if err := h.cfg.Bus.PublishToSpace(ctx, spaceID, models.FanoutEvent{
		ID:           uuid.NewString(),
		Type:         models.EventSpaceMessage,
		Timestamp:    time.Now().UTC(),
		SmartSpaceID: spaceID,
		Message: &models.SpaceMessagePayload{
			MessageID: msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Seq:       msg.Seq,
		},
	}); err != nil {
		h.cfg.Logger.Error("post message: publish fanout", "space_id", spaceID, "error", err)
	}

	writeJSON(w, http.StatusCreated, msg)
}

// recentContext builds the up-to-N-prior-message window spec §4.4
// attaches to a space_message event for conversational grounding.
func (h *Handler) recentContext(ctx context.Context, spaceID string) ([]models.RecentMessage, error) {
	recent, err := h.cfg.Messages.RecentMessages(ctx, spaceID, h.cfg.RecentContextSize)
	if err != nil {
		return nil, err
	}
	out := make([]models.RecentMessage, 0, len(recent))
	for _, m := range recent {
		senderType := models.SenderHuman
		if m.Role == models.RoleAssistant {
			senderType = models.SenderAgent
		}
		out = append(out, models.RecentMessage{
			SenderName: m.EntityID,
			SenderType: senderType,
			Content:    m.Content,
		})
	}
	return out, nil
}

// handleSpaceStream serves GET /smart-spaces/{spaceId}/stream as SSE,
// replaying from Last-Event-ID (or ?since=) before switching to live
// publication, per spec §6.
func (h *Handler) handleSpaceStream(w http.ResponseWriter, r *http.Request) {
	spaceID := r.PathValue("spaceId")
	if spaceID == "" {
		writeError(w, http.StatusBadRequest, "spaceId is required")
		return
	}
	since := lastEventID(r)
	replay, err := h.cfg.Bus.ReplaySpace(r.Context(), spaceID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to replay stream")
		return
	}
	live, err := h.cfg.Bus.SubscribeSpace(r.Context(), spaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	serveSSE(w, r, h.cfg.Logger, replay, live)
}

// handleRunStream serves GET /runs/{runId}/stream analogously on the
// run:<runId> channel family.
func (h *Handler) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "runId is required")
		return
	}
	since := lastEventID(r)
	replay, err := h.cfg.Bus.ReplayRun(r.Context(), runID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to replay stream")
		return
	}
	live, err := h.cfg.Bus.SubscribeRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	serveSSE(w, r, h.cfg.Logger, replay, live)
}

// toolResultRequest is the body of POST /runs/{runId}/tool-results.
type toolResultRequest struct {
	CallID string          `json:"callId"`
	Result json.RawMessage `json:"result"`
}

// handleToolResult implements the Async-Tool Manager's external
// submission path (spec §4.7), mapping its sentinels to HTTP status
// the way spec §7 describes ("HTTP edge maps to 404" / "client error").
func (h *Handler) handleToolResult(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "runId is required")
		return
	}

	var req toolResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeError(w, http.StatusBadRequest, "callId and result are required")
		return
	}

	ctx := r.Context()
	runRow, err := h.cfg.Runs.Get(ctx, runID)
	if err != nil {
		h.cfg.Logger.Error("tool result: load run", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	if runRow == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	err = h.cfg.AsyncTools.SubmitToolResult(ctx, runRow.AgentEntityID, runID, req.CallID, req.Result)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, gatewayerr.ErrNotFound):
		writeError(w, http.StatusNotFound, "pending tool call not found")
	case errors.Is(err, gatewayerr.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "tool result already submitted")
	default:
		h.cfg.Logger.Error("tool result: submit", "run_id", runID, "call_id", req.CallID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit tool result")
	}
}

func lastEventID(r *http.Request) string {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("since")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

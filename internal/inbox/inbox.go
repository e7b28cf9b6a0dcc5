package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lucentgrid/meridian/internal/broker"
	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/pkg/models"
)

// waitTimeout is the server-side poll interval waitForInbox loops on
// while waiting for cancellation, per spec §4.4.
const waitTimeout = 30 * time.Second

// Inbox is the per-agent stimulus queue (C4): a broker-hosted fast queue
// fronting the durable Store, so a blocked worker wakes promptly while
// the row-store log remains the source of truth for dedup and recovery.
type Inbox struct {
	store  Store
	broker broker.Broker
}

func New(store Store, b broker.Broker) *Inbox {
	return &Inbox{store: store, broker: b}
}

func queueKey(agentEntityID string) string { return "inbox:" + agentEntityID }
func wakeKey(agentEntityID string) string  { return "inbox-wake:" + agentEntityID }

// PushToInbox records event in the durable log (idempotent upsert),
// then left-pushes it onto the fast queue and publishes a wakeup. Steps
// two and three run even when the upsert was a no-op: a retried push
// after a partial failure must still re-deliver to the queue.
func (ib *Inbox) PushToInbox(ctx context.Context, event *models.InboxEvent) error {
	if _, err := ib.store.UpsertPending(ctx, event); err != nil {
		return &gatewayerr.TransientError{Op: "inbox.upsert", Err: err}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("inbox: encode event %s: %w", event.EventID, err)
	}
	if err := ib.broker.LeftPush(ctx, queueKey(event.AgentEntityID), payload); err != nil {
		return &gatewayerr.TransientError{Op: "inbox.left_push", Err: err}
	}
	if err := ib.broker.Publish(ctx, wakeKey(event.AgentEntityID), nil); err != nil {
		return &gatewayerr.TransientError{Op: "inbox.publish_wakeup", Err: err}
	}
	return nil
}

// PushSpaceMessageEvent pushes a space_message event, keyed by the
// message id so one message produces at most one inbox entry per
// recipient.
func (ib *Inbox) PushSpaceMessageEvent(ctx context.Context, agentEntityID string, data models.SpaceMessageEventData) error {
	return ib.pushTyped(ctx, agentEntityID, models.InboxEventSpaceMessage, data.MessageID, data)
}

// PushPlanEvent pushes a plan event, keyed by planId:timestamp so
// recurring plans generate a distinct event per firing.
func (ib *Inbox) PushPlanEvent(ctx context.Context, agentEntityID string, data models.PlanEventData, firedAt time.Time) error {
	eventID := data.PlanID + ":" + strconv.FormatInt(firedAt.UnixNano(), 10)
	return ib.pushTyped(ctx, agentEntityID, models.InboxEventPlan, eventID, data)
}

// PushServiceEvent pushes a service event under a fresh random id.
func (ib *Inbox) PushServiceEvent(ctx context.Context, agentEntityID string, data models.ServiceEventData) error {
	return ib.pushTyped(ctx, agentEntityID, models.InboxEventService, uuid.NewString(), data)
}

// PushToolResultEvent pushes a tool_result event keyed by "tr:"+toolCallId,
// idempotent against a double submission of the same result.
func (ib *Inbox) PushToolResultEvent(ctx context.Context, agentEntityID string, data models.ToolResultEventData) error {
	return ib.pushTyped(ctx, agentEntityID, models.InboxEventToolResult, "tr:"+data.ToolCallID, data)
}

func (ib *Inbox) pushTyped(ctx context.Context, agentEntityID string, typ models.InboxEventType, eventID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("inbox: encode %s payload: %w", typ, err)
	}
	return ib.PushToInbox(ctx, &models.InboxEvent{
		AgentEntityID: agentEntityID,
		EventID:       eventID,
		Type:          typ,
		Data:          raw,
		CreatedAt:     time.Now().UTC(),
	})
}

// DrainInbox right-pops all currently queued items until empty,
// JSON-decodes each, deduplicates by event id, and returns them in FIFO
// order.
func (ib *Inbox) DrainInbox(ctx context.Context, agentEntityID string) ([]*models.InboxEvent, error) {
	raw, err := ib.broker.RightPopAll(ctx, queueKey(agentEntityID))
	if err != nil {
		return nil, &gatewayerr.TransientError{Op: "inbox.drain", Err: err}
	}

	seen := make(map[string]bool, len(raw))
	events := make([]*models.InboxEvent, 0, len(raw))
	for _, item := range raw {
		var e models.InboxEvent
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		if seen[e.EventID] {
			continue
		}
		seen[e.EventID] = true
		events = append(events, &e)
	}
	return events, nil
}

// WaitForInbox blocks until an event is available or ctx is canceled,
// looping a timed blocking pop so cancellation is always observed
// promptly. It returns the first event only; the full batch is fetched
// next via DrainInbox.
func (ib *Inbox) WaitForInbox(ctx context.Context, agentEntityID string) (*models.InboxEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, gatewayerr.ErrCanceled
		}

		raw, err := ib.broker.BlockingRightPop(ctx, queueKey(agentEntityID), waitTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, gatewayerr.ErrCanceled
			}
			return nil, &gatewayerr.TransientError{Op: "inbox.wait", Err: err}
		}
		if raw == nil {
			continue // timed out; loop and re-check cancellation
		}

		var e models.InboxEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			continue // malformed entry; keep waiting for a usable one
		}
		return &e, nil
	}
}

// PeekInbox is a non-destructive read of up to count items from the
// oldest end of the fast queue.
func (ib *Inbox) PeekInbox(ctx context.Context, agentEntityID string, count int) ([]*models.InboxEvent, error) {
	raw, err := ib.broker.PeekTail(ctx, queueKey(agentEntityID), count)
	if err != nil {
		return nil, &gatewayerr.TransientError{Op: "inbox.peek", Err: err}
	}
	events := make([]*models.InboxEvent, 0, len(raw))
	for _, item := range raw {
		var e models.InboxEvent
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		events = append(events, &e)
	}
	return events, nil
}

// InboxSize reports the current length of the fast queue.
func (ib *Inbox) InboxSize(ctx context.Context, agentEntityID string) (int, error) {
	n, err := ib.broker.Len(ctx, queueKey(agentEntityID))
	if err != nil {
		return 0, &gatewayerr.TransientError{Op: "inbox.size", Err: err}
	}
	return n, nil
}

func (ib *Inbox) MarkEventsProcessing(ctx context.Context, agentEntityID string, eventIDs []string, runID string) error {
	return ib.store.MarkProcessing(ctx, agentEntityID, eventIDs, runID)
}

func (ib *Inbox) MarkEventsProcessed(ctx context.Context, agentEntityID string, eventIDs []string) error {
	return ib.store.MarkProcessed(ctx, agentEntityID, eventIDs)
}

func (ib *Inbox) MarkEventsFailed(ctx context.Context, agentEntityID string, eventIDs []string) error {
	return ib.store.MarkFailed(ctx, agentEntityID, eventIDs)
}

// RecoverStuckEvents finds every processing row for agentEntityID,
// re-left-pushes each onto the fast queue, then resets its status to
// pending. Called once at worker start to heal a crash between
// markEventsProcessing and terminal marking.
func (ib *Inbox) RecoverStuckEvents(ctx context.Context, agentEntityID string) (int, error) {
	stuck, err := ib.store.ListProcessing(ctx, agentEntityID)
	if err != nil {
		return 0, &gatewayerr.TransientError{Op: "inbox.recover.list", Err: err}
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stuck))
	for _, e := range stuck {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := ib.broker.LeftPush(ctx, queueKey(agentEntityID), payload); err != nil {
			return 0, &gatewayerr.TransientError{Op: "inbox.recover.requeue", Err: err}
		}
		ids = append(ids, e.EventID)
	}

	if err := ib.store.ResetToPending(ctx, agentEntityID, ids); err != nil {
		return 0, &gatewayerr.TransientError{Op: "inbox.recover.reset", Err: err}
	}
	return len(ids), nil
}

// FormatInboxEvents renders a drained batch as the user-role text block
// the worker appends to consciousness for a cycle.
func FormatInboxEvents(events []*models.InboxEvent, now time.Time) string {
	return formatInboxEvents(events, now.Format(time.RFC3339))
}

// FormatInboxPreview renders a truncated preview of peeked events for
// mid-cycle prepareStep injection.
func FormatInboxPreview(events []*models.InboxEvent) string {
	return formatInboxPreview(events)
}

// Package bus implements the Fan-out Bus (C8): two channel families,
// space:<smartSpaceId> and run:<runId>, each backed by broker pub/sub
// for live subscribers and a bounded append-only stream for SSE
// reconnection replay.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lucentgrid/meridian/internal/broker"
	"github.com/lucentgrid/meridian/internal/observability"
	"github.com/lucentgrid/meridian/pkg/models"
)

// Bus is the C8 Fan-out Bus.
type Bus struct {
	broker  broker.Broker
	metrics *observability.Metrics
}

// New constructs a Bus. metrics may be nil, in which case published
// events are not counted.
func New(b broker.Broker, metrics *observability.Metrics) *Bus {
	return &Bus{broker: b, metrics: metrics}
}

func spaceKey(smartSpaceID string) string { return "space:" + smartSpaceID }
func runKey(runID string) string          { return "run:" + runID }

// PublishToSpace appends event to the space's replay stream and
// publishes it to live subscribers, in that order so a reconnecting
// subscriber's replay always includes everything any live subscriber
// could have seen.
func (b *Bus) PublishToSpace(ctx context.Context, smartSpaceID string, event models.FanoutEvent) error {
	return b.publish(ctx, spaceKey(smartSpaceID), event)
}

// PublishToRun mirrors PublishToSpace on the run:<runId> channel family.
func (b *Bus) PublishToRun(ctx context.Context, runID string, event models.FanoutEvent) error {
	return b.publish(ctx, runKey(runID), event)
}

func (b *Bus) publish(ctx context.Context, key string, event models.FanoutEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: encode event: %w", err)
	}
	if _, err := b.broker.StreamAppend(ctx, key, payload); err != nil {
		return fmt.Errorf("bus: append to stream %s: %w", key, err)
	}
	if err := b.broker.Publish(ctx, key, payload); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", key, err)
	}
	if b.metrics != nil {
		b.metrics.RecordFanoutEvent(string(event.Type))
	}
	return nil
}

// EmitToSpaces publishes event to every space in spaceIDs, used for
// agent.active/agent.inactive which fan out to every space an agent
// belongs to. Membership resolution is the caller's responsibility
// (spec treats it as an external oracle).
func (b *Bus) EmitToSpaces(ctx context.Context, spaceIDs []string, event models.FanoutEvent) error {
	for _, id := range spaceIDs {
		if err := b.PublishToSpace(ctx, id, event); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeSpace returns a channel of raw event payloads published to
// smartSpaceID until ctx is done.
func (b *Bus) SubscribeSpace(ctx context.Context, smartSpaceID string) (<-chan []byte, error) {
	return b.broker.Subscribe(ctx, spaceKey(smartSpaceID))
}

// SubscribeRun mirrors SubscribeSpace on the run:<runId> channel family.
func (b *Bus) SubscribeRun(ctx context.Context, runID string) (<-chan []byte, error) {
	return b.broker.Subscribe(ctx, runKey(runID))
}

// ReplaySpace returns every space event recorded after lastEventID (or
// all retained events if lastEventID is empty), for an SSE client
// resuming with a Last-Event-ID header.
func (b *Bus) ReplaySpace(ctx context.Context, smartSpaceID, lastEventID string) ([]broker.StreamEntry, error) {
	return b.broker.StreamRead(ctx, spaceKey(smartSpaceID), lastEventID)
}

// ReplayRun mirrors ReplaySpace on the run:<runId> channel family.
func (b *Bus) ReplayRun(ctx context.Context, runID, lastEventID string) ([]broker.StreamEntry, error) {
	return b.broker.StreamRead(ctx, runKey(runID), lastEventID)
}

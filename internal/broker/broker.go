// Package broker defines the fast-queue/pub-sub collaborator the Inbox
// (C4) and Fan-out Bus (C8) sit on top of: FIFO lists with blocking
// pop, pub/sub wakeups, and bounded append-only streams for SSE replay.
// Spec §1 frames this as an assumed external collaborator (a real
// deployment would point it at Redis or similar); Broker is the
// interface that collaborator must satisfy, and MemoryBroker is the
// in-process implementation used for tests and single-process runs.
package broker

import (
	"context"
	"time"
)

// Broker is the logical broker surface described in spec §6 ("Broker
// keys"): FIFO lists (inbox queues), pub/sub (wakeups), and bounded
// append-only streams (space/run replay).
type Broker interface {
	// LeftPush appends payload to the head of the named list.
	LeftPush(ctx context.Context, key string, payload []byte) error

	// RightPopAll drains the named list from the tail, returning all
	// currently queued payloads in FIFO order and leaving the list empty.
	RightPopAll(ctx context.Context, key string) ([][]byte, error)

	// PeekTail returns up to count payloads from the tail without
	// removing them, oldest first.
	PeekTail(ctx context.Context, key string, count int) ([][]byte, error)

	// Len reports the current length of the named list.
	Len(ctx context.Context, key string) (int, error)

	// BlockingRightPop blocks until the named list is non-empty or
	// timeout elapses, returning the oldest payload. A zero-length
	// result with a nil error signals a timeout, not an error.
	BlockingRightPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)

	// Publish delivers payload to any active Subscribe calls on key.
	// Delivery is best-effort: a publish with no subscribers is a no-op.
	Publish(ctx context.Context, key string, payload []byte) error

	// Subscribe returns a channel of payloads published to key until ctx
	// is done, at which point the channel is closed.
	Subscribe(ctx context.Context, key string) (<-chan []byte, error)

	// StreamAppend appends payload to a bounded, replayable stream
	// identified by key, returning the id assigned to the entry.
	StreamAppend(ctx context.Context, key string, payload []byte) (string, error)

	// StreamRead returns stream entries with id greater than afterID (or
	// all entries if afterID is empty), oldest first.
	StreamRead(ctx context.Context, key string, afterID string) ([]StreamEntry, error)
}

// StreamEntry is one entry of a broker-backed append-only stream.
type StreamEntry struct {
	ID      string
	Payload []byte
}

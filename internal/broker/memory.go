package broker

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultStreamBacklog bounds how many entries a replay stream retains
// before dropping the oldest (spec §5: "SSE subscribers that stall are
// dropped by the broker's bounded stream").
const DefaultStreamBacklog = 1000

// MemoryBroker is an in-process Broker backed by mutex-guarded maps and
// channels, mirroring the teacher's MemoryStore idiom (internal/asynctool
// and internal/scheduler both use the same mutex+map shape for their
// in-memory test doubles).
type MemoryBroker struct {
	mu            sync.Mutex
	lists         map[string][][]byte
	waiters       map[string][]chan struct{}
	subscribers   map[string][]chan []byte
	streams       map[string][]StreamEntry
	streamBacklog int
	nextStreamID  map[string]int64
}

// NewMemoryBroker constructs an empty MemoryBroker. backlog <= 0 uses
// DefaultStreamBacklog.
func NewMemoryBroker(backlog int) *MemoryBroker {
	if backlog <= 0 {
		backlog = DefaultStreamBacklog
	}
	return &MemoryBroker{
		lists:         make(map[string][][]byte),
		waiters:       make(map[string][]chan struct{}),
		subscribers:   make(map[string][]chan []byte),
		streams:       make(map[string][]StreamEntry),
		streamBacklog: backlog,
		nextStreamID:  make(map[string]int64),
	}
}

func (b *MemoryBroker) LeftPush(_ context.Context, key string, payload []byte) error {
	b.mu.Lock()
	b.lists[key] = append([][]byte{payload}, b.lists[key]...)
	waiters := b.waiters[key]
	b.waiters[key] = nil
	b.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

func (b *MemoryBroker) RightPopAll(_ context.Context, key string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.lists[key]
	delete(b.lists, key)
	// items[0] is the most recently pushed; reverse so the oldest comes first.
	out := make([][]byte, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return out, nil
}

func (b *MemoryBroker) PeekTail(_ context.Context, key string, count int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.lists[key]
	if count <= 0 || count > len(items) {
		count = len(items)
	}
	// items[0] is the most recently pushed (head); the tail end is the
	// oldest. Slice the last `count` entries, oldest first.
	start := len(items) - count
	out := make([][]byte, 0, count)
	for i := len(items) - 1; i >= start; i-- {
		out = append(out, items[i])
	}
	return out, nil
}

func (b *MemoryBroker) Len(_ context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lists[key]), nil
}

func (b *MemoryBroker) BlockingRightPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		items := b.lists[key]
		if len(items) > 0 {
			tail := items[len(items)-1]
			b.lists[key] = items[:len(items)-1]
			b.mu.Unlock()
			return tail, nil
		}
		wake := make(chan struct{})
		b.waiters[key] = append(b.waiters[key], wake)
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-wake:
			// loop and try again; another waiter may have won the race
		}
	}
}

func (b *MemoryBroker) Publish(_ context.Context, key string, payload []byte) error {
	b.mu.Lock()
	subs := append([]chan []byte(nil), b.subscribers[key]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
			// slow subscriber: best-effort delivery only, per spec §4.8.
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, key string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subscribers[key] = append(b.subscribers[key], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[key]
		for i, c := range subs {
			if c == ch {
				b.subscribers[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (b *MemoryBroker) StreamAppend(_ context.Context, key string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextStreamID[key]++
	id := strconv.FormatInt(b.nextStreamID[key], 10)
	entries := append(b.streams[key], StreamEntry{ID: id, Payload: payload})
	if len(entries) > b.streamBacklog {
		entries = entries[len(entries)-b.streamBacklog:]
	}
	b.streams[key] = entries
	return id, nil
}

func (b *MemoryBroker) StreamRead(_ context.Context, key string, afterID string) ([]StreamEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.streams[key]
	if afterID == "" {
		out := make([]StreamEntry, len(entries))
		copy(out, entries)
		return out, nil
	}
	afterN, err := strconv.ParseInt(afterID, 10, 64)
	if err != nil {
		return nil, err
	}
	var out []StreamEntry
	for _, e := range entries {
		n, err := strconv.ParseInt(e.ID, 10, 64)
		if err == nil && n <= afterN {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/lucentgrid/meridian/pkg/models"
)

// MemoryStore is an in-process Store backed by a mutex-guarded map,
// used in tests and single-process runs.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*models.InboxEvent // key: agentEntityID + "\x00" + eventID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*models.InboxEvent)}
}

func key(agentEntityID, eventID string) string {
	return agentEntityID + "\x00" + eventID
}

func (s *MemoryStore) UpsertPending(_ context.Context, event *models.InboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(event.AgentEntityID, event.EventID)
	if _, exists := s.events[k]; exists {
		return false, nil
	}

	stored := *event
	stored.Status = models.InboxStatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.events[k] = &stored
	return true, nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, agentEntityID string, eventIDs []string, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		e, ok := s.events[key(agentEntityID, id)]
		if !ok || e.Status != models.InboxStatusPending {
			continue
		}
		e.Status = models.InboxStatusProcessing
		e.RunID = runID
	}
	return nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, agentEntityID string, eventIDs []string) error {
	return s.transitionFromProcessing(agentEntityID, eventIDs, models.InboxStatusProcessed)
}

func (s *MemoryStore) MarkFailed(_ context.Context, agentEntityID string, eventIDs []string) error {
	return s.transitionFromProcessing(agentEntityID, eventIDs, models.InboxStatusFailed)
}

func (s *MemoryStore) transitionFromProcessing(agentEntityID string, eventIDs []string, to models.InboxEventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range eventIDs {
		e, ok := s.events[key(agentEntityID, id)]
		if !ok || e.Status != models.InboxStatusProcessing {
			continue
		}
		e.Status = to
		e.ProcessedAt = now
	}
	return nil
}

func (s *MemoryStore) ResetToPending(_ context.Context, agentEntityID string, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		e, ok := s.events[key(agentEntityID, id)]
		if !ok || e.Status != models.InboxStatusProcessing {
			continue
		}
		e.Status = models.InboxStatusPending
		e.RunID = ""
	}
	return nil
}

func (s *MemoryStore) ListProcessing(_ context.Context, agentEntityID string) ([]*models.InboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.InboxEvent
	for _, e := range s.events {
		if e.AgentEntityID == agentEntityID && e.Status == models.InboxStatusProcessing {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

package consciousness

import (
	"context"
	"sync"
	"time"

	"github.com/lucentgrid/meridian/pkg/models"
)

// MemoryStore is an in-process Store backed by a mutex-guarded map,
// grounded on the teacher's session memory store: every record is
// deep-cloned on the way in and out so callers can never mutate state
// held by the store through an aliased slice.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.Consciousness
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.Consciousness)}
}

func (s *MemoryStore) Load(_ context.Context, agentEntityID string) (*models.Consciousness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.records[agentEntityID]; ok {
		return c.Clone(), nil
	}
	return &models.Consciousness{
		AgentEntityID: agentEntityID,
		Messages:      nil,
		CycleCount:    0,
		TokenEstimate: 0,
		LastCycleAt:   time.Time{},
	}, nil
}

func (s *MemoryStore) Save(_ context.Context, c *models.Consciousness) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[c.AgentEntityID] = c.Clone()
	return nil
}

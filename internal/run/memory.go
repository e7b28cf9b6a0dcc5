package run

import (
	"context"
	"sync"

	"github.com/lucentgrid/meridian/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*models.Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*models.Run)}
}

func (s *MemoryStore) Create(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *MemoryStore) Update(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *run
	s.runs[run.ID] = &stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// GetForTest returns the stored run, for test assertions.
func (s *MemoryStore) GetForTest(runID string) (*models.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	return r, ok
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, runID string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	stored := *r
	return &stored, nil
}

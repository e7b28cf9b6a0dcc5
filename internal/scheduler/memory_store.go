package scheduler

import (
	"context"
	"sync"

	"github.com/lucentgrid/meridian/pkg/models"
)

// MemoryPlanStore is an in-process PlanStore for tests and single-process
// runs.
type MemoryPlanStore struct {
	mu    sync.Mutex
	plans map[string]*models.Plan
}

func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[string]*models.Plan)}
}

func (s *MemoryPlanStore) Get(_ context.Context, planID string) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryPlanStore) Save(_ context.Context, plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *plan
	s.plans[plan.ID] = &clone
	return nil
}

func (s *MemoryPlanStore) ListPending(_ context.Context) ([]*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Plan
	for _, p := range s.plans {
		if p.Status == models.PlanPending {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

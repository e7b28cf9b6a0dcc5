package asynctool

import (
	"context"
	"sync"
	"time"

	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-process runs.
type MemoryStore struct {
	mu    sync.Mutex
	calls map[string]*models.PendingToolCall
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calls: make(map[string]*models.PendingToolCall)}
}

func callKey(runID, callID string) string { return runID + "\x00" + callID }

func (s *MemoryStore) Insert(_ context.Context, call *models.PendingToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *call
	if clone.RequestedAt.IsZero() {
		clone.RequestedAt = time.Now().UTC()
	}
	clone.Status = models.PendingToolPending
	s.calls[callKey(call.RunID, call.CallID)] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID, callID string) (*models.PendingToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callKey(runID, callID)]
	if !ok {
		return nil, nil
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) Complete(_ context.Context, runID, callID string, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callKey(runID, callID)]
	if !ok {
		return gatewayerr.ErrNotFound
	}
	if c.Status != models.PendingToolPending {
		return gatewayerr.ErrAlreadyCompleted
	}
	c.Status = models.PendingToolCompleted
	c.Output = output
	c.CompletedAt = time.Now().UTC()
	return nil
}

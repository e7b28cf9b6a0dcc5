package spacemessage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lucentgrid/meridian/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]*models.SpaceMessage
	seqs     map[string]int64
	byCall   map[string]string   // runID+"\x00"+callID -> message ID
	bySpace  map[string][]string // smartSpaceID -> message IDs in insertion order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*models.SpaceMessage),
		seqs:     make(map[string]int64),
		byCall:   make(map[string]string),
		bySpace:  make(map[string][]string),
	}
}

func callKey(runID, callID string) string { return runID + "\x00" + callID }

func (s *MemoryStore) Insert(_ context.Context, msg *models.SpaceMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	s.seqs[msg.SmartSpaceID]++
	msg.Seq = s.seqs[msg.SmartSpaceID]
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	stored := *msg
	s.messages[msg.ID] = &stored
	s.bySpace[msg.SmartSpaceID] = append(s.bySpace[msg.SmartSpaceID], msg.ID)
	if msg.ToolCallID != "" {
		s.byCall[callKey(msg.RunID, msg.ToolCallID)] = msg.ID
	}
	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, smartSpaceID string, limit int) ([]*models.SpaceMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.bySpace[smartSpaceID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*models.SpaceMessage, 0, len(ids))
	for _, id := range ids {
		msg := *s.messages[id]
		out = append(out, &msg)
	}
	return out, nil
}

func (s *MemoryStore) FindByToolCall(_ context.Context, runID, callID string) (*models.SpaceMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCall[callKey(runID, callID)]
	if !ok {
		return nil, nil
	}
	msg := *s.messages[id]
	return &msg, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.SpaceMessageStatus, content string) (*models.SpaceMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	msg.Status = status
	msg.Content = content
	updated := *msg
	return &updated, nil
}

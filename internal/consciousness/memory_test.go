package consciousness

import (
	"context"
	"testing"

	"github.com/lucentgrid/meridian/pkg/models"
)

func TestMemoryStoreLoadMissingReturnsEmpty(t *testing.T) {
	s := NewMemoryStore()
	c, err := s.Load(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.AgentEntityID != "agent-1" || len(c.Messages) != 0 {
		t.Fatalf("expected fresh empty record, got %+v", c)
	}
}

func TestMemoryStoreSaveThenLoadRoundTrips(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	original := &models.Consciousness{
		AgentEntityID: "agent-1",
		Messages: []models.ConsciousnessMessage{
			{Role: models.RoleUser, Content: "hello"},
		},
		CycleCount:    3,
		TokenEstimate: 42,
	}
	if err := s.Save(ctx, original); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := s.Load(ctx, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.CycleCount != 3 || loaded.TokenEstimate != 42 || len(loaded.Messages) != 1 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	// Mutating the loaded copy must not affect the store's internal state.
	loaded.Messages[0].Content = "mutated"
	reloaded, _ := s.Load(ctx, "agent-1")
	if reloaded.Messages[0].Content != "hello" {
		t.Fatalf("store aliased caller's slice: got %q", reloaded.Messages[0].Content)
	}
}

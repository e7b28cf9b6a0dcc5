package run

import (
	"context"
	"testing"

	"github.com/lucentgrid/meridian/pkg/models"
)

func TestMemoryStoreCreateUpdateDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r := &models.Run{ID: "run-1", AgentEntityID: "agent-1", Status: models.RunRunning, CycleNumber: 1}
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Status = models.RunCompleted
	if err := s.Update(ctx, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, ok := s.GetForTest("run-1")
	if !ok || stored.Status != models.RunCompleted {
		t.Fatalf("expected updated run, got %+v ok=%v", stored, ok)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil || got == nil || got.Status != models.RunCompleted {
		t.Fatalf("expected Get to return updated run, got %+v err=%v", got, err)
	}

	if err := s.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.GetForTest("run-1"); ok {
		t.Fatal("expected run to be deleted")
	}
}

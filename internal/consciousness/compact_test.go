package consciousness

import (
	"reflect"
	"testing"
	"time"

	"github.com/lucentgrid/meridian/pkg/models"
)

func buildCycles(n int) []models.ConsciousnessMessage {
	msgs := []models.ConsciousnessMessage{
		{Role: models.RoleSystem, Content: "you are an agent"},
	}
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			models.ConsciousnessMessage{Role: models.RoleUser, Content: "drained inbox events for cycle"},
			models.ConsciousnessMessage{Role: models.RoleAssistant, Content: "a fairly long assistant response about what it did"},
		)
	}
	return msgs
}

func TestEstimateTokensDeterministic(t *testing.T) {
	msgs := buildCycles(3)
	a := EstimateTokens(msgs)
	b := EstimateTokens(msgs)
	if a != b {
		t.Fatalf("EstimateTokens not deterministic: %d != %d", a, b)
	}
	if a <= 0 {
		t.Fatalf("expected positive estimate, got %d", a)
	}
}

func TestCompactReducesUnderCap(t *testing.T) {
	msgs := buildCycles(50)
	before := EstimateTokens(msgs)

	compacted := Compact(msgs, before/4)

	after := EstimateTokens(compacted)
	if after > before/4 {
		t.Fatalf("expected tokenEstimate <= %d after compaction, got %d", before/4, after)
	}
}

func TestCompactPreservesLeadingSystemPrompt(t *testing.T) {
	msgs := buildCycles(30)
	compacted := Compact(msgs, 1)

	if compacted[0].Role != models.RoleSystem || compacted[0].IsSummary {
		t.Fatalf("expected leading system prompt preserved, got %+v", compacted[0])
	}
	if compacted[0].Content != "you are an agent" {
		t.Fatalf("leading system prompt content changed: %q", compacted[0].Content)
	}
}

func TestCompactPreservesMostRecentCycleVerbatim(t *testing.T) {
	msgs := buildCycles(30)
	last := msgs[len(msgs)-2:]

	compacted := Compact(msgs, 1)

	tail := compacted[len(compacted)-2:]
	if !reflect.DeepEqual(tail[0], last[0]) || !reflect.DeepEqual(tail[1], last[1]) {
		t.Fatalf("most recent cycle was altered by compaction")
	}
}

func TestCompactIsMonotone(t *testing.T) {
	msgs := buildCycles(20)
	before := len(msgs)
	compacted := Compact(msgs, EstimateTokens(msgs))
	if len(compacted) > before {
		t.Fatalf("compaction grew the sequence: %d -> %d", before, len(compacted))
	}
}

func TestCompactIsFixpoint(t *testing.T) {
	msgs := buildCycles(20)
	budget := EstimateTokens(msgs) / 3

	once := Compact(msgs, budget)
	twice := Compact(once, budget)

	if len(once) != len(twice) {
		t.Fatalf("compaction not a fixpoint: %d messages then %d", len(once), len(twice))
	}
	for i := range once {
		if !reflect.DeepEqual(once[i], twice[i]) {
			t.Fatalf("compaction not a fixpoint at message %d", i)
		}
	}
}

func TestRefreshSystemPromptReplacesExisting(t *testing.T) {
	msgs := buildCycles(1)
	refreshed := RefreshSystemPrompt(msgs, "new prompt")

	if refreshed[0].Content != "new prompt" {
		t.Fatalf("expected system prompt replaced, got %q", refreshed[0].Content)
	}
	if len(refreshed) != len(msgs) {
		t.Fatalf("expected same length, got %d vs %d", len(refreshed), len(msgs))
	}
}

func TestRefreshSystemPromptInsertsWhenMissing(t *testing.T) {
	msgs := []models.ConsciousnessMessage{
		{Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()},
	}
	refreshed := RefreshSystemPrompt(msgs, "new prompt")

	if len(refreshed) != 2 {
		t.Fatalf("expected a prompt inserted, got %d messages", len(refreshed))
	}
	if refreshed[0].Role != models.RoleSystem || refreshed[0].Content != "new prompt" {
		t.Fatalf("expected inserted system prompt at head, got %+v", refreshed[0])
	}
}

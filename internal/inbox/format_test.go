package inbox

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lucentgrid/meridian/pkg/models"
)

func TestFormatInboxEventsIncludesRecentContext(t *testing.T) {
	data := models.SpaceMessageEventData{
		SenderName: "alice",
		SenderType: models.SenderHuman,
		SpaceName:  "general",
		Content:    "hello there",
		RecentContext: []models.RecentMessage{
			{SenderName: "bob", SenderType: models.SenderAgent, Content: "earlier message"},
		},
	}
	raw, _ := json.Marshal(data)
	events := []*models.InboxEvent{{Type: models.InboxEventSpaceMessage, Data: raw}}

	out := formatInboxEvents(events, "2026-07-30T00:00:00Z")
	if !strings.Contains(out, "INBOX (1 events") {
		t.Fatalf("missing header: %q", out)
	}
	if !strings.Contains(out, "Recent conversation") || !strings.Contains(out, "earlier message") {
		t.Fatalf("missing recent context: %q", out)
	}
}

func TestFormatInboxEventsIncludesToolCallID(t *testing.T) {
	data := models.ToolResultEventData{
		ToolCallID: "c1",
		ToolName:   "approve",
		Result:     json.RawMessage(`{"approved":true}`),
	}
	raw, _ := json.Marshal(data)
	events := []*models.InboxEvent{{Type: models.InboxEventToolResult, Data: raw}}

	out := formatInboxEvents(events, "2026-07-30T00:00:00Z")
	want := `[Tool Result: approve] (callId: c1) {"approved":true}`
	if !strings.Contains(out, want) {
		t.Fatalf("expected %q in output, got %q", want, out)
	}
}

func TestFormatInboxPreviewTruncatesContent(t *testing.T) {
	data := models.SpaceMessageEventData{
		SenderName: "alice",
		SenderType: models.SenderHuman,
		SpaceName:  "general",
		Content:    strings.Repeat("x", 200),
	}
	raw, _ := json.Marshal(data)
	events := []*models.InboxEvent{{Type: models.InboxEventSpaceMessage, Data: raw}}

	out := formatInboxPreview(events)
	for _, line := range strings.Split(out, "\n") {
		if len(line) > previewTruncateLen+4 {
			t.Fatalf("expected preview line truncated to ~%d chars, got %d: %q", previewTruncateLen, len(line), line)
		}
	}
}

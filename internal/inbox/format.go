package inbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucentgrid/meridian/pkg/models"
)

const previewTruncateLen = 50

// formatInboxEvents renders a batch of drained events as the single
// user-role text block the worker appends to consciousness for a cycle.
func formatInboxEvents(events []*models.InboxEvent, now string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INBOX (%d events, %s):\n", len(events), now)
	for _, e := range events {
		b.WriteString(formatOneEvent(e))
		b.WriteString("\n")
	}
	return b.String()
}

// formatInboxPreview renders a short, non-destructive preview of at most
// len(events) queued items for mid-cycle prepareStep injection, with
// content truncated to ~50 characters.
func formatInboxPreview(events []*models.InboxEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PENDING INBOX (%d):\n", len(events))
	for _, e := range events {
		b.WriteString(truncate(formatOneEvent(e), previewTruncateLen))
		b.WriteString("\n")
	}
	return b.String()
}

func formatOneEvent(e *models.InboxEvent) string {
	switch e.Type {
	case models.InboxEventSpaceMessage:
		var d models.SpaceMessageEventData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Sprintf("- [space_message] (unparseable: %v)", err)
		}
		line := fmt.Sprintf("- [space_message] %s (%s) in %q: %s", d.SenderName, d.SenderType, d.SpaceName, d.Content)
		if len(d.RecentContext) > 0 {
			line += "\n  Recent conversation:"
			for _, rc := range d.RecentContext {
				line += fmt.Sprintf("\n    %s (%s): %s", rc.SenderName, rc.SenderType, rc.Content)
			}
		}
		return line
	case models.InboxEventPlan:
		var d models.PlanEventData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Sprintf("- [plan] (unparseable: %v)", err)
		}
		return fmt.Sprintf("- [plan] %s: %s", d.PlanName, d.Instruction)
	case models.InboxEventService:
		var d models.ServiceEventData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Sprintf("- [service] (unparseable: %v)", err)
		}
		return fmt.Sprintf("- [service] %s: %s", d.ServiceName, string(d.Payload))
	case models.InboxEventToolResult:
		var d models.ToolResultEventData
		if err := json.Unmarshal(e.Data, &d); err != nil {
			return fmt.Sprintf("- [tool_result] (unparseable: %v)", err)
		}
		return fmt.Sprintf("- [Tool Result: %s] (callId: %s) %s", d.ToolName, d.ToolCallID, string(d.Result))
	default:
		return fmt.Sprintf("- [%s] %s", e.Type, string(e.Data))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

package consciousness

import (
	"strings"

	"github.com/lucentgrid/meridian/pkg/models"
)

// charsPerToken is the deterministic char-to-token ratio the estimator
// divides by (4 chars/token).
const charsPerToken = 4

// EstimateTokens is the deterministic positive-integer approximation
// required by spec §4.3: total character count across content and tool
// payloads, divided by charsPerToken.
func EstimateTokens(messages []models.ConsciousnessMessage) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content) + len(m.ToolInput) + len(m.ToolOutput)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// segment is a contiguous run of messages compaction treats as a unit:
// either the leading system prompt, an already-summarized block, or one
// cycle's worth of user/assistant/tool messages.
type segment struct {
	start, end int // half-open [start, end) into the messages slice
	isLeadingSystemPrompt bool
	isSummary             bool
}

func segmentMessages(messages []models.ConsciousnessMessage) []segment {
	if len(messages) == 0 {
		return nil
	}

	var segments []segment
	i := 0
	if messages[0].Role == models.RoleSystem && !messages[0].IsSummary {
		segments = append(segments, segment{start: 0, end: 1, isLeadingSystemPrompt: true})
		i = 1
	}

	for i < len(messages) {
		if messages[i].IsSummary {
			segments = append(segments, segment{start: i, end: i + 1, isSummary: true})
			i++
			continue
		}
		start := i
		i++
		for i < len(messages) && messages[i].Role != models.RoleUser && !messages[i].IsSummary {
			i++
		}
		segments = append(segments, segment{start: start, end: i})
	}
	return segments
}

// Compact returns a new message sequence in which, while EstimateTokens
// exceeds softCap, the oldest compactable cycle segment is replaced with
// a single system-role summary message built from that segment's
// assistant text. Compaction never touches the leading system prompt,
// never re-summarizes an already-summarized segment, and never touches
// the most recent cycle segment, so it is a fixpoint once only the
// leading prompt, prior summaries, and the latest cycle remain. It stops
// there even if the estimate is still above softCap: summaries are never
// merged or shortened.
func Compact(messages []models.ConsciousnessMessage, softCap int) []models.ConsciousnessMessage {
	current := append([]models.ConsciousnessMessage(nil), messages...)

	for EstimateTokens(current) > softCap {
		segments := segmentMessages(current)

		target := -1
		for idx, seg := range segments {
			if seg.isLeadingSystemPrompt || seg.isSummary {
				continue
			}
			if idx == len(segments)-1 {
				break // never compact the most recent cycle
			}
			target = idx
			break
		}
		if target == -1 {
			break // fixpoint: nothing left that is safe to compact
		}

		seg := segments[target]
		summary := summarizeSegment(current[seg.start:seg.end])

		next := make([]models.ConsciousnessMessage, 0, len(current)-(seg.end-seg.start)+1)
		next = append(next, current[:seg.start]...)
		next = append(next, summary)
		next = append(next, current[seg.end:]...)
		current = next
	}

	return current
}

func summarizeSegment(block []models.ConsciousnessMessage) models.ConsciousnessMessage {
	var parts []string
	for _, m := range block {
		if m.Role == models.RoleAssistant && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}

	createdAt := block[len(block)-1].CreatedAt
	return models.ConsciousnessMessage{
		Role:      models.RoleSystem,
		Content:   strings.Join(parts, "\n"),
		IsSummary: true,
		CreatedAt: createdAt,
	}
}

// RefreshSystemPrompt replaces the text of the leading system message
// with newPrompt, inserting one at the head if none exists yet.
func RefreshSystemPrompt(messages []models.ConsciousnessMessage, newPrompt string) []models.ConsciousnessMessage {
	if len(messages) > 0 && messages[0].Role == models.RoleSystem && !messages[0].IsSummary {
		next := append([]models.ConsciousnessMessage(nil), messages...)
		next[0].Content = newPrompt
		return next
	}

	next := make([]models.ConsciousnessMessage, 0, len(messages)+1)
	next = append(next, models.ConsciousnessMessage{Role: models.RoleSystem, Content: newPrompt})
	next = append(next, messages...)
	return next
}

// Package inbox implements the per-agent stimulus queue (C4): a durable
// row-store log for dedup and recovery, backed by a broker-hosted fast
// queue for low-latency delivery.
package inbox

import (
	"context"

	"github.com/lucentgrid/meridian/pkg/models"
)

// Store is the durable log `L[agentEntityId]`. UpsertPending is the sole
// insertion path and is idempotent on (AgentEntityID, EventID): pushing
// the same event twice is a no-op, which is how retry-driven dedup works.
type Store interface {
	// UpsertPending inserts event with status=pending. If a row with the
	// same (AgentEntityID, EventID) already exists, it does nothing and
	// reports inserted=false.
	UpsertPending(ctx context.Context, event *models.InboxEvent) (inserted bool, err error)

	// MarkProcessing transitions the named events from pending to
	// processing and stamps runID. Events not currently pending are left
	// untouched (source-state guard).
	MarkProcessing(ctx context.Context, agentEntityID string, eventIDs []string, runID string) error

	// MarkProcessed transitions the named events from processing to
	// processed.
	MarkProcessed(ctx context.Context, agentEntityID string, eventIDs []string) error

	// MarkFailed transitions the named events from processing to failed.
	MarkFailed(ctx context.Context, agentEntityID string, eventIDs []string) error

	// ListProcessing returns every row currently in the processing state
	// for agentEntityID, used by recoverStuckEvents after a crash.
	ListProcessing(ctx context.Context, agentEntityID string) ([]*models.InboxEvent, error)

	// ResetToPending transitions the named events from processing back to
	// pending, used only by recoverStuckEvents when re-queuing work a
	// crashed worker never terminalized.
	ResetToPending(ctx context.Context, agentEntityID string, eventIDs []string) error
}

// Package consciousness implements the per-agent carried-memory store
// (C3): load/save of the message list, deterministic token estimation,
// and zero-cost self-summary compaction.
package consciousness

import (
	"context"

	"github.com/lucentgrid/meridian/pkg/models"
)

// Store is the persistence contract for agent consciousness records. At
// most one record exists per agentEntityID; callers are expected to
// serialize writes per agent themselves (spec: "concurrent saves for the
// same agent never happen by construction, only its worker writes").
type Store interface {
	// Load returns the persisted record for agentEntityID, or a fresh
	// empty one if none exists yet.
	Load(ctx context.Context, agentEntityID string) (*models.Consciousness, error)

	// Save atomically upserts the record.
	Save(ctx context.Context, c *models.Consciousness) error
}

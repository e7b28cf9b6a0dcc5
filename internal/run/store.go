// Package run persists the audit record of one executed think cycle.
package run

import (
	"context"

	"github.com/lucentgrid/meridian/pkg/models"
)

// Store is the persistence contract for models.Run.
type Store interface {
	// Create persists a new running Run.
	Create(ctx context.Context, run *models.Run) error

	// Update persists changes to an existing Run (status, counters,
	// completedAt).
	Update(ctx context.Context, run *models.Run) error

	// Delete removes a Run, used when a cycle is rolled back (step 9,
	// the designated skip tool was called).
	Delete(ctx context.Context, runID string) error

	// Get returns the Run by id, or (nil, nil) if it doesn't exist. The
	// HTTP edge uses this to resolve a tool-result submission's owning
	// agent from its runID.
	Get(ctx context.Context, runID string) (*models.Run, error)
}

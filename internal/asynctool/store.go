// Package asynctool implements the Async-Tool Manager (C7): pending
// tool calls whose authoritative execution happens outside this
// process, and the external submission path that resolves them.
package asynctool

import (
	"context"

	"github.com/lucentgrid/meridian/pkg/models"
)

// Store persists PendingToolCall rows, keyed by (RunID, CallID).
type Store interface {
	// Insert creates a pending row. Called once, at the moment the
	// wrapped tool's server-side execute returns the synthetic pending
	// value.
	Insert(ctx context.Context, call *models.PendingToolCall) error

	// Get returns the pending call, or nil if none exists.
	Get(ctx context.Context, runID, callID string) (*models.PendingToolCall, error)

	// Complete transitions a pending call to completed with output,
	// guarded on the call currently being pending. Returns
	// gatewayerr.ErrAlreadyCompleted if it is not.
	Complete(ctx context.Context, runID, callID string, output []byte) error
}

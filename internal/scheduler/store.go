// Package scheduler implements the Plan Scheduler (C6): it turns a
// persisted Plan into a live timer or cron binding, and on firing pushes
// a plan event into the target agent's inbox.
package scheduler

import (
	"context"

	"github.com/lucentgrid/meridian/pkg/models"
)

// PlanStore persists Plan rows.
type PlanStore interface {
	Get(ctx context.Context, planID string) (*models.Plan, error)
	Save(ctx context.Context, plan *models.Plan) error
	// ListPending returns every plan with status=pending, for
	// reconcileOnStartup.
	ListPending(ctx context.Context) ([]*models.Plan, error)
}

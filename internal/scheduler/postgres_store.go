package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lucentgrid/meridian/pkg/models"
)

// PostgresPlanStore is a PlanStore backed by the `plans` table.
type PostgresPlanStore struct {
	db *sql.DB
}

func NewPostgresPlanStore(db *sql.DB) *PostgresPlanStore {
	return &PostgresPlanStore{db: db}
}

const schemaPlans = `
CREATE TABLE IF NOT EXISTS plans (
	id              TEXT PRIMARY KEY,
	agent_entity_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	instruction     TEXT NOT NULL,
	run_after_ns    BIGINT NOT NULL DEFAULT 0,
	scheduled_at    TIMESTAMPTZ,
	cron            TEXT NOT NULL DEFAULT '',
	is_recurring    BOOLEAN NOT NULL DEFAULT false,
	next_run_at     TIMESTAMPTZ,
	last_run_at     TIMESTAMPTZ,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func (s *PostgresPlanStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaPlans)
	return err
}

func (s *PostgresPlanStore) Get(ctx context.Context, planID string) (*models.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_entity_id, name, instruction, run_after_ns, scheduled_at,
		       cron, is_recurring, next_run_at, last_run_at, status, created_at
		FROM plans WHERE id = $1`, planID)

	p := &models.Plan{}
	var runAfterNs int64
	var scheduledAt, nextRunAt, lastRunAt sql.NullTime
	err := row.Scan(&p.ID, &p.AgentEntityID, &p.Name, &p.Instruction, &runAfterNs, &scheduledAt,
		&p.Cron, &p.IsRecurring, &nextRunAt, &lastRunAt, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: get plan %s: %w", planID, err)
	}
	p.RunAfter = time.Duration(runAfterNs)
	if scheduledAt.Valid {
		p.ScheduledAt = scheduledAt.Time
	}
	if nextRunAt.Valid {
		p.NextRunAt = nextRunAt.Time
	}
	if lastRunAt.Valid {
		p.LastRunAt = lastRunAt.Time
	}
	return p, nil
}

func (s *PostgresPlanStore) Save(ctx context.Context, p *models.Plan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, agent_entity_id, name, instruction, run_after_ns, scheduled_at,
		                    cron, is_recurring, next_run_at, last_run_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			instruction = EXCLUDED.instruction,
			run_after_ns = EXCLUDED.run_after_ns,
			scheduled_at = EXCLUDED.scheduled_at,
			cron = EXCLUDED.cron,
			is_recurring = EXCLUDED.is_recurring,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			status = EXCLUDED.status`,
		p.ID, p.AgentEntityID, p.Name, p.Instruction, int64(p.RunAfter), p.ScheduledAt,
		p.Cron, p.IsRecurring, p.NextRunAt, p.LastRunAt, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("scheduler: save plan %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresPlanStore) ListPending(ctx context.Context) ([]*models.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_entity_id, name, instruction, run_after_ns, scheduled_at,
		       cron, is_recurring, next_run_at, last_run_at, status, created_at
		FROM plans WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list pending plans: %w", err)
	}
	defer rows.Close()

	var out []*models.Plan
	for rows.Next() {
		p := &models.Plan{}
		var runAfterNs int64
		var scheduledAt, nextRunAt, lastRunAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.AgentEntityID, &p.Name, &p.Instruction, &runAfterNs, &scheduledAt,
			&p.Cron, &p.IsRecurring, &nextRunAt, &lastRunAt, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scheduler: scan plan row: %w", err)
		}
		p.RunAfter = time.Duration(runAfterNs)
		if scheduledAt.Valid {
			p.ScheduledAt = scheduledAt.Time
		}
		if nextRunAt.Valid {
			p.NextRunAt = nextRunAt.Time
		}
		if lastRunAt.Valid {
			p.LastRunAt = lastRunAt.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

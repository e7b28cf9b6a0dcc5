package run

import (
	"context"
	"database/sql"

	"github.com/lucentgrid/meridian/pkg/models"
)

// PostgresStore is a Store backed by a row-store `runs` table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	agent_entity_id    TEXT NOT NULL,
	agent_id           TEXT NOT NULL,
	status             TEXT NOT NULL,
	cycle_number       BIGINT NOT NULL,
	inbox_event_count  INT NOT NULL DEFAULT 0,
	step_count         INT NOT NULL DEFAULT 0,
	prompt_tokens      INT NOT NULL DEFAULT 0,
	completion_tokens  INT NOT NULL DEFAULT 0,
	duration_ms        BIGINT NOT NULL DEFAULT 0,
	trigger_type       TEXT NOT NULL,
	trigger_source     TEXT,
	error              TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ
)`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaRuns)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, agent_entity_id, agent_id, status, cycle_number, inbox_event_count, trigger_type, trigger_source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.AgentEntityID, r.AgentID, r.Status, r.CycleNumber, r.InboxEventCount, r.Trigger.Type, r.Trigger.Source, r.CreatedAt)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, r *models.Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=$2, step_count=$3, prompt_tokens=$4, completion_tokens=$5,
			duration_ms=$6, error=$7, completed_at=$8
		WHERE id=$1
	`, r.ID, r.Status, r.StepCount, r.PromptTokens, r.CompletionTokens, r.DurationMs, nullableError(r.Error), nullableTime(r.CompletedAt))
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_entity_id, agent_id, status, cycle_number, inbox_event_count,
			step_count, prompt_tokens, completion_tokens, duration_ms,
			trigger_type, trigger_source, COALESCE(error, ''), created_at, completed_at
		FROM runs WHERE id = $1
	`, runID)

	var r models.Run
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.AgentEntityID, &r.AgentID, &r.Status, &r.CycleNumber, &r.InboxEventCount,
		&r.StepCount, &r.PromptTokens, &r.CompletionTokens, &r.DurationMs,
		&r.Trigger.Type, &r.Trigger.Source, &r.Error, &r.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		r.CompletedAt = completedAt.Time
	}
	return &r, nil
}

func nullableError(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t interface{ IsZero() bool }) any {
	if t.IsZero() {
		return nil
	}
	return t
}

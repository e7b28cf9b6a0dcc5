package asynctool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lucentgrid/meridian/internal/gatewayerr"
	"github.com/lucentgrid/meridian/pkg/models"
)

// PostgresStore is a Store backed by the `pending_tool_calls` table,
// grounded on the teacher's Cockroach-backed job store's pooled-DSN
// shape.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schemaPendingToolCalls = `
CREATE TABLE IF NOT EXISTS pending_tool_calls (
	run_id       TEXT NOT NULL,
	call_id      TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	input        JSONB NOT NULL,
	status       TEXT NOT NULL,
	output       JSONB,
	requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	PRIMARY KEY (run_id, call_id)
)`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaPendingToolCalls)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, call *models.PendingToolCall) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_tool_calls (run_id, call_id, tool_name, input, status, requested_at)
		VALUES ($1, $2, $3, $4, 'pending', now())`,
		call.RunID, call.CallID, call.ToolName, []byte(call.Input))
	if err != nil {
		return fmt.Errorf("asynctool: insert %s/%s: %w", call.RunID, call.CallID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, runID, callID string) (*models.PendingToolCall, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, call_id, tool_name, input, status, output, requested_at, completed_at
		FROM pending_tool_calls WHERE run_id = $1 AND call_id = $2`, runID, callID)

	c := &models.PendingToolCall{}
	var completedAt sql.NullTime
	err := row.Scan(&c.RunID, &c.CallID, &c.ToolName, &c.Input, &c.Status, &c.Output, &c.RequestedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("asynctool: get %s/%s: %w", runID, callID, err)
	}
	if completedAt.Valid {
		c.CompletedAt = completedAt.Time
	}
	return c, nil
}

func (s *PostgresStore) Complete(ctx context.Context, runID, callID string, output []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_tool_calls SET status = 'completed', output = $3, completed_at = $4
		WHERE run_id = $1 AND call_id = $2 AND status = 'pending'`,
		runID, callID, output, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("asynctool: complete %s/%s: %w", runID, callID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("asynctool: complete rows affected: %w", err)
	}
	if n == 0 {
		existing, getErr := s.Get(ctx, runID, callID)
		if getErr == nil && existing == nil {
			return gatewayerr.ErrNotFound
		}
		return gatewayerr.ErrAlreadyCompleted
	}
	return nil
}

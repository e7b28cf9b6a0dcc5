package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lucentgrid/meridian/pkg/models"
)

// PostgresStore is a Store backed by the row-store `InboxEvent` table,
// keyed by (agent_entity_id, event_id) per spec §4.4.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore adopts an already-open pool shared with the other
// Postgres-backed stores.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schemaInboxEvents = `
CREATE TABLE IF NOT EXISTS inbox_events (
	agent_entity_id TEXT NOT NULL,
	event_id        TEXT NOT NULL,
	type            TEXT NOT NULL,
	data            JSONB NOT NULL,
	status          TEXT NOT NULL,
	run_id          TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at    TIMESTAMPTZ,
	PRIMARY KEY (agent_entity_id, event_id)
)`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaInboxEvents)
	return err
}

func (s *PostgresStore) UpsertPending(ctx context.Context, event *models.InboxEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_events (agent_entity_id, event_id, type, data, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', now())
		ON CONFLICT (agent_entity_id, event_id) DO NOTHING`,
		event.AgentEntityID, event.EventID, event.Type, []byte(event.Data))
	if err != nil {
		return false, fmt.Errorf("inbox: upsert %s/%s: %w", event.AgentEntityID, event.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inbox: upsert rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, agentEntityID string, eventIDs []string, runID string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbox_events SET status = 'processing', run_id = $3
		WHERE agent_entity_id = $1 AND event_id = ANY($2) AND status = 'pending'`,
		agentEntityID, pq.Array(eventIDs), runID)
	if err != nil {
		return fmt.Errorf("inbox: mark processing for %s: %w", agentEntityID, err)
	}
	return nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, agentEntityID string, eventIDs []string) error {
	return s.transitionFromProcessing(ctx, agentEntityID, eventIDs, "processed")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, agentEntityID string, eventIDs []string) error {
	return s.transitionFromProcessing(ctx, agentEntityID, eventIDs, "failed")
}

func (s *PostgresStore) transitionFromProcessing(ctx context.Context, agentEntityID string, eventIDs []string, to string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbox_events SET status = $3, processed_at = $4
		WHERE agent_entity_id = $1 AND event_id = ANY($2) AND status = 'processing'`,
		agentEntityID, pq.Array(eventIDs), to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inbox: mark %s for %s: %w", to, agentEntityID, err)
	}
	return nil
}

func (s *PostgresStore) ResetToPending(ctx context.Context, agentEntityID string, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE inbox_events SET status = 'pending', run_id = NULL
		WHERE agent_entity_id = $1 AND event_id = ANY($2) AND status = 'processing'`,
		agentEntityID, pq.Array(eventIDs))
	if err != nil {
		return fmt.Errorf("inbox: reset to pending for %s: %w", agentEntityID, err)
	}
	return nil
}

func (s *PostgresStore) ListProcessing(ctx context.Context, agentEntityID string) ([]*models.InboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, type, data, status, run_id, created_at, processed_at
		FROM inbox_events WHERE agent_entity_id = $1 AND status = 'processing'`, agentEntityID)
	if err != nil {
		return nil, fmt.Errorf("inbox: list processing for %s: %w", agentEntityID, err)
	}
	defer rows.Close()

	var out []*models.InboxEvent
	for rows.Next() {
		e := &models.InboxEvent{AgentEntityID: agentEntityID}
		var runID sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&e.EventID, &e.Type, &e.Data, &e.Status, &runID, &e.CreatedAt, &processedAt); err != nil {
			return nil, fmt.Errorf("inbox: scan processing row: %w", err)
		}
		e.RunID = runID.String
		if processedAt.Valid {
			e.ProcessedAt = processedAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package spacemessage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lucentgrid/meridian/pkg/models"
)

// PostgresStore is a Store backed by a row-store `space_messages` table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore adopts an already-open pool shared with the other
// Postgres-backed stores.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schemaSpaceMessages = `
CREATE TABLE IF NOT EXISTS space_messages (
	id              TEXT PRIMARY KEY,
	smart_space_id  TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	seq             BIGINT NOT NULL,
	status          TEXT,
	metadata        JSONB,
	run_id          TEXT,
	tool_call_id    TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE SEQUENCE IF NOT EXISTS space_messages_seq;
CREATE INDEX IF NOT EXISTS space_messages_tool_call_idx ON space_messages (run_id, tool_call_id) WHERE tool_call_id IS NOT NULL;
`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSpaceMessages)
	return err
}

func (s *PostgresStore) Insert(ctx context.Context, msg *models.SpaceMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("spacemessage: encode metadata: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO space_messages (id, smart_space_id, entity_id, role, content, seq, status, metadata, run_id, tool_call_id, created_at)
		VALUES ($1, $2, $3, $4, $5, nextval('space_messages_seq'), $6, $7, $8, $9, now())
		RETURNING seq, created_at
	`, msg.ID, msg.SmartSpaceID, msg.EntityID, msg.Role, msg.Content, msg.Status, metadata, msg.RunID, nullableString(msg.ToolCallID))
	if err := row.Scan(&msg.Seq, &msg.CreatedAt); err != nil {
		return fmt.Errorf("spacemessage: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByToolCall(ctx context.Context, runID, callID string) (*models.SpaceMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, smart_space_id, entity_id, role, content, seq, status, metadata, run_id, tool_call_id, created_at
		FROM space_messages WHERE run_id = $1 AND tool_call_id = $2
	`, runID, callID)
	msg, err := scanSpaceMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.SpaceMessageStatus, content string) (*models.SpaceMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE space_messages SET status = $2, content = $3 WHERE id = $1
		RETURNING id, smart_space_id, entity_id, role, content, seq, status, metadata, run_id, tool_call_id, created_at
	`, id, status, content)
	msg, err := scanSpaceMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (s *PostgresStore) RecentMessages(ctx context.Context, smartSpaceID string, limit int) ([]*models.SpaceMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, smart_space_id, entity_id, role, content, seq, status, metadata, run_id, tool_call_id, created_at
		FROM (
			SELECT id, smart_space_id, entity_id, role, content, seq, status, metadata, run_id, tool_call_id, created_at
			FROM space_messages WHERE smart_space_id = $1
			ORDER BY seq DESC LIMIT $2
		) recent
		ORDER BY seq ASC
	`, smartSpaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("spacemessage: recent messages: %w", err)
	}
	defer rows.Close()

	var out []*models.SpaceMessage
	for rows.Next() {
		msg, err := scanSpaceMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("spacemessage: scan recent message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpaceMessage(row rowScanner) (*models.SpaceMessage, error) {
	var msg models.SpaceMessage
	var metadata []byte
	var toolCallID sql.NullString
	if err := row.Scan(&msg.ID, &msg.SmartSpaceID, &msg.EntityID, &msg.Role, &msg.Content, &msg.Seq, &msg.Status, &metadata, &msg.RunID, &toolCallID, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if toolCallID.Valid {
		msg.ToolCallID = toolCallID.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("spacemessage: decode metadata: %w", err)
		}
	}
	return &msg, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

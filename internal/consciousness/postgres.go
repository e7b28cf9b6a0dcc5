package consciousness

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/lucentgrid/meridian/pkg/models"
)

// PostgresConfig configures the Postgres-backed consciousness store,
// mirroring the teacher's connection-pool config shape.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns sane pool defaults for a DSN.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresStore is a Store backed by a single-row-per-agent table. It
// stores the message list as JSON; callers never see raw column shapes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection using cfg.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("consciousness: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("consciousness: ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB adopts an already-open pool, used when several
// stores share one connection (consciousness, inbox, plans, async tools
// all live in the same database).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

const schemaConsciousness = `
CREATE TABLE IF NOT EXISTS agent_consciousness (
	agent_entity_id TEXT PRIMARY KEY,
	messages        JSONB NOT NULL DEFAULT '[]',
	cycle_count     BIGINT NOT NULL DEFAULT 0,
	token_estimate  INT NOT NULL DEFAULT 0,
	last_cycle_at   TIMESTAMPTZ
)`

// EnsureSchema creates the backing table if it does not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaConsciousness)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, agentEntityID string) (*models.Consciousness, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT messages, cycle_count, token_estimate, last_cycle_at
		FROM agent_consciousness WHERE agent_entity_id = $1`, agentEntityID)

	var raw []byte
	c := &models.Consciousness{AgentEntityID: agentEntityID}
	var lastCycleAt sql.NullTime
	err := row.Scan(&raw, &c.CycleCount, &c.TokenEstimate, &lastCycleAt)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consciousness: load %s: %w", agentEntityID, err)
	}
	if lastCycleAt.Valid {
		c.LastCycleAt = lastCycleAt.Time
	}
	if err := json.Unmarshal(raw, &c.Messages); err != nil {
		return nil, fmt.Errorf("consciousness: decode messages for %s: %w", agentEntityID, err)
	}
	return c, nil
}

func (s *PostgresStore) Save(ctx context.Context, c *models.Consciousness) error {
	raw, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("consciousness: encode messages for %s: %w", c.AgentEntityID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_consciousness (agent_entity_id, messages, cycle_count, token_estimate, last_cycle_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_entity_id) DO UPDATE SET
			messages = EXCLUDED.messages,
			cycle_count = EXCLUDED.cycle_count,
			token_estimate = EXCLUDED.token_estimate,
			last_cycle_at = EXCLUDED.last_cycle_at`,
		c.AgentEntityID, raw, c.CycleCount, c.TokenEstimate, c.LastCycleAt)
	if err != nil {
		return fmt.Errorf("consciousness: save %s: %w", c.AgentEntityID, err)
	}
	return nil
}

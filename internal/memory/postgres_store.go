package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // grounded on internal/memory/backend/pgvector/backend.go's driver choice

	"github.com/starkbot/starkbot/pkg/models"
)

// PostgresStore is the multi-instance, shared-corpus backend (§4.7),
// grounded on internal/memory/backend/pgvector/backend.go's
// connection/migration shape with the vector column dropped — scoring
// here runs entirely in Go over ListForIdentity's rows.
type PostgresStore struct {
	db *sql.DB
}

type PostgresConfig struct {
	DSN           string
	DB            *sql.DB // reuse an existing connection when set
	RunMigrations bool
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db := cfg.DB
	if db == nil {
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres memory store: %w", err)
		}
	}

	s := &PostgresStore{db: db}
	if cfg.RunMigrations || cfg.DB == nil {
		if err := s.migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			identity_id TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			importance INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate memories table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_identity ON memories(identity_id)`)
	if err != nil {
		return fmt.Errorf("create identity index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, m *models.Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, identity_id, content, kind, importance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.IdentityID, m.Content, string(m.Kind), m.Importance, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForIdentity(ctx context.Context, identityID string) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_id, content, kind, importance, created_at
		FROM memories WHERE identity_id = $1
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		m := &models.Memory{}
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &m.IdentityID, &m.Content, &kind, &m.Importance, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		m.Kind = models.MemoryKind(kind)
		m.CreatedAt = createdAt
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

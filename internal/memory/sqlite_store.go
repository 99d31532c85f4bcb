package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, grounded on the teacher's sqlitevec backend

	"github.com/starkbot/starkbot/pkg/models"
)

// SQLiteStore is the single-process/local deployment backend (§4.7),
// grounded on internal/memory/backend/sqlitevec/backend.go's
// connection/migration shape with the embedding column dropped.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig configures the sqlite-backed memory store.
type SQLiteConfig struct {
	Path string // ":memory:" when empty
}

func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory store: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			identity_id TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			importance INTEGER NOT NULL,
			created_at DATETIME NOT NULL
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

func (s *SQLiteStore) Create(ctx context.Context, m *models.Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, identity_id, content, kind, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.IdentityID, m.Content, string(m.Kind), m.Importance, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListForIdentity(ctx context.Context, identityID string) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity_id, content, kind, importance, created_at
		FROM memories WHERE identity_id = ?
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/starkbot/starkbot/pkg/models"
)

func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS memories").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_memories_identity").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStore(PostgresConfig{DB: db, RunMigrations: true})
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return mock, store
}

func TestPostgresStoreCreate(t *testing.T) {
	mock, store := setupMockStore(t)

	m := &models.Memory{
		ID:         "mem-1",
		IdentityID: "ident-1",
		Content:    "prefers dark mode",
		Kind:       models.KindPreference,
		Importance: 7,
		CreatedAt:  time.Now(),
	}

	mock.ExpectExec("INSERT INTO memories").
		WithArgs(m.ID, m.IdentityID, m.Content, string(m.Kind), m.Importance, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Create(context.Background(), m); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreListForIdentity(t *testing.T) {
	mock, store := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "identity_id", "content", "kind", "importance", "created_at"}).
		AddRow("mem-1", "ident-1", "likes tea", "preference", 7, time.Now()).
		AddRow("mem-2", "ident-1", "rotate the key", "remember_important", 9, time.Now())

	mock.ExpectQuery("SELECT id, identity_id, content, kind, importance, created_at").
		WithArgs("ident-1").
		WillReturnRows(rows)

	got, err := store.ListForIdentity(context.Background(), "ident-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(got))
	}
	if got[1].Kind != models.KindRememberImportant {
		t.Fatalf("unexpected kind: %s", got[1].Kind)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreDelete(t *testing.T) {
	mock, store := setupMockStore(t)

	mock.ExpectExec("DELETE FROM memories").
		WithArgs("mem-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "mem-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

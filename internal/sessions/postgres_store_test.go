package sessions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/starkbot/starkbot/pkg/models"
)

// newTestPostgresStore builds a PostgresStore over a sqlmock connection
// with its statements prepared against that mock, mirroring how the
// deleted CockroachStore's tests wired prepared statements manually
// rather than going through NewPostgresStore (which also runs migrations).
func newTestPostgresStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := &PostgresStore{db: db}
	return db, mock, store
}

func prepare(t *testing.T, db *sql.DB, query string) *sql.Stmt {
	t.Helper()
	stmt, err := db.Prepare(query)
	if err != nil {
		t.Fatalf("prepare statement: %v", err)
	}
	return stmt
}

func TestPostgresStoreCreate(t *testing.T) {
	db, mock, store := newTestPostgresStore(t)
	mock.ExpectPrepare("INSERT INTO sessions")
	store.stmtCreateSession = prepare(t, db, `INSERT INTO sessions`)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sqlmock.AnyArg(), "ident-1", "chan-1", "global", false, "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.Session{
		IdentityID:       "ident-1",
		ChannelID:        "chan-1",
		Scope:            models.Scope("global"),
		CompletionStatus: models.CompletionActive,
	}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected an ID to be generated")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGet(t *testing.T) {
	db, mock, store := newTestPostgresStore(t)
	mock.ExpectPrepare("SELECT .* FROM sessions WHERE id")
	store.stmtGetSession = prepare(t, db, `SELECT .* FROM sessions WHERE id`)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "identity_id", "channel_id", "scope", "safe_mode", "completion_status", "created_at", "updated_at"}).
		AddRow("session-1", "ident-1", "chan-1", "global", false, "active", now, now)

	mock.ExpectQuery("SELECT .* FROM sessions WHERE id").
		WithArgs("session-1").
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IdentityID != "ident-1" || got.CompletionStatus != models.CompletionActive {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestPostgresStoreAppendAndGetHistoryPreservesChronologicalOrder(t *testing.T) {
	db, mock, store := newTestPostgresStore(t)
	mock.ExpectPrepare("INSERT INTO messages")
	store.stmtAppendMessage = prepare(t, db, `INSERT INTO messages`)
	mock.ExpectPrepare("SELECT .* FROM messages WHERE session_id")
	store.stmtGetHistory = prepare(t, db, `SELECT .* FROM messages WHERE session_id`)

	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.AppendMessage(context.Background(), "session-1", &models.Message{
		Role: models.Role("user"), Content: "hi",
	}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "session_id", "role", "content", "created_at"}).
		AddRow("msg-2", "session-1", "assistant", "second", now).
		AddRow("msg-1", "session-1", "user", "first", now.Add(-time.Minute))

	mock.ExpectQuery("SELECT .* FROM messages WHERE session_id").
		WithArgs("session-1", 10).
		WillReturnRows(rows)

	history, err := store.GetHistory(context.Background(), "session-1", 10)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 2 || history[0].Content != "first" || history[1].Content != "second" {
		t.Fatalf("expected chronological order, got %+v", history)
	}
}

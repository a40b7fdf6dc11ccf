package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/agentworld/runtime/pkg/models"
)

// setupMockStore wraps a sqlmock connection as a SQLStore in "postgres"
// mode.
func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, &SQLStore{db: db, driver: "postgres"}
}

func TestSQLStore_SaveEvent_InsertsRow(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	event := &models.StoredEvent{
		ChatID:    "chat-1",
		Type:      models.EventTypeMessage,
		Seq:       1,
		CreatedAt: time.Now(),
		MessageID: "m1",
		Sender:    "alice",
		Role:      models.RoleUser,
		Content:   "hello",
	}
	if err := store.SaveEvent(context.Background(), "world-1", event); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_SaveEvent_DuplicateSeqReturnsConflict(t *testing.T) {
	mock, store := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").
		WillReturnError(&pqUniqueViolation{})
	mock.ExpectRollback()

	err := store.SaveEvent(context.Background(), "world-1", &models.StoredEvent{Seq: 1, MessageID: "m1"})
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

// pqUniqueViolation fakes a postgres unique-violation error without
// constructing a real pq.Error: isUniqueViolation also recognizes the
// driver's message text, and that is the path this test exercises.
type pqUniqueViolation struct{}

func (e *pqUniqueViolation) Error() string { return "pq: duplicate key value violates unique constraint \"events_world_id_seq_key\"" }

func TestSQLStore_GetEvents_FiltersByChatAndType(t *testing.T) {
	mock, store := setupMockStore(t)
	cols := []string{"id", "chat_id", "type", "seq", "created_at", "message_id", "sender", "role", "content", "reply_to_message_id", "tool_calls", "tool_call_id", "metadata", "system_level", "system_category"}
	now := time.Now()
	rows := sqlmock.NewRows(cols).
		AddRow("e1", "chat-1", "message", 1, now, "m1", "alice", "user", "hi", "", nil, "", nil, "", "")

	mock.ExpectQuery("SELECT .* FROM events WHERE world_id = (.+) AND chat_id = (.+) ORDER BY seq ASC").
		WithArgs("world-1", "chat-1").
		WillReturnRows(rows)

	got, err := store.GetEvents(context.Background(), "world-1", GetEventsOptions{ChatID: "chat-1"})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

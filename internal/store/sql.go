package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agentworld/runtime/pkg/models"
)

// SQLStore is a database-backed EventStore: DSN-driven sql.Open,
// parameterized exec/query, tool calls and metadata stored as JSON,
// duplicate-key translation to a sentinel error. Drives both Postgres
// and modernc.org/sqlite for single-node / embedded deployments,
// selected by DSN scheme.
type SQLStore struct {
	db      *sql.DB
	driver  string // "postgres" | "sqlite"
	dsn     string
	filePath string // non-empty for file-backed sqlite DSNs, for .bak recovery
}

// Open opens a SQLStore for dsn. Recognized schemes:
//
//	postgres://...  or  postgresql://...   -> lib/pq
//	sqlite://path/to/file.db               -> modernc.org/sqlite
//	file:path/to/file.db  or a bare path    -> modernc.org/sqlite
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	driver, sqlDSN, filePath := resolveDriver(dsn)

	db, err := sql.Open(driver, sqlDSN)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pingErr := db.PingContext(pingCtx)
	if pingErr != nil && filePath != "" && recoverFromBackup(filePath) {
		pingErr = db.PingContext(pingCtx)
	}
	if pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping event store: %w", pingErr)
	}

	s := &SQLStore{db: db, driver: driver, dsn: sqlDSN, filePath: filePath}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate event store: %w", err)
	}
	return s, nil
}

func resolveDriver(dsn string) (driver, sqlDSN, filePath string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, ""
	case strings.HasPrefix(dsn, "sqlite://"):
		p := strings.TrimPrefix(dsn, "sqlite://")
		return "sqlite", p, p
	case strings.HasPrefix(dsn, "file:"):
		p := strings.TrimPrefix(dsn, "file:")
		return "sqlite", dsn, p
	default:
		return "sqlite", dsn, dsn
	}
}

// recoverFromBackup restores path from path+".bak" if present, used when
// the first ping of a file-backed sqlite store fails. The .bak sidecar
// exists only if Backup was called earlier; Open does not write one.
func recoverFromBackup(path string) bool {
	bak := path + ".bak"
	if _, err := os.Stat(bak); err != nil {
		return false
	}
	data, err := os.ReadFile(bak)
	if err != nil {
		return false
	}
	return os.WriteFile(path, data, 0o600) == nil
}

// Backup copies the current sqlite file to its .bak sidecar. A no-op for
// the Postgres driver, which has its own durability story.
func (s *SQLStore) Backup() error {
	if s.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("read event store file: %w", err)
	}
	return os.WriteFile(s.filePath+".bak", data, 0o600)
}

func (s *SQLStore) migrate(ctx context.Context) error {
	var ddl string
	if s.driver == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	world_id TEXT NOT NULL,
	chat_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	seq BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	reply_to_message_id TEXT NOT NULL DEFAULT '',
	tool_calls JSONB,
	tool_call_id TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	system_level TEXT NOT NULL DEFAULT '',
	system_category TEXT NOT NULL DEFAULT '',
	UNIQUE (world_id, seq)
);
CREATE INDEX IF NOT EXISTS events_world_chat_seq_idx ON events (world_id, chat_id, seq);
`
	} else {
		ddl = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	world_id TEXT NOT NULL,
	chat_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	seq INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	reply_to_message_id TEXT NOT NULL DEFAULT '',
	tool_calls TEXT,
	tool_call_id TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	system_level TEXT NOT NULL DEFAULT '',
	system_category TEXT NOT NULL DEFAULT '',
	UNIQUE (world_id, seq)
);
CREATE INDEX IF NOT EXISTS events_world_chat_seq_idx ON events (world_id, chat_id, seq);
`
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLStore) SaveEvent(ctx context.Context, worldID string, event *models.StoredEvent) error {
	return s.SaveEvents(ctx, worldID, []*models.StoredEvent{event})
}

func (s *SQLStore) SaveEvents(ctx context.Context, worldID string, events []*models.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		toolCalls, err := json.Marshal(e.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		var metadata []byte
		if e.Metadata != nil {
			metadata, err = json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}

		query, args := s.insertStatement(worldID, e, toolCalls, metadata)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) insertStatement(worldID string, e *models.StoredEvent, toolCalls, metadata []byte) (string, []any) {
	cols := "id, world_id, chat_id, type, seq, created_at, message_id, sender, role, content, reply_to_message_id, tool_calls, tool_call_id, metadata, system_level, system_category"
	args := []any{e.ID, worldID, e.ChatID, string(e.Type), e.Seq, e.CreatedAt, e.MessageID, e.Sender, string(e.Role), e.Content, e.ReplyToMessageID, toolCalls, e.ToolCallID, metadata, e.SystemLevel, e.SystemCategory}

	placeholders := make([]string, len(args))
	for i := range args {
		if s.driver == "postgres" {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}
	query := fmt.Sprintf("INSERT INTO events (%s) VALUES (%s)", cols, strings.Join(placeholders, ", "))
	return query, args
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value violates unique constraint")
}

func (s *SQLStore) GetEvents(ctx context.Context, worldID string, opts GetEventsOptions) ([]*models.StoredEvent, error) {
	cond := []string{"world_id = " + s.placeholder(1)}
	args := []any{worldID}
	n := 2
	if opts.ChatID != "" {
		cond = append(cond, "chat_id = "+s.placeholder(n))
		args = append(args, opts.ChatID)
		n++
	}
	if opts.Since > 0 {
		cond = append(cond, "seq > "+s.placeholder(n))
		args = append(args, opts.Since)
		n++
	}
	if len(opts.Types) > 0 {
		ph := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			ph[i] = s.placeholder(n)
			args = append(args, string(t))
			n++
		}
		cond = append(cond, "type IN ("+strings.Join(ph, ", ")+")")
	}

	query := "SELECT id, chat_id, type, seq, created_at, message_id, sender, role, content, reply_to_message_id, tool_calls, tool_call_id, metadata, system_level, system_category FROM events WHERE " + strings.Join(cond, " AND ") + " ORDER BY seq ASC"
	if opts.Limit > 0 && opts.Filters == nil {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*models.StoredEvent
	for rows.Next() {
		e := &models.StoredEvent{WorldID: worldID}
		var typ, role string
		var toolCalls, metadata []byte
		if err := rows.Scan(&e.ID, &e.ChatID, &typ, &e.Seq, &e.CreatedAt, &e.MessageID, &e.Sender, &role, &e.Content, &e.ReplyToMessageID, &toolCalls, &e.ToolCallID, &metadata, &e.SystemLevel, &e.SystemCategory); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = models.EventType(typ)
		e.Role = models.Role(role)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &e.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if len(metadata) > 0 {
			var m models.Metadata
			if err := json.Unmarshal(metadata, &m); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
			e.Metadata = &m
		}
		// Metadata predicates are evaluated after the scan: the metadata
		// column is an opaque JSON blob on both drivers, so pushing these
		// into SQL would tie the query builder to one dialect's JSON
		// operators.
		if !opts.Filters.Match(e) {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) RemoveEventsFrom(ctx context.Context, worldID, chatID, messageID string) error {
	var cutSeq uint64
	query := fmt.Sprintf("SELECT seq FROM events WHERE world_id = %s AND chat_id = %s AND message_id = %s", s.placeholder(1), s.placeholder(2), s.placeholder(3))
	if err := s.db.QueryRowContext(ctx, query, worldID, chatID, messageID).Scan(&cutSeq); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("lookup cut point: %w", err)
	}

	del := fmt.Sprintf("DELETE FROM events WHERE world_id = %s AND chat_id = %s AND seq >= %s", s.placeholder(1), s.placeholder(2), s.placeholder(3))
	_, err := s.db.ExecContext(ctx, del, worldID, chatID, cutSeq)
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

func (s *SQLStore) BranchChatFromMessage(ctx context.Context, worldID, sourceChatID, messageID, newChatID string) error {
	events, err := s.GetEvents(ctx, worldID, GetEventsOptions{ChatID: sourceChatID})
	if err != nil {
		return fmt.Errorf("load source chat: %w", err)
	}

	var toCopy []*models.StoredEvent
	found := false
	for _, e := range events {
		toCopy = append(toCopy, e)
		if e.MessageID == messageID {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	var maxSeq uint64
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM events WHERE world_id = %s", s.placeholder(1)), worldID)
	if err := row.Scan(&maxSeq); err != nil {
		return fmt.Errorf("max seq: %w", err)
	}

	branched := make([]*models.StoredEvent, 0, len(toCopy))
	for _, e := range toCopy {
		cp := *e
		cp.ID = uuid.NewString()
		cp.ChatID = newChatID
		maxSeq++
		cp.Seq = maxSeq
		branched = append(branched, &cp)
	}
	return s.SaveEvents(ctx, worldID, branched)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createTableStmt = `
CREATE TABLE IF NOT EXISTS tool_invocations (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	caller_id       TEXT NOT NULL,
	tool_name       TEXT NOT NULL,
	entity_type     TEXT,
	entity_id       TEXT,
	before_state    TEXT,
	after_state     TEXT,
	success         INTEGER NOT NULL,
	error           TEXT,
	duration_ms     INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_invocations_conversation
	ON tool_invocations (conversation_id);
`

const insertStmt = `
INSERT INTO tool_invocations (
	id, conversation_id, message_id, caller_id, tool_name,
	entity_type, entity_id, before_state, after_state,
	success, error, duration_ms, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// SQLiteSink appends audit records to a sqlite table. Insert-only: the
// subsystem never updates or reads these rows; compliance tooling reads
// them out of band.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (and if needed initializes) the audit database.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}
	if _, err := db.Exec(createTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Append implements Sink.
func (s *SQLiteSink) Append(ctx context.Context, record *Record) error {
	var before, after any
	if record.Before != nil {
		before = string(record.Before)
	}
	if record.After != nil {
		after = string(record.After)
	}

	_, err := s.db.ExecContext(ctx, insertStmt,
		record.ID,
		record.ConversationID,
		record.MessageID,
		record.CallerID,
		record.ToolName,
		record.EntityType,
		record.EntityID,
		before,
		after,
		boolToInt(record.Success),
		record.Error,
		record.Duration.Milliseconds(),
		record.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

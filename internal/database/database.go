package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection with orchestrator-specific setup.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path with WAL mode
// enabled and runs any pending migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// SQLite performs best with a single writer connection.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	if err := db.Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// migration is a named, idempotent schema step. Create-table steps use IF
// NOT EXISTS; add-column steps rely on isDuplicateColumn below, so the whole
// list can be replayed on every startup.
type migration struct {
	name string
	stmt string
}

var migrations = []migration{
	{"create_call_queue", `CREATE TABLE IF NOT EXISTS call_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contact_id TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL,
		province TEXT,
		retry_stage INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		scheduled_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT (datetime('now')),
		last_attempt_at DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		call_options_blob TEXT NOT NULL DEFAULT '',
		available_slots_text TEXT NOT NULL DEFAULT '',
		initial_signed_url TEXT NOT NULL DEFAULT '',
		first_attempt_timestamp DATETIME
	)`},
	{"create_calls", `CREATE TABLE IF NOT EXISTS calls (
		call_sid TEXT PRIMARY KEY,
		to_number TEXT NOT NULL,
		contact_id TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'initiated',
		created_at DATETIME NOT NULL DEFAULT (datetime('now')),
		signed_url TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		answered_by TEXT NOT NULL DEFAULT '',
		available_slots TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		first_attempt_timestamp DATETIME,
		service TEXT NOT NULL DEFAULT '',
		retry_scheduled INTEGER NOT NULL DEFAULT 0
	)`},
	{"create_incoming_calls", `CREATE TABLE IF NOT EXISTS incoming_calls (
		call_sid TEXT PRIMARY KEY,
		from_number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'initiated',
		created_at DATETIME NOT NULL DEFAULT (datetime('now')),
		conversation_id TEXT NOT NULL DEFAULT '',
		stream_sid TEXT NOT NULL DEFAULT '',
		available_slots TEXT NOT NULL DEFAULT ''
	)`},
	{"create_follow_ups", `CREATE TABLE IF NOT EXISTS follow_ups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contact_id TEXT NOT NULL,
		follow_up_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		province TEXT,
		service TEXT,
		created_at DATETIME NOT NULL DEFAULT (datetime('now')),
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	)`},
	{"create_sales_reps", `CREATE TABLE IF NOT EXISTS sales_reps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ghl_user_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		services TEXT NOT NULL DEFAULT '',
		provinces TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT (datetime('now')),
		updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`},
	{"create_crm_tokens", `CREATE TABLE IF NOT EXISTS crm_tokens (
		location_id TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`},
	// Columns added after the initial schema shipped.
	{"calls_add_province", `ALTER TABLE calls ADD COLUMN province TEXT`},
	{"calls_add_stream_sid", `ALTER TABLE calls ADD COLUMN stream_sid TEXT NOT NULL DEFAULT ''`},
	{"calls_add_transcript_summary", `ALTER TABLE calls ADD COLUMN transcript_summary TEXT NOT NULL DEFAULT ''`},
	{"call_queue_add_slot_layout", `ALTER TABLE call_queue ADD COLUMN slot_layout TEXT NOT NULL DEFAULT ''`},
	{"calls_add_slot_layout", `ALTER TABLE calls ADD COLUMN slot_layout TEXT NOT NULL DEFAULT ''`},
	{"call_queue_add_past_call_summary", `ALTER TABLE call_queue ADD COLUMN past_call_summary TEXT NOT NULL DEFAULT ''`},
	{"call_queue_add_original_conversation_id", `ALTER TABLE call_queue ADD COLUMN original_conversation_id TEXT NOT NULL DEFAULT ''`},
	{"calls_add_past_call_summary", `ALTER TABLE calls ADD COLUMN past_call_summary TEXT NOT NULL DEFAULT ''`},
	{"calls_add_original_conversation_id", `ALTER TABLE calls ADD COLUMN original_conversation_id TEXT NOT NULL DEFAULT ''`},
	{"create_call_queue_due_index", `CREATE INDEX IF NOT EXISTS idx_call_queue_due ON call_queue (status, scheduled_at)`},
	{"create_follow_ups_due_index", `CREATE INDEX IF NOT EXISTS idx_follow_ups_due ON follow_ups (status, follow_up_at)`},
}

// Migrate replays the migration list. Every step is idempotent, so there is
// no version bookkeeping: a failed add-column on an already-present column
// counts as applied.
func (db *DB) Migrate() error {
	for _, m := range migrations {
		if _, err := db.Exec(m.stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

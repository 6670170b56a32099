// Package index provides the SQLite-backed relational mirror of note files:
// notes, hierarchical tags, note-tag links and per-user git settings.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id                INTEGER PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	git_repo_url      TEXT NOT NULL DEFAULT '',
	git_auth_token    TEXT NOT NULL DEFAULT '',
	git_sync_interval INTEGER NOT NULL DEFAULT 30,
	git_sync_time     DATETIME
);

CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL,
	path       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '',
	pinned     INTEGER NOT NULL DEFAULT 0,
	deleted    INTEGER NOT NULL DEFAULT 0,
	created    TEXT NOT NULL DEFAULT '',
	modified   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	UNIQUE(user_id, path)
);

CREATE TABLE IF NOT EXISTS tags (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL,
	name         TEXT NOT NULL,
	fullname     TEXT NOT NULL,
	parent_id    INTEGER NOT NULL DEFAULT 0,
	ancestor_ids TEXT NOT NULL DEFAULT '0',
	count        INTEGER NOT NULL DEFAULT 0,
	UNIQUE(user_id, fullname)
);

CREATE TABLE IF NOT EXISTS note_tags (
	note_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY(note_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_notes_user_deleted ON notes(user_id, deleted);
CREATE INDEX IF NOT EXISTS idx_tags_user_parent ON tags(user_id, parent_id);
CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag_id);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn     *sql.DB
	logger   *slog.Logger
	attempts int
}

// Open opens (or creates) the SQLite database and applies the schema.
// Write transactions take the database lock up front (BEGIN IMMEDIATE).
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn, logger: slog.Default(), attempts: defaultAttempts}, nil
}

// WithLogger sets the logger used for transaction diagnostics.
func (db *DB) WithLogger(l *slog.Logger) *DB {
	if l != nil {
		db.logger = l
	}
	return db
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

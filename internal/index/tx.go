package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/mythnote/internal/apperr"
)

const defaultAttempts = 3

// Tx is one unit of work against the index. It is only valid inside the
// function passed to DB.Update.
type Tx struct {
	tx  *sql.Tx
	log *slog.Logger
}

// Update runs fn in a write transaction. A unique constraint failure rolls
// the transaction back and reruns fn from scratch, up to three attempts in
// total; fn must therefore derive all state from the Tx it is given.
// Exhausting the attempts yields apperr.ErrConcurrencyConflict.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	var err error
	for attempt := 1; attempt <= db.attempts; attempt++ {
		err = db.runTx(ctx, fn)
		if err == nil || !IsUniqueViolation(err) {
			return err
		}
		db.logger.Warn("index: unique constraint race, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("index: %w after %d attempts: %w", apperr.ErrConcurrencyConflict, db.attempts, err)
}

func (db *DB) runTx(ctx context.Context, fn func(*Tx) error) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&Tx{tx: tx, log: db.logger}); err != nil {
		db.logger.Debug("index: tx rollback",
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("error", err.Error()))
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	db.logger.Debug("index: tx commit", slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// IsUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

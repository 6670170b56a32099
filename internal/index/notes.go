package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/models"
)

const noteColumns = `id, user_id, path, title, body, tags, pinned, deleted, created, modified, created_at, updated_at`

func scanNote(s interface{ Scan(...any) error }) (models.Note, error) {
	var n models.Note
	err := s.Scan(&n.ID, &n.UserID, &n.Path, &n.Title, &n.Body, &n.Tags, &n.Pinned, &n.Deleted,
		&n.Created, &n.Modified, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func getNote(ctx context.Context, q querier, userID int64, path string) (models.Note, error) {
	n, err := scanNote(q.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? AND path = ?`, userID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Note{}, fmt.Errorf("index: note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Note{}, fmt.Errorf("index: get note: %w", err)
	}
	return n, nil
}

func queryNotes(ctx context.Context, q querier, query string, args ...any) ([]models.Note, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query notes: %w", err)
	}
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetNote returns the indexed row for a note path.
func (db *DB) GetNote(ctx context.Context, userID int64, path string) (models.Note, error) {
	return getNote(ctx, db.conn, userID, path)
}

// DeletedNotes returns every note of the user flagged deleted.
func (db *DB) DeletedNotes(ctx context.Context, userID int64) ([]models.Note, error) {
	return queryNotes(ctx, db.conn,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? AND deleted = 1 ORDER BY id`, userID)
}

// NotesWithTag returns the notes linked to the tag with the given fullname.
func (db *DB) NotesWithTag(ctx context.Context, userID int64, fullname string) ([]models.Note, error) {
	return queryNotes(ctx, db.conn, `
		SELECT `+prefixed("n.", noteColumns)+`
		FROM notes n
		JOIN note_tags nt ON nt.note_id = n.id
		JOIN tags t ON t.id = nt.tag_id
		WHERE t.user_id = ? AND t.fullname = ?
		ORDER BY n.id`, userID, fullname)
}

// NoteTagNames returns the fullnames linked to a note, sorted.
func (db *DB) NoteTagNames(ctx context.Context, noteID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT t.fullname FROM note_tags nt JOIN tags t ON t.id = nt.tag_id
		WHERE nt.note_id = ? ORDER BY t.fullname`, noteID)
	if err != nil {
		return nil, fmt.Errorf("index: note tags: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func prefixed(p, cols string) string {
	parts := strings.Split(cols, ", ")
	for i := range parts {
		parts[i] = p + parts[i]
	}
	return strings.Join(parts, ", ")
}

// DeletedNotes returns every note of the user flagged deleted inside the
// transaction.
func (t *Tx) DeletedNotes(ctx context.Context, userID int64) ([]models.Note, error) {
	return queryNotes(ctx, t.tx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? AND deleted = 1 ORDER BY id`, userID)
}

// GetNote returns the row for a note path inside the transaction.
func (t *Tx) GetNote(ctx context.Context, userID int64, path string) (models.Note, error) {
	return getNote(ctx, t.tx, userID, path)
}

// UpsertNote creates the row on first write, otherwise updates every mutable
// column. CreatedAt is kept from the first insert. The row id is returned.
func (t *Tx) UpsertNote(ctx context.Context, n models.Note) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO notes (user_id, path, title, body, tags, pinned, deleted, created, modified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, path) DO UPDATE SET
			title      = excluded.title,
			body       = excluded.body,
			tags       = excluded.tags,
			pinned     = excluded.pinned,
			deleted    = excluded.deleted,
			created    = excluded.created,
			modified   = excluded.modified,
			updated_at = excluded.updated_at
		RETURNING id
	`, n.UserID, n.Path, n.Title, n.Body, n.Tags, n.Pinned, n.Deleted, n.Created, n.Modified,
		n.CreatedAt, n.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("index: upsert note: %w", err)
	}
	return id, nil
}

// DeleteNote removes a note row and its tag links, then recounts and prunes
// the tags it referenced. Deleting a missing row is not an error.
func (t *Tx) DeleteNote(ctx context.Context, userID int64, path string) error {
	n, err := t.GetNote(ctx, userID, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	prev, err := t.linkedTagIDs(ctx, n.ID)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, n.ID); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return t.recountAndPrune(ctx, prev)
}

package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/mythnote/internal/models"
)

// Synthetic folders understood by List besides tag fullnames.
const (
	FolderAll      = ""
	FolderTrash    = "//trash"
	FolderUntagged = "//untagged"
)

var sortColumns = map[string]string{
	"title":    "n.title",
	"created":  "n.created",
	"modified": "n.modified",
}

// ListQuery selects one page of notes.
type ListQuery struct {
	UserID   int64
	Folder   string
	Keywords []string
	Sort     string
	Desc     bool
	Page     int // 1-based
	Limit    int
}

// List returns the requested page and the total number of matching notes.
// Pinned notes always sort first; id breaks remaining ties.
func (db *DB) List(ctx context.Context, q ListQuery) ([]models.Note, int, error) {
	where := []string{"n.user_id = ?"}
	args := []any{q.UserID}

	switch q.Folder {
	case FolderAll:
		where = append(where, "n.deleted = 0")
	case FolderTrash:
		where = append(where, "n.deleted = 1")
	case FolderUntagged:
		where = append(where, "n.deleted = 0",
			"NOT EXISTS (SELECT 1 FROM note_tags nt WHERE nt.note_id = n.id)")
	default:
		where = append(where, `EXISTS (
			SELECT 1 FROM note_tags nt JOIN tags t ON t.id = nt.tag_id
			WHERE nt.note_id = n.id AND t.fullname = ?)`)
		args = append(args, q.Folder)
	}
	for _, kw := range q.Keywords {
		where = append(where, "(instr(n.title, ?) > 0 OR instr(n.body, ?) > 0)")
		args = append(args, kw, kw)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes n WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count list: %w", err)
	}

	order := "n.pinned DESC"
	if col, ok := sortColumns[q.Sort]; ok {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		order += ", " + col + " " + dir
	}
	order += ", n.id ASC"

	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	notes, err := queryNotes(ctx, db.conn,
		`SELECT `+prefixed("n.", noteColumns)+` FROM notes n WHERE `+cond+
			` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, err
	}
	return notes, total, nil
}

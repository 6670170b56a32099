package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/models"
	"github.com/starford/mythnote/internal/tags"
)

const tagColumns = `id, user_id, name, fullname, parent_id, ancestor_ids, count`

func scanTag(s interface{ Scan(...any) error }) (models.Tag, error) {
	var t models.Tag
	err := s.Scan(&t.ID, &t.UserID, &t.Name, &t.Fullname, &t.ParentID, &t.AncestorIDs, &t.Count)
	return t, err
}

func getTag(ctx context.Context, q querier, userID int64, fullname string) (models.Tag, error) {
	t, err := scanTag(q.QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = ? AND fullname = ?`, userID, fullname))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tag{}, fmt.Errorf("index: tag %s: %w", fullname, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Tag{}, fmt.Errorf("index: get tag: %w", err)
	}
	return t, nil
}

func listTags(ctx context.Context, q querier, userID int64) ([]models.Tag, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+tagColumns+` FROM tags WHERE user_id = ? ORDER BY fullname`, userID)
	if err != nil {
		return nil, fmt.Errorf("index: list tags: %w", err)
	}
	defer rows.Close()
	var out []models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTag returns a tag by fullname.
func (db *DB) GetTag(ctx context.Context, userID int64, fullname string) (models.Tag, error) {
	return getTag(ctx, db.conn, userID, fullname)
}

// ListTags returns every tag of the user ordered by fullname.
func (db *DB) ListTags(ctx context.Context, userID int64) ([]models.Tag, error) {
	return listTags(ctx, db.conn, userID)
}

// NoteCounts holds the sizes of the synthetic category roots.
type NoteCounts struct {
	All      int `json:"all"`
	Untagged int `json:"untagged"`
	Trash    int `json:"trash"`
}

// CountNotes returns the number of live, untagged and deleted notes.
func (db *DB) CountNotes(ctx context.Context, userID int64) (NoteCounts, error) {
	var c NoteCounts
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted = 0 AND NOT EXISTS (
				SELECT 1 FROM note_tags nt WHERE nt.note_id = notes.id) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0)
		FROM notes WHERE user_id = ?`, userID).Scan(&c.All, &c.Untagged, &c.Trash)
	if err != nil {
		return NoteCounts{}, fmt.Errorf("index: count notes: %w", err)
	}
	return c, nil
}

// GetTag returns a tag by fullname inside the transaction.
func (t *Tx) GetTag(ctx context.Context, userID int64, fullname string) (models.Tag, error) {
	return getTag(ctx, t.tx, userID, fullname)
}

// ListTags returns every tag of the user inside the transaction.
func (t *Tx) ListTags(ctx context.Context, userID int64) ([]models.Tag, error) {
	return listTags(ctx, t.tx, userID)
}

func (t *Tx) linkedTagIDs(ctx context.Context, noteID int64) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT tag_id FROM note_tags WHERE note_id = ?`, noteID)
	if err != nil {
		return nil, fmt.Errorf("index: linked tags: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ancestry computes parent id and ancestor chain for a tag whose parent is
// p, or for a root tag when p is nil.
func ancestry(p *models.Tag) (int64, string) {
	if p == nil {
		return 0, "0"
	}
	return p.ID, p.AncestorIDs + "," + strconv.FormatInt(p.ID, 10)
}

// ensureTags looks up or creates every fullname in depth order so each
// parent is resolved before its children. Existing rows whose parent link
// disagrees with their fullname are repaired.
func (t *Tx) ensureTags(ctx context.Context, userID int64, names []string) (map[string]models.Tag, error) {
	names = append([]string(nil), names...)
	tags.SortByDepth(names)
	resolved := make(map[string]models.Tag, len(names))
	for _, name := range names {
		var parent *models.Tag
		if pn := tags.ParentName(name); pn != "" {
			p, ok := resolved[pn]
			if !ok {
				got, err := t.GetTag(ctx, userID, pn)
				if err != nil {
					return nil, err
				}
				p = got
			}
			parent = &p
		}
		parentID, anc := ancestry(parent)

		existing, err := t.GetTag(ctx, userID, name)
		switch {
		case err == nil:
			if existing.ParentID != parentID || existing.AncestorIDs != anc {
				if _, err := t.tx.ExecContext(ctx,
					`UPDATE tags SET parent_id = ?, ancestor_ids = ? WHERE id = ?`,
					parentID, anc, existing.ID); err != nil {
					return nil, fmt.Errorf("index: relink tag: %w", err)
				}
				existing.ParentID, existing.AncestorIDs = parentID, anc
			}
			resolved[name] = existing
		case errors.Is(err, apperr.ErrNotFound):
			res, err := t.tx.ExecContext(ctx,
				`INSERT INTO tags (user_id, name, fullname, parent_id, ancestor_ids, count) VALUES (?, ?, ?, ?, ?, 0)`,
				userID, tags.BaseName(name), name, parentID, anc)
			if err != nil {
				return nil, fmt.Errorf("index: insert tag: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return nil, fmt.Errorf("index: insert tag id: %w", err)
			}
			resolved[name] = models.Tag{
				ID: id, UserID: userID, Name: tags.BaseName(name), Fullname: name,
				ParentID: parentID, AncestorIDs: anc,
			}
		default:
			return nil, err
		}
	}
	return resolved, nil
}

// Reconcile makes the note's tag links equal the expansion of list. Only the
// tags newly linked or previously linked are recounted, and those left
// without references are deleted.
func (t *Tx) Reconcile(ctx context.Context, userID, noteID int64, list []string) error {
	prev, err := t.linkedTagIDs(ctx, noteID)
	if err != nil {
		return err
	}
	resolved, err := t.ensureTags(ctx, userID, tags.ExpandHierarchy(list))
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("index: clear note tags: %w", err)
	}
	touched := append([]int64(nil), prev...)
	for _, tag := range resolved {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO note_tags (note_id, tag_id) VALUES (?, ?)`, noteID, tag.ID); err != nil {
			return fmt.Errorf("index: link tag: %w", err)
		}
		touched = append(touched, tag.ID)
	}
	return t.recountAndPrune(ctx, touched)
}

// recountAndPrune sets count to the exact number of links for each id and
// deletes the tags that end up with none.
func (t *Tx) recountAndPrune(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE tags SET count = (SELECT COUNT(*) FROM note_tags nt WHERE nt.tag_id = tags.id)
		WHERE id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("index: recount tags: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM tags WHERE count = 0 AND id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("index: prune tags: %w", err)
	}
	return nil
}

// RecountAll recomputes every tag count of the user in one pass and deletes
// tags without links.
func (t *Tx) RecountAll(ctx context.Context, userID int64) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE tags SET count = (SELECT COUNT(*) FROM note_tags nt WHERE nt.tag_id = tags.id)
		WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("index: recount all: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM tags WHERE user_id = ? AND count = 0`, userID); err != nil {
		return fmt.Errorf("index: prune all: %w", err)
	}
	return nil
}

// DeleteTagSubtree removes the tag root and every tag below it. Links to
// them are removed by cascade; the counts of other tags are unaffected.
func (t *Tx) DeleteTagSubtree(ctx context.Context, userID int64, root string) (int, error) {
	all, err := t.ListTags(ctx, userID)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for _, tag := range all {
		if tags.InSubtree(tag.Fullname, root) {
			ids = append(ids, tag.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	in, args := inClause(ids)
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM tags WHERE id IN (`+in+`)`, args...); err != nil {
		return 0, fmt.Errorf("index: delete tag subtree: %w", err)
	}
	return len(ids), nil
}

func inClause(ids []int64) (string, []any) {
	seen := make(map[int64]struct{}, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		args = append(args, id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(args)), ","), args
}

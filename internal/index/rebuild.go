package index

import (
	"context"
	"fmt"

	"github.com/starford/mythnote/internal/models"
	"github.com/starford/mythnote/internal/tags"
)

// RebuildNote is one parsed file handed to ReplaceAll.
type RebuildNote struct {
	Note models.Note
	Tags []string // frontmatter tags; ignored for deleted notes
}

// ReplaceAll discards every note and tag of the user and inserts the given
// set in bulk: notes first, then tags in depth order, then links, then one
// aggregate recount.
func (t *Tx) ReplaceAll(ctx context.Context, userID int64, notes []RebuildNote) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM tags WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("index: clear tags: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM notes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("index: clear notes: %w", err)
	}

	insNote, err := t.tx.PrepareContext(ctx, `
		INSERT INTO notes (user_id, path, title, body, tags, pinned, deleted, created, modified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare note insert: %w", err)
	}
	defer insNote.Close()

	type pair struct {
		noteID int64
		tag    string
	}
	var pairs []pair
	var names []string
	seen := make(map[string]struct{})

	for _, rn := range notes {
		n := rn.Note
		res, err := insNote.ExecContext(ctx, userID, n.Path, n.Title, n.Body, n.Tags, n.Pinned, n.Deleted,
			n.Created, n.Modified, n.CreatedAt, n.UpdatedAt)
		if err != nil {
			return fmt.Errorf("index: insert note %s: %w", n.Path, err)
		}
		if n.Deleted {
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("index: note id: %w", err)
		}
		for _, tag := range tags.ExpandHierarchy(rn.Tags) {
			pairs = append(pairs, pair{noteID: id, tag: tag})
			if _, ok := seen[tag]; !ok {
				seen[tag] = struct{}{}
				names = append(names, tag)
			}
		}
	}

	resolved, err := t.ensureTags(ctx, userID, names)
	if err != nil {
		return err
	}

	insLink, err := t.tx.PrepareContext(ctx, `INSERT INTO note_tags (note_id, tag_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer insLink.Close()
	for _, p := range pairs {
		if _, err := insLink.ExecContext(ctx, p.noteID, resolved[p.tag].ID); err != nil {
			return fmt.Errorf("index: insert link: %w", err)
		}
	}
	return t.RecountAll(ctx, userID)
}

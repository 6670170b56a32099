package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/index"
	"github.com/starford/mythnote/internal/markdown"
	"github.com/starford/mythnote/internal/tags"
)

// Category is one root of the category sidebar. The first root holds the
// tag tree; the untagged and trash roots never have children.
type Category struct {
	Name     string           `json:"name"`
	Fullname string           `json:"fullname"`
	Count    int              `json:"count"`
	Children []*tags.TreeNode `json:"children"`
}

// Categories returns the tag tree under the "all notes" root followed by
// the untagged and trash roots.
func (s *Service) Categories(ctx context.Context, userID int64) ([]Category, error) {
	flat, err := s.db.ListTags(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.db.CountNotes(ctx, userID)
	if err != nil {
		return nil, err
	}
	tree := tags.BuildTree(flat)
	if tree == nil {
		tree = []*tags.TreeNode{}
	}
	return []Category{
		{Name: "All notes", Fullname: index.FolderAll, Count: counts.All, Children: tree},
		{Name: "Untagged", Fullname: index.FolderUntagged, Count: counts.Untagged, Children: []*tags.TreeNode{}},
		{Name: "Trash", Fullname: index.FolderTrash, Count: counts.Trash, Children: []*tags.TreeNode{}},
	}, nil
}

type rewrite struct {
	path  string
	props markdown.Props
	body  string
}

// RenameCategory renames tag oldName, and every tag below it, to newName
// across all live notes. An empty newName deletes the tag: notes lose it
// and its descendants move up to their suffix.
//
// The note files are rewritten first. One transaction then brings each
// rewritten note's row and tags in line with its file and removes whatever
// is left of the old subtree. The result equals saving each rewritten file
// in turn. It returns the number of notes rewritten.
//
// A note whose file is gone loses its row. A note that cannot be read keeps
// its row, and the old subtree then stays in the index for it. A failed
// write stops the loop; notes already rewritten are still indexed and the
// error is returned with their count. Renaming a tag to itself does nothing.
func (s *Service) RenameCategory(ctx context.Context, userID int64, oldName, newName string) (int, error) {
	oldName, newName = tags.Normalize(oldName), tags.Normalize(newName)
	if oldName == "" {
		return 0, fmt.Errorf("noteservice: rename: tag name required: %w", apperr.ErrInvalidInput)
	}
	if _, err := s.db.GetTag(ctx, userID, oldName); err != nil {
		return 0, err
	}
	if newName == oldName {
		return 0, nil
	}
	if newName != "" && tags.InSubtree(newName, oldName) {
		return 0, fmt.Errorf("noteservice: rename %q to %q: target inside source: %w",
			oldName, newName, apperr.ErrValidationConflict)
	}

	notes, err := s.db.NotesWithTag(ctx, userID, oldName)
	if err != nil {
		return 0, err
	}
	modified := stamp(s.now())
	var (
		done     []rewrite
		gone     []string
		skipped  int
		writeErr error
	)
	for _, n := range notes {
		text, err := s.readFile(userID, n.Path)
		if errors.Is(err, apperr.ErrNotFound) {
			gone = append(gone, n.Path)
			continue
		}
		if err != nil {
			s.logger.Warn("noteservice: rename skipped note",
				slog.Int64("user", userID), slog.String("path", n.Path), slog.String("error", err.Error()))
			skipped++
			continue
		}
		p, body := markdown.Parse(text)
		renamed, changed := tags.Rename(p.Tags, oldName, newName)
		if changed {
			p.Tags = renamed
			p.Modified = modified
			if err := s.store.Write(userID, n.Path, []byte(markdown.Serialize(p, body))); err != nil {
				writeErr = fmt.Errorf("noteservice: rename: write %s: %w", n.Path, err)
				break
			}
		}
		done = append(done, rewrite{path: n.Path, props: p, body: body})
	}

	now := s.now().Unix()
	err = s.db.Update(ctx, func(tx *index.Tx) error {
		for _, path := range gone {
			if err := tx.DeleteNote(ctx, userID, path); err != nil {
				return err
			}
		}
		for _, r := range done {
			if err := saveRow(ctx, tx, noteRow(userID, r.path, r.props, r.body, now), indexTags(r.props)); err != nil {
				return err
			}
		}
		if skipped > 0 || writeErr != nil {
			return nil
		}
		_, err := tx.DeleteTagSubtree(ctx, userID, oldName)
		return err
	})
	if err != nil {
		return 0, err
	}
	if writeErr != nil {
		return len(done), writeErr
	}
	s.logger.Info("noteservice: category renamed",
		slog.Int64("user", userID), slog.String("old", oldName), slog.String("new", newName),
		slog.Int("notes", len(done)), slog.Int("skipped", skipped))
	return len(done), nil
}

// DeleteCategory removes a tag from every note. It is RenameCategory with
// an empty target.
func (s *Service) DeleteCategory(ctx context.Context, userID int64, name string) (int, error) {
	return s.RenameCategory(ctx, userID, name, "")
}

package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/index"
	"github.com/starford/mythnote/internal/markdown"
)

// Rebuild discards the user's index and reloads it from the note files in
// one transaction. Files are visited in path order; a second file with a
// name already seen is skipped. It is the function run by the rebuild
// coordinator.
func (s *Service) Rebuild(ctx context.Context, userID int64) error {
	files, err := s.store.List(userID)
	if err != nil {
		return err
	}
	now := s.now().Unix()
	seen := make(map[string]string, len(files))
	batch := make([]index.RebuildNote, 0, len(files))
	for _, f := range files {
		if first, dup := seen[f.Name]; dup {
			s.logger.Warn("noteservice: duplicate note name",
				slog.Int64("user", userID), slog.String("kept", first), slog.String("skipped", f.RelPath))
			continue
		}
		seen[f.Name] = f.RelPath
		if err := validName(f.Name); err != nil {
			s.logger.Warn("noteservice: skipping file", slog.String("path", f.RelPath), slog.String("error", err.Error()))
			continue
		}
		data, err := s.store.Read(userID, f.Name)
		if err != nil {
			// Misfiled notes are listed but cannot be read at their canonical path.
			s.logger.Warn("noteservice: skipping file", slog.String("path", f.RelPath), slog.String("error", err.Error()))
			continue
		}
		p, body := markdown.Parse(string(data))
		batch = append(batch, index.RebuildNote{
			Note: noteRow(userID, f.Name, p, body, now),
			Tags: p.Tags,
		})
	}

	if err := s.db.Update(ctx, func(tx *index.Tx) error {
		return tx.ReplaceAll(ctx, userID, batch)
	}); err != nil {
		return fmt.Errorf("noteservice: rebuild user %d: %w", userID, err)
	}
	s.logger.Info("noteservice: index rebuilt", slog.Int64("user", userID), slog.Int("notes", len(batch)))
	return nil
}

// RequestRebuild queues a background rebuild. It reports false when one is
// already busy or no coordinator is attached.
func (s *Service) RequestRebuild(userID int64) bool {
	if s.rebuild == nil {
		return false
	}
	return s.rebuild.RequestRebuild(userID)
}

// RebuildStatus reports whether a rebuild is queued or running.
func (s *Service) RebuildStatus(userID int64) bool {
	return s.rebuild != nil && s.rebuild.Status(userID)
}

// ReindexFile brings one note's row in line with its file: a present file is
// indexed as is, a missing one is dropped from the index. While a rebuild of
// the user is busy the call does nothing, as the rebuild will pick the file
// up.
func (s *Service) ReindexFile(ctx context.Context, userID int64, name string) error {
	if s.RebuildStatus(userID) {
		s.logger.Debug("noteservice: reindex skipped during rebuild",
			slog.Int64("user", userID), slog.String("path", name))
		return nil
	}
	if err := validName(name); err != nil {
		return err
	}
	text, err := s.readFile(userID, name)
	if errors.Is(err, apperr.ErrNotFound) {
		return s.db.Update(ctx, func(tx *index.Tx) error {
			return tx.DeleteNote(ctx, userID, name)
		})
	}
	if err != nil {
		return err
	}
	p, body := markdown.Parse(text)
	return s.indexNote(ctx, userID, name, p, body)
}

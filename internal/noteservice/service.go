// Package noteservice keeps note files and the relational index consistent.
// Every operation takes the acting user's id explicitly.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/gitsync"
	"github.com/starford/mythnote/internal/index"
	"github.com/starford/mythnote/internal/markdown"
	"github.com/starford/mythnote/internal/models"
	"github.com/starford/mythnote/internal/storage"
	"github.com/starford/mythnote/internal/tags"
)

// MaxLimit caps the page size of Index.
const MaxLimit = 100

// GitSync is the subset of the git sync manager the service drives.
type GitSync interface {
	FullSync(ctx context.Context, u models.User) (time.Time, error)
	DeleteLocalRepo(ctx context.Context, userID int64) error
	HasUncommittedChanges(ctx context.Context, userID int64) bool
	Head(ctx context.Context, userID int64) string
	History(ctx context.Context, userID int64, relPath string, page, limit int) (gitsync.HistoryPage, error)
	CommitDetail(ctx context.Context, userID int64, relPath, id string) (gitsync.CommitDetail, error)
}

// Rebuilder launches background rebuilds and reports whether one is busy.
type Rebuilder interface {
	RequestRebuild(userID int64) bool
	Status(userID int64) bool
}

// Service coordinates storage, index and git operations.
type Service struct {
	store   storage.Provider
	db      *index.DB
	git     GitSync
	rebuild Rebuilder
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithGit enables the git-backed operations.
func WithGit(g GitSync) Option {
	return func(s *Service) { s.git = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a note service.
func New(store storage.Provider, db *index.DB, opts ...Option) *Service {
	s := &Service{
		store:  store,
		db:     db,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRebuilder attaches the rebuild coordinator. The coordinator runs
// s.Rebuild, so it can only be attached once the service exists.
func (s *Service) SetRebuilder(r Rebuilder) {
	s.rebuild = r
}

// NoteContent is a parsed note file.
type NoteContent struct {
	Path  string         `json:"path"`
	Props markdown.Props `json:"props"`
	Body  string         `json:"body"`
}

// stamp formats t the way modified timestamps are written to frontmatter.
func stamp(t time.Time) string {
	return t.UTC().Format(time.DateTime)
}

func validName(name string) error {
	if err := storage.ValidateName(name); err != nil {
		return fmt.Errorf("noteservice: note path %q: %w: %w", name, apperr.ErrInvalidInput, err)
	}
	return nil
}

// noteRow builds the index row mirroring a parsed file. Deleted notes keep
// their tags in the file but not in the index.
func noteRow(userID int64, path string, p markdown.Props, body string, now int64) models.Note {
	raw := strings.Join(tags.Clean(p.Tags), ",")
	if p.Deleted {
		raw = ""
	}
	return models.Note{
		UserID:    userID,
		Path:      path,
		Title:     markdown.DeriveTitle(p, body),
		Body:      body,
		Tags:      raw,
		Pinned:    p.Pinned,
		Deleted:   p.Deleted,
		Created:   p.Created,
		Modified:  p.Modified,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func indexTags(p markdown.Props) []string {
	if p.Deleted {
		return nil
	}
	return p.Tags
}

// saveRow upserts the note row and reconciles its tags inside tx.
func saveRow(ctx context.Context, tx *index.Tx, n models.Note, list []string) error {
	id, err := tx.UpsertNote(ctx, n)
	if err != nil {
		return err
	}
	return tx.Reconcile(ctx, n.UserID, id, list)
}

func (s *Service) indexNote(ctx context.Context, userID int64, path string, p markdown.Props, body string) error {
	n := noteRow(userID, path, p, body, s.now().Unix())
	return s.db.Update(ctx, func(tx *index.Tx) error {
		return saveRow(ctx, tx, n, indexTags(p))
	})
}

// readFile returns the file text, mapping a missing file to apperr.ErrNotFound.
func (s *Service) readFile(userID int64, path string) (string, error) {
	data, err := s.store.Read(userID, path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("noteservice: note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SafeSave writes a note and updates the index. A non-empty created value
// already on disk is immutable: a write carrying a different one fails with
// apperr.ErrValidationConflict and changes nothing. With skipFileWrite the
// file is left as is and only the index is updated.
func (s *Service) SafeSave(ctx context.Context, userID int64, path, body string, props markdown.Props, skipFileWrite bool) error {
	if err := validName(path); err != nil {
		return err
	}
	current, err := s.readFile(userID, path)
	switch {
	case err == nil:
		cur, _ := markdown.Parse(current)
		if cur.Created != "" && cur.Created != props.Created {
			s.logger.Warn("noteservice: created mismatch",
				slog.Int64("user", userID), slog.String("path", path),
				slog.String("stored", cur.Created), slog.String("incoming", props.Created))
			return fmt.Errorf("noteservice: %s: created %q cannot change to %q: %w",
				path, cur.Created, props.Created, apperr.ErrValidationConflict)
		}
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return err
	}

	body = strings.TrimLeft(body, " \t\r\n")
	if !skipFileWrite {
		if err := s.store.Write(userID, path, []byte(markdown.Serialize(props, body))); err != nil {
			return err
		}
	}
	return s.indexNote(ctx, userID, path, props, body)
}

// Read returns the parsed content of a note file.
func (s *Service) Read(_ context.Context, userID int64, path string) (NoteContent, error) {
	if err := validName(path); err != nil {
		return NoteContent{}, err
	}
	text, err := s.readFile(userID, path)
	if err != nil {
		return NoteContent{}, err
	}
	p, body := markdown.Parse(text)
	return NoteContent{Path: path, Props: p, Body: body}, nil
}

// Delete sets or clears the deleted flag of each note, stamping modified.
// Tags leave the index on delete and come back from the file on restore.
// Failing paths are logged and skipped; the number of updated notes is
// returned.
func (s *Service) Delete(ctx context.Context, userID int64, paths []string, deleted bool) (int, error) {
	n := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.setDeleted(ctx, userID, path, deleted); err != nil {
			s.logger.Warn("noteservice: delete failed",
				slog.Int64("user", userID), slog.String("path", path),
				slog.Bool("deleted", deleted), slog.String("error", err.Error()))
			continue
		}
		n++
	}
	return n, nil
}

func (s *Service) setDeleted(ctx context.Context, userID int64, path string, deleted bool) error {
	if err := validName(path); err != nil {
		return err
	}
	text, err := s.readFile(userID, path)
	if err != nil {
		return err
	}
	modified := stamp(s.now())
	out := markdown.Rewrite(text, func(p *markdown.Props) {
		p.Deleted = deleted
		p.Modified = modified
	})
	if err := s.store.Write(userID, path, []byte(out)); err != nil {
		return err
	}
	p, body := markdown.Parse(out)
	return s.indexNote(ctx, userID, path, p, body)
}

// Cleanup permanently removes every note flagged deleted: rows first in one
// transaction, then the files. It returns the number of notes removed.
func (s *Service) Cleanup(ctx context.Context, userID int64) (int, error) {
	var removed []models.Note
	err := s.db.Update(ctx, func(tx *index.Tx) error {
		notes, err := tx.DeletedNotes(ctx, userID)
		if err != nil {
			return err
		}
		for _, n := range notes {
			if err := tx.DeleteNote(ctx, userID, n.Path); err != nil {
				return err
			}
		}
		removed = notes
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, n := range removed {
		if err := s.store.Delete(userID, n.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("noteservice: remove file failed",
				slog.Int64("user", userID), slog.String("path", n.Path), slog.String("error", err.Error()))
		}
	}
	s.logger.Info("noteservice: cleanup", slog.Int64("user", userID), slog.Int("removed", len(removed)))
	return len(removed), nil
}

// Query selects a page of notes.
type Query struct {
	Folder   string `json:"folder"`
	Keywords string `json:"keywords"`
	Sort     string `json:"sort"`
	Order    string `json:"order"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
}

// Validate checks the sort key, direction and paging values.
func (q Query) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Sort, validation.In("title", "created", "modified")),
		validation.Field(&q.Order, validation.In("asc", "desc")),
		validation.Field(&q.Page, validation.Min(0)),
		validation.Field(&q.Limit, validation.Min(0)),
	)
}

// NoteItem is one row of an Index page.
type NoteItem struct {
	Title    string   `json:"title"`
	Path     string   `json:"path"`
	Pinned   bool     `json:"pinned"`
	Tags     []string `json:"tags"`
	Created  string   `json:"created"`
	Modified string   `json:"modified"`
}

// Page is one page of notes with the total match count.
type Page struct {
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Limit int        `json:"limit"`
	Items []NoteItem `json:"items"`
}

// keywords splits on whitespace and drops duplicates.
func keywords(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, kw := range strings.Fields(s) {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func splitTags(raw string) []string {
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, ",")
}

// Index lists notes in a folder: "" for all live notes, "//trash",
// "//untagged" or a tag fullname. All keywords must occur in the title or
// the body.
func (s *Service) Index(ctx context.Context, userID int64, q Query) (Page, error) {
	if err := q.Validate(); err != nil {
		return Page{}, fmt.Errorf("noteservice: query: %w: %w", apperr.ErrInvalidInput, err)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	q.Limit = min(q.Limit, MaxLimit)

	notes, total, err := s.db.List(ctx, index.ListQuery{
		UserID:   userID,
		Folder:   q.Folder,
		Keywords: keywords(q.Keywords),
		Sort:     q.Sort,
		Desc:     q.Order == "desc",
		Page:     q.Page,
		Limit:    q.Limit,
	})
	if err != nil {
		return Page{}, err
	}
	items := make([]NoteItem, len(notes))
	for i, n := range notes {
		items[i] = NoteItem{
			Title:    n.Title,
			Path:     n.Path,
			Pinned:   n.Pinned,
			Tags:     splitTags(n.Tags),
			Created:  n.Created,
			Modified: n.Modified,
		}
	}
	return Page{Total: total, Page: q.Page, Limit: q.Limit, Items: items}, nil
}

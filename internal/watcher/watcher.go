// Package watcher keeps the index current with note files changed outside
// the service, such as edits in a checked-out repository or files brought
// in by a merge.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Locator maps absolute file paths to notes.
type Locator interface {
	Root() string
	Locate(abs string) (userID int64, name string, ok bool)
}

// Reindexer brings one note's index row in line with its file. It is called
// for created, changed and removed files alike.
type Reindexer interface {
	ReindexFile(ctx context.Context, userID int64, name string) error
}

// EventCallback is called after each reindexed note.
type EventCallback func(userID int64, name string)

type noteKey struct {
	userID int64
	name   string
}

// Watcher watches the repositories root recursively.
type Watcher struct {
	loc      Locator
	idx      Reindexer
	debounce time.Duration
	logger   *slog.Logger
	cb       EventCallback
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long events are collected before reindexing.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithCallback registers a callback run after each reindexed note.
func WithCallback(cb EventCallback) Option {
	return func(w *Watcher) { w.cb = cb }
}

// New creates a Watcher.
func New(loc Locator, idx Reindexer, opts ...Option) *Watcher {
	w := &Watcher{
		loc:      loc,
		idx:      idx,
		debounce: 200 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes file events until ctx is cancelled. Directories created at
// runtime are added to the watch list and any notes already inside them are
// indexed. Hidden directories, .git among them, are never watched.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.loc.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[noteKey]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	queue := func(abs string) {
		userID, name, ok := w.loc.Locate(abs)
		if !ok {
			return
		}
		pending[noteKey{userID, name}] = struct{}{}
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			batch := pending
			pending = make(map[noteKey]struct{})
			w.flush(ctx, batch)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if hidden(root, ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					_ = filepath.WalkDir(ev.Name, func(p string, d fs.DirEntry, err error) error {
						if err == nil && !d.IsDir() {
							queue(p)
						}
						return nil
					})
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				queue(ev.Name)
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) flush(ctx context.Context, batch map[noteKey]struct{}) {
	for k := range batch {
		if err := w.idx.ReindexFile(ctx, k.userID, k.name); err != nil {
			w.logger.Warn("watcher: reindex failed",
				slog.Int64("user", k.userID),
				slog.String("name", k.name),
				slog.String("error", err.Error()))
			continue
		}
		w.logger.Debug("watcher: reindexed", slog.Int64("user", k.userID), slog.String("name", k.name))
		if w.cb != nil {
			w.cb(k.userID, k.name)
		}
	}
}

// hidden reports whether any element of p below root starts with a dot.
func hidden(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// addDirsRecursive adds dir and all its non-hidden subdirectories.
func addDirsRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

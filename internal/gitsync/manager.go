// Package gitsync keeps each user's note folder in sync with a remote git
// repository. All operations that modify a user's working tree hold that
// user's lock for their whole duration; different users never wait on each
// other.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/models"
)

// Layout resolves a user's working tree.
type Layout interface {
	UserDir(userID int64) string
}

// Manager runs git operations against per-user working trees.
type Manager struct {
	layout  Layout
	lockDir string
	bin     string
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[int64]chan struct{}

	// trace, when set, is called on entering and leaving a locked section.
	trace func(event string, userID int64)
}

// Option configures a Manager.
type Option func(*Manager)

// WithGitBinary sets the git executable.
func WithGitBinary(bin string) Option {
	return func(m *Manager) { m.bin = bin }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager. Lock files are kept in lockDir so that separate
// processes working on the same repositories are serialized as well.
func New(layout Layout, lockDir string, opts ...Option) *Manager {
	m := &Manager{
		layout:  layout,
		lockDir: lockDir,
		bin:     "git",
		now:     time.Now,
		logger:  slog.Default(),
		locks:   make(map[int64]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// userSem returns the user's in-process lock, creating it on first use.
func (m *Manager) userSem(userID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = make(chan struct{}, 1)
		m.locks[userID] = l
	}
	return l
}

// lock takes the in-process lock and then the lock file of the user. Both
// waits give up when ctx is done.
func (m *Manager) lock(ctx context.Context, userID int64) (func(), error) {
	sem := m.userSem(userID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("gitsync: acquire repo lock: %w", ctx.Err())
	}
	release := func() { <-sem }

	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		release()
		return nil, fmt.Errorf("gitsync: create lock dir: %w", err)
	}
	fl := flock.New(filepath.Join(m.lockDir, strconv.FormatInt(userID, 10)+".lock"))
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		release()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("gitsync: acquire repo lock: %w", err)
	}
	if m.trace != nil {
		m.trace("enter", userID)
	}
	return func() {
		if m.trace != nil {
			m.trace("exit", userID)
		}
		if err := fl.Unlock(); err != nil {
			m.logger.Warn("gitsync: release repo lock", slog.Int64("user", userID), slog.String("error", err.Error()))
		}
		release()
	}, nil
}

// DeleteLocalRepo removes the user's working tree, clearing read-only
// permissions first. A missing tree is not an error.
func (m *Manager) DeleteLocalRepo(ctx context.Context, userID int64) error {
	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return forceRemove(m.layout.UserDir(userID))
}

func forceRemove(dir string) error {
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().Perm()&0o200 == 0 {
			_ = os.Chmod(p, info.Mode().Perm()|0o200)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gitsync: clear read-only: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("gitsync: remove %s: %w", dir, err)
	}
	return nil
}

// isRepo reports whether dir is itself the top of a git working tree.
func (m *Manager) isRepo(ctx context.Context, dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	r := runner{bin: m.bin, dir: dir, env: baseEnv()}
	out, err := r.output(ctx, "rev-parse", "--git-dir")
	return err == nil && out == ".git"
}

// FullSync clones the remote when no valid local repository exists, commits
// local changes, fetches, merges the upstream branch and pushes. A merge with
// conflicts is aborted and reported as apperr.ErrMergeConflict. The returned
// time is the moment the sync completed, for the caller to persist.
func (m *Manager) FullSync(ctx context.Context, u models.User) (time.Time, error) {
	if !u.HasRemote() {
		return time.Time{}, fmt.Errorf("gitsync: user %d: remote url and token required: %w", u.ID, apperr.ErrMissingConfig)
	}
	unlock, err := m.lock(ctx, u.ID)
	if err != nil {
		return time.Time{}, err
	}
	defer unlock()

	start := time.Now()
	dir := m.layout.UserDir(u.ID)
	env := syncEnv(u)
	log := m.logger.With(slog.Int64("user", u.ID))

	if !m.isRepo(ctx, dir) {
		log.Info("gitsync: cloning", slog.String("dir", dir))
		if err := forceRemove(dir); err != nil {
			return time.Time{}, err
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return time.Time{}, fmt.Errorf("gitsync: mkdir: %w", err)
		}
		parent := runner{bin: m.bin, dir: filepath.Dir(dir), env: env}
		if _, err := parent.run(ctx, "clone", "--", u.GitRepoURL, dir); err != nil {
			_ = forceRemove(dir)
			return time.Time{}, fmt.Errorf("gitsync: clone: %w", err)
		}
	}

	r := runner{bin: m.bin, dir: dir, env: env}
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return time.Time{}, fmt.Errorf("gitsync: stage: %w", err)
	}
	status, err := r.output(ctx, "status", "--porcelain")
	if err != nil {
		return time.Time{}, fmt.Errorf("gitsync: status: %w", err)
	}
	if status != "" {
		msg := "Auto-sync: " + m.now().UTC().Format(time.DateTime)
		if _, err := r.run(ctx, "commit", "--no-verify", "-m", msg); err != nil {
			return time.Time{}, fmt.Errorf("gitsync: commit: %w", err)
		}
		log.Info("gitsync: committed local changes")
	}

	if _, err := r.run(ctx, "fetch", "origin"); err != nil {
		return time.Time{}, fmt.Errorf("gitsync: fetch: %w", err)
	}

	hasUpstream := r.ok(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	target := ""
	if hasUpstream {
		target = "@{u}"
	} else if branch, err := r.output(ctx, "symbolic-ref", "--short", "HEAD"); err == nil &&
		r.ok(ctx, "rev-parse", "--verify", "-q", "refs/remotes/origin/"+branch) {
		target = "origin/" + branch
	}
	if target != "" {
		if _, err := r.run(ctx, "merge", "--ff", "--no-edit", target); err != nil {
			if conflicted, _ := r.output(ctx, "diff", "--name-only", "--diff-filter=U"); conflicted != "" ||
				r.ok(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD") {
				_, _ = r.run(ctx, "merge", "--abort")
				log.Warn("gitsync: merge conflict", slog.String("files", strings.ReplaceAll(conflicted, "\n", ",")))
				return time.Time{}, fmt.Errorf("gitsync: merge %s: %w: %w", target, apperr.ErrMergeConflict, err)
			}
			return time.Time{}, fmt.Errorf("gitsync: merge: %w", err)
		}
	}

	if r.ok(ctx, "rev-parse", "--verify", "-q", "HEAD") {
		args := []string{"push", "origin", "HEAD"}
		if !hasUpstream {
			args = []string{"push", "-u", "origin", "HEAD"}
		}
		if _, err := r.run(ctx, args...); err != nil {
			return time.Time{}, fmt.Errorf("gitsync: push: %w", err)
		}
	}

	done := m.now()
	log.Info("gitsync: synced", slog.Duration("duration", time.Since(start)))
	return done, nil
}

// HasUncommittedChanges reports staged, unstaged or untracked changes in the
// user's working tree. Missing or invalid repositories report false.
func (m *Manager) HasUncommittedChanges(ctx context.Context, userID int64) bool {
	dir := m.layout.UserDir(userID)
	if !m.isRepo(ctx, dir) {
		return false
	}
	r := runner{bin: m.bin, dir: dir, env: baseEnv()}
	out, err := r.output(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		m.logger.Warn("gitsync: status failed", slog.Int64("user", userID), slog.String("error", err.Error()))
		return false
	}
	return out != ""
}

// Head returns the commit id checked out in the user's working tree, or ""
// when there is none.
func (m *Manager) Head(ctx context.Context, userID int64) string {
	dir := m.layout.UserDir(userID)
	if !m.isRepo(ctx, dir) {
		return ""
	}
	r := runner{bin: m.bin, dir: dir, env: baseEnv()}
	out, err := r.output(ctx, "rev-parse", "--verify", "-q", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

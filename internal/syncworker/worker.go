// Package syncworker periodically syncs every user that has a git remote.
package syncworker

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/mythnote/internal/models"
)

// UserStore lists sync candidates and records completed syncs.
type UserStore interface {
	ListSyncUsers(ctx context.Context) ([]models.User, error)
	SetGitSyncTimes(ctx context.Context, times map[int64]time.Time) error
}

// Syncer performs one full sync for a user.
type Syncer interface {
	FullSync(ctx context.Context, u models.User) (time.Time, error)
}

// Rebuilder queues an index rebuild for a user.
type Rebuilder interface {
	RequestRebuild(userID int64) bool
}

// Worker drives periodic sync passes.
type Worker struct {
	Interval  time.Duration
	Users     UserStore
	Syncer    Syncer
	Rebuilder Rebuilder // optional
	Logger    *slog.Logger
	Now       func() time.Time
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

// due reports whether the user's own sync interval, in minutes, has elapsed.
// Users without an interval or without a previous sync are always due.
func (w *Worker) due(u models.User) bool {
	if u.GitSyncInterval <= 0 || u.GitSyncTime == nil {
		return true
	}
	next := u.GitSyncTime.Add(time.Duration(u.GitSyncInterval) * time.Minute)
	return !w.now().Before(next)
}

// RunOnce syncs every due user. A failing user is logged and skipped; the
// pass continues with the others. Sync times of the successful users are
// saved together at the end of the pass. It returns the number of users
// synced.
func (w *Worker) RunOnce(ctx context.Context) int {
	log := w.logger()
	users, err := w.Users.ListSyncUsers(ctx)
	if err != nil {
		log.Error("syncworker: list users", slog.String("error", err.Error()))
		return 0
	}

	times := make(map[int64]time.Time, len(users))
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		if !w.due(u) {
			continue
		}
		at, err := w.Syncer.FullSync(ctx, u)
		if err != nil {
			log.Warn("syncworker: sync failed", slog.Int64("user", u.ID), slog.String("error", err.Error()))
			continue
		}
		times[u.ID] = at
		if w.Rebuilder != nil {
			w.Rebuilder.RequestRebuild(u.ID)
		}
	}

	if len(times) > 0 {
		// The pass may have been interrupted; what did sync is still recorded.
		if err := w.Users.SetGitSyncTimes(context.WithoutCancel(ctx), times); err != nil {
			log.Error("syncworker: save sync times", slog.String("error", err.Error()))
		}
	}
	log.Info("syncworker: pass done", slog.Int("users", len(users)), slog.Int("synced", len(times)))
	return len(times)
}

// Run performs a pass every Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	w.logger().Info("syncworker: started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger().Info("syncworker: stopped")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

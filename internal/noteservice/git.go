package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/gitsync"
	"github.com/starford/mythnote/internal/models"
)

func (s *Service) requireGit() error {
	if s.git == nil {
		return fmt.Errorf("noteservice: git sync disabled: %w", apperr.ErrMissingConfig)
	}
	return nil
}

// History lists the commits that touched a note.
func (s *Service) History(ctx context.Context, userID int64, path string, page, limit int) (gitsync.HistoryPage, error) {
	if err := validName(path); err != nil {
		return gitsync.HistoryPage{}, err
	}
	if err := s.requireGit(); err != nil {
		return gitsync.HistoryPage{}, err
	}
	return s.git.History(ctx, userID, s.store.RelPath(path), page, min(limit, MaxLimit))
}

// CommitDetail returns a note's content and patch at one commit.
func (s *Service) CommitDetail(ctx context.Context, userID int64, path, commitID string) (gitsync.CommitDetail, error) {
	if err := validName(path); err != nil {
		return gitsync.CommitDetail{}, err
	}
	if err := s.requireGit(); err != nil {
		return gitsync.CommitDetail{}, err
	}
	return s.git.CommitDetail(ctx, userID, s.store.RelPath(path), commitID)
}

// GitConfig is the remote configuration submitted by a user. An empty token
// keeps the stored one.
type GitConfig struct {
	RepoURL      string `json:"repo_url"`
	Token        string `json:"token"`
	SyncInterval int    `json:"sync_interval"`
}

// Validate checks the remote settings.
func (c GitConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.RepoURL, validation.Required, validation.Length(1, 2048)),
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.SyncInterval, validation.Min(0)),
	)
}

// GitConfigView is the stored remote configuration without the token.
type GitConfigView struct {
	RepoURL      string     `json:"repo_url"`
	HasToken     bool       `json:"has_token"`
	SyncInterval int        `json:"sync_interval"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

func (s *Service) user(ctx context.Context, userID int64) (models.User, error) {
	u, err := s.db.GetUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.User{ID: userID}, nil
	}
	return u, err
}

// GetGitConfig returns the user's remote settings. Users that never saved
// any get an empty view.
func (s *Service) GetGitConfig(ctx context.Context, userID int64) (GitConfigView, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return GitConfigView{}, err
	}
	return GitConfigView{
		RepoURL:      u.GitRepoURL,
		HasToken:     u.GitAuthToken != "",
		SyncInterval: u.GitSyncInterval,
		LastSyncTime: u.GitSyncTime,
	}, nil
}

// SaveGitConfig replaces the user's working tree with a fresh clone of the
// new remote. The settings are stored only when that first sync succeeds,
// after which the index is rebuilt from the clone.
func (s *Service) SaveGitConfig(ctx context.Context, userID int64, cfg GitConfig) error {
	if err := s.requireGit(); err != nil {
		return err
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		cfg.Token = u.GitAuthToken
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("noteservice: git config: %w: %w", apperr.ErrInvalidInput, err)
	}

	u.GitRepoURL = cfg.RepoURL
	u.GitAuthToken = cfg.Token
	u.GitSyncInterval = cfg.SyncInterval

	if err := s.git.DeleteLocalRepo(ctx, userID); err != nil {
		return err
	}
	at, err := s.git.FullSync(ctx, u)
	if err != nil {
		return err
	}
	u.GitSyncTime = &at
	if err := s.db.SaveUser(ctx, u); err != nil {
		return err
	}
	s.logger.Info("noteservice: git config saved", slog.Int64("user", userID), slog.String("remote", u.GitRepoURL))
	s.RequestRebuild(userID)
	return nil
}

// SyncResult describes one on-demand sync.
type SyncResult struct {
	SyncedAt       time.Time `json:"synced_at"`
	Changed        bool      `json:"changed"`
	RebuildStarted bool      `json:"rebuild_started"`
}

// Sync runs a full sync for the user and records its time. When the
// checked-out commit moved, the index is rebuilt.
func (s *Service) Sync(ctx context.Context, userID int64) (SyncResult, error) {
	if err := s.requireGit(); err != nil {
		return SyncResult{}, err
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}
	before := s.git.Head(ctx, userID)
	at, err := s.git.FullSync(ctx, u)
	if err != nil {
		return SyncResult{}, err
	}
	if err := s.db.SetGitSyncTimes(ctx, map[int64]time.Time{userID: at}); err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{SyncedAt: at, Changed: s.git.Head(ctx, userID) != before}
	if res.Changed {
		res.RebuildStarted = s.RequestRebuild(userID)
	}
	return res, nil
}

// SyncStatus summarises the state of the user's working tree.
type SyncStatus struct {
	Configured   bool       `json:"configured"`
	Uncommitted  bool       `json:"uncommitted"`
	Head         string     `json:"head,omitempty"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	Rebuilding   bool       `json:"rebuilding"`
}

// SyncStatus reports whether a remote is configured, whether the tree has
// unsynced changes and when it was last synced.
func (s *Service) SyncStatus(ctx context.Context, userID int64) (SyncStatus, error) {
	if err := s.requireGit(); err != nil {
		return SyncStatus{}, err
	}
	u, err := s.user(ctx, userID)
	if err != nil {
		return SyncStatus{}, err
	}
	return SyncStatus{
		Configured:   u.HasRemote(),
		Uncommitted:  s.git.HasUncommittedChanges(ctx, userID),
		Head:         s.git.Head(ctx, userID),
		LastSyncTime: u.GitSyncTime,
		Rebuilding:   s.RebuildStatus(userID),
	}, nil
}

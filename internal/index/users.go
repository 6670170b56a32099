package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/models"
)

const userColumns = `id, name, git_repo_url, git_auth_token, git_sync_interval, git_sync_time`

func scanUser(s interface{ Scan(...any) error }) (models.User, error) {
	var (
		u  models.User
		ts sql.NullTime
	)
	if err := s.Scan(&u.ID, &u.Name, &u.GitRepoURL, &u.GitAuthToken, &u.GitSyncInterval, &ts); err != nil {
		return models.User{}, err
	}
	if ts.Valid {
		t := ts.Time.UTC()
		u.GitSyncTime = &t
	}
	return u, nil
}

// GetUser returns the stored settings of a user.
func (db *DB) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("index: user %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("index: get user: %w", err)
	}
	return u, nil
}

// SaveUser inserts or replaces every column of the user row.
func (db *DB) SaveUser(ctx context.Context, u models.User) error {
	var ts any
	if u.GitSyncTime != nil {
		ts = u.GitSyncTime.UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, name, git_repo_url, git_auth_token, git_sync_interval, git_sync_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name              = excluded.name,
			git_repo_url      = excluded.git_repo_url,
			git_auth_token    = excluded.git_auth_token,
			git_sync_interval = excluded.git_sync_interval,
			git_sync_time     = excluded.git_sync_time
	`, u.ID, u.Name, u.GitRepoURL, u.GitAuthToken, u.GitSyncInterval, ts)
	if err != nil {
		return fmt.Errorf("index: save user: %w", err)
	}
	return nil
}

// ListSyncUsers returns users that have both a remote URL and a token.
func (db *DB) ListSyncUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE git_repo_url <> '' AND git_auth_token <> ''
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("index: list sync users: %w", err)
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetGitSyncTimes records the last successful sync of several users at once.
func (db *DB) SetGitSyncTimes(ctx context.Context, times map[int64]time.Time) error {
	if len(times) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for id, ts := range times {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET git_sync_time = ? WHERE id = ?`, ts.UTC(), id); err != nil {
			return fmt.Errorf("index: set sync time: %w", err)
		}
	}
	return tx.Commit()
}

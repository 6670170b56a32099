// Package models defines the domain types for mythnote.
package models

import "time"

// Note is the indexed mirror of one markdown file.
type Note struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tags      string `json:"tags"` // raw comma-joined frontmatter tags
	Pinned    bool   `json:"pinned"`
	Deleted   bool   `json:"deleted"`
	Created   string `json:"created"`
	Modified  string `json:"modified"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Tag is one node of a user's hierarchical tag taxonomy.
type Tag struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	Fullname    string `json:"fullname"`
	ParentID    int64  `json:"parent_id"`
	AncestorIDs string `json:"ancestor_ids"`
	Count       int    `json:"count"`
}

// NoteTag links a note to a tag.
type NoteTag struct {
	NoteID int64 `json:"note_id"`
	TagID  int64 `json:"tag_id"`
}

// User carries the git remote settings of one note owner.
type User struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	GitRepoURL      string     `json:"git_repo_url"`
	GitAuthToken    string     `json:"-"`
	GitSyncInterval int        `json:"git_sync_interval"`
	GitSyncTime     *time.Time `json:"git_sync_time,omitempty"`
}

// HasRemote reports whether the user has a remote configured for sync.
func (u User) HasRemote() bool {
	return u.GitRepoURL != "" && u.GitAuthToken != ""
}

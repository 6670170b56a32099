// Package storage defines the per-user note file layout and its file-system
// implementation.
package storage

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NoteFile is one markdown file found under a user's data folder.
type NoteFile struct {
	Name    string // note path, the bare file name
	RelPath string // slash-separated path inside the user's repository
}

// Provider is the interface for note file operations. Every note lives at
// <user-root>/data/<first 2 chars of name>/<name>.
type Provider interface {
	// Read returns the raw bytes of a note file.
	Read(userID int64, name string) ([]byte, error)
	// Write atomically writes content to a note file.
	Write(userID int64, name string, content []byte) error
	// Delete removes a note file.
	Delete(userID int64, name string) error
	// List returns every .md file under the user's data folder, sorted by RelPath.
	List(userID int64) ([]NoteFile, error)
	// UserDir returns the user's root, which is also the git working tree.
	UserDir(userID int64) string
	// RelPath returns the repository-relative path of a note.
	RelPath(name string) string
	// Locate maps an absolute file path back to its owner and note name.
	Locate(abs string) (userID int64, name string, ok bool)
}

var nameRe = regexp.MustCompile(`^[^/\\\x00]+\.md$`)

// ValidateName checks that name is a bare markdown file name.
func ValidateName(name string) error {
	return validation.Validate(name,
		validation.Required,
		validation.Length(4, 255),
		validation.Match(nameRe).Error("must be a file name ending in .md"),
	)
}

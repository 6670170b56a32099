package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	dataDir   = "data"
	tmpPrefix = ".mythnote-tmp-"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the directory holding all user repositories
}

// NewFS creates a new FS provider rooted at the given directory, creating it
// when missing.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute repositories root.
func (f *FS) Root() string {
	return f.root
}

// UserDir returns <root>/<userID>.
func (f *FS) UserDir(userID int64) string {
	return filepath.Join(f.root, strconv.FormatInt(userID, 10))
}

// RelPath returns data/<prefix>/<name> with forward slashes.
func (f *FS) RelPath(name string) string {
	return path.Join(dataDir, prefix(name), name)
}

func prefix(name string) string {
	r := []rune(name)
	if len(r) > 2 {
		r = r[:2]
	}
	return string(r)
}

// notePath resolves a note name inside the user's data folder and rejects
// anything that is not a bare file name.
func (f *FS) notePath(userID int64, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("storage: invalid note path %q: %w", name, err)
	}
	abs := filepath.Join(f.UserDir(userID), filepath.FromSlash(f.RelPath(name)))
	if !strings.HasPrefix(abs, f.UserDir(userID)+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes user root: %s", name)
	}
	return abs, nil
}

// Read returns the raw bytes of a note file.
func (f *FS) Read(userID int64, name string) ([]byte, error) {
	abs, err := f.notePath(userID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(userID int64, name string, content []byte) error {
	abs, err := f.notePath(userID, name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a note file.
func (f *FS) Delete(userID int64, name string) error {
	abs, err := f.notePath(userID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

// List walks the user's data folder and returns every .md file. A missing
// folder yields an empty list.
func (f *FS) List(userID int64) ([]NoteFile, error) {
	userDir := f.UserDir(userID)
	base := filepath.Join(userDir, dataDir)
	var out []NoteFile
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == base && os.IsNotExist(walkErr) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(userDir, p)
		if err != nil {
			return err
		}
		out = append(out, NoteFile{Name: d.Name(), RelPath: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

// Users returns the ids of all user directories under the root, ascending.
func (f *FS) Users() ([]int64, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: users: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Locate maps <root>/<id>/data/<xx>/<name> back to (id, name). Files in any
// other place, including misfiled notes, are not recognised.
func (f *FS) Locate(abs string) (int64, string, bool) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return 0, "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || parts[1] != dataDir {
		return 0, "", false
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", false
	}
	name := parts[3]
	if ValidateName(name) != nil || prefix(name) != parts[2] {
		return 0, "", false
	}
	return userID, name, true
}

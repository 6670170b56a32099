package gitsync

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/starford/mythnote/internal/apperr"
)

var commitIDRe = regexp.MustCompile(`^[0-9a-fA-F]{4,40}$`)

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "%H" + fieldSep + "%P" + fieldSep + "%an" + fieldSep + "%ae" + fieldSep + "%ct" + fieldSep + "%B" + recordSep
)

// Commit describes one commit touching a note.
type Commit struct {
	ID      string   `json:"id"`
	ShortID string   `json:"short_id"`
	Message string   `json:"message"`
	Author  string   `json:"author"`
	Email   string   `json:"email"`
	Date    string   `json:"date"` // UTC, 2006-01-02 15:04:05
	Parents []string `json:"parents,omitempty"`
}

// HistoryPage is one page of a note's commit log.
type HistoryPage struct {
	Total int      `json:"total"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
	Items []Commit `json:"items"`
}

// CommitDetail is a commit with the note's content and patch at that commit.
type CommitDetail struct {
	Commit
	Content string `json:"content"`
	Diff    string `json:"diff"`
}

func parseCommits(out string) []Commit {
	var commits []Commit
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if rec == "" {
			continue
		}
		f := strings.SplitN(rec, fieldSep, 6)
		if len(f) != 6 {
			continue
		}
		c := Commit{
			ID:      f[0],
			ShortID: f[0],
			Author:  f[2],
			Email:   f[3],
			Message: strings.TrimSpace(f[5]),
		}
		if len(c.ShortID) > 7 {
			c.ShortID = c.ShortID[:7]
		}
		if f[1] != "" {
			c.Parents = strings.Fields(f[1])
		}
		if sec, err := strconv.ParseInt(f[4], 10, 64); err == nil {
			c.Date = time.Unix(sec, 0).UTC().Format(time.DateTime)
		}
		commits = append(commits, c)
	}
	return commits
}

// History lists the commits touching relPath, newest first. Users without a
// repository or without commits have an empty history.
func (m *Manager) History(ctx context.Context, userID int64, relPath string, page, limit int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	res := HistoryPage{Page: page, Limit: limit, Items: []Commit{}}

	dir := m.layout.UserDir(userID)
	if !m.isRepo(ctx, dir) {
		return res, nil
	}
	r := runner{bin: m.bin, dir: dir, env: baseEnv()}
	if !r.ok(ctx, "rev-parse", "--verify", "-q", "HEAD") {
		return res, nil
	}

	count, err := r.output(ctx, "rev-list", "--count", "HEAD", "--", relPath)
	if err != nil {
		return res, fmt.Errorf("gitsync: count history: %w", err)
	}
	res.Total, _ = strconv.Atoi(count)

	out, err := r.run(ctx, "log", "--format="+logFormat,
		"--skip="+strconv.Itoa((page-1)*limit), "-n", strconv.Itoa(limit), "HEAD", "--", relPath)
	if err != nil {
		return res, fmt.Errorf("gitsync: log: %w", err)
	}
	if items := parseCommits(out); items != nil {
		res.Items = items
	}
	return res, nil
}

// CommitDetail returns one commit with relPath's content at that commit and
// its patch against the first parent. The content is empty when the file
// did not exist at that commit.
func (m *Manager) CommitDetail(ctx context.Context, userID int64, relPath, id string) (CommitDetail, error) {
	if !commitIDRe.MatchString(id) {
		return CommitDetail{}, fmt.Errorf("gitsync: commit id %q: %w", id, apperr.ErrInvalidInput)
	}
	dir := m.layout.UserDir(userID)
	if !m.isRepo(ctx, dir) {
		return CommitDetail{}, fmt.Errorf("gitsync: user %d has no repository: %w", userID, apperr.ErrNotFound)
	}
	r := runner{bin: m.bin, dir: dir, env: baseEnv()}
	full, err := r.output(ctx, "rev-parse", "--verify", "-q", id+"^{commit}")
	if err != nil {
		return CommitDetail{}, fmt.Errorf("gitsync: commit %s: %w", id, apperr.ErrNotFound)
	}

	out, err := r.run(ctx, "show", "-s", "--format="+logFormat, full)
	if err != nil {
		return CommitDetail{}, fmt.Errorf("gitsync: show: %w", err)
	}
	commits := parseCommits(out)
	if len(commits) != 1 {
		return CommitDetail{}, fmt.Errorf("gitsync: commit %s: %w", id, apperr.ErrNotFound)
	}
	d := CommitDetail{Commit: commits[0]}

	if content, err := r.run(ctx, "show", full+":"+relPath); err == nil {
		d.Content = content
	}

	var diffArgs []string
	if len(d.Parents) > 0 {
		diffArgs = []string{"diff", d.Parents[0], full, "--", relPath}
	} else {
		diffArgs = []string{"show", "--format=", "--patch", full, "--", relPath}
	}
	diff, err := r.run(ctx, diffArgs...)
	if err != nil {
		return CommitDetail{}, fmt.Errorf("gitsync: diff: %w", err)
	}
	d.Diff = diff
	return d, nil
}

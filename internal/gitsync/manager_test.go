package gitsync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/models"
)

type dirLayout string

func (d dirLayout) UserDir(userID int64) string {
	return filepath.Join(string(d), strconv.FormatInt(userID, 10))
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// git runs a plain git command for test setup.
func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{
		"-c", "user.name=Seed", "-c", "user.email=seed@example.com",
		"-c", "commit.gpgsign=false",
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

type fixture struct {
	root   string
	remote string
	seed   string
	mgr    *Manager
}

// newFixture creates a bare remote and a seed clone holding one commit.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	requireGit(t)
	base := t.TempDir()
	f := &fixture{
		root:   filepath.Join(base, "repos"),
		remote: filepath.Join(base, "remote.git"),
		seed:   filepath.Join(base, "seed"),
	}
	require.NoError(t, os.MkdirAll(f.root, 0o755))
	git(t, base, "init", "--bare", f.remote)
	git(t, base, "clone", f.remote, f.seed)
	f.writeSeed(t, "data/in/intro.md", "# Intro\n", "seed commit")

	f.mgr = New(dirLayout(f.root), filepath.Join(f.root, ".locks"))
	return f
}

func (f *fixture) writeSeed(t *testing.T, rel, content, msg string) {
	t.Helper()
	p := filepath.Join(f.seed, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	git(t, f.seed, "add", "-A")
	git(t, f.seed, "commit", "-m", msg)
	git(t, f.seed, "push", "origin", "HEAD")
}

func (f *fixture) user(id int64) models.User {
	return models.User{ID: id, GitRepoURL: f.remote, GitAuthToken: "secret"}
}

func (f *fixture) userFile(id int64, rel string) string {
	return filepath.Join(dirLayout(f.root).UserDir(id), filepath.FromSlash(rel))
}

func TestFullSync_ClonesAndPushes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	f.mgr.now = func() time.Time { return fixed }

	at, err := f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)
	assert.Equal(t, fixed, at)

	body, err := os.ReadFile(f.userFile(1, "data/in/intro.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Intro\n", string(body))

	p := f.userFile(1, "data/lo/local.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("local\n"), 0o644))
	assert.True(t, f.mgr.HasUncommittedChanges(ctx, 1))

	_, err = f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)
	assert.False(t, f.mgr.HasUncommittedChanges(ctx, 1))

	git(t, f.seed, "pull", "origin", "HEAD")
	got, err := os.ReadFile(filepath.Join(f.seed, "data", "lo", "local.md"))
	require.NoError(t, err)
	assert.Equal(t, "local\n", string(got))
	assert.Equal(t, "Auto-sync: 2024-05-06 07:08:09", git(t, f.seed, "log", "-1", "--format=%s"))
	assert.Equal(t, "User-1", git(t, f.seed, "log", "-1", "--format=%an"))
}

func TestFullSync_PullsRemoteChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)
	before := f.mgr.Head(ctx, 1)

	f.writeSeed(t, "data/re/remote.md", "from remote\n", "remote change")
	_, err = f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)

	body, err := os.ReadFile(f.userFile(1, "data/re/remote.md"))
	require.NoError(t, err)
	assert.Equal(t, "from remote\n", string(body))
	assert.NotEqual(t, before, f.mgr.Head(ctx, 1))
}

func TestFullSync_MergeConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)

	f.writeSeed(t, "data/in/intro.md", "# Remote edit\n", "remote edit")
	require.NoError(t, os.WriteFile(f.userFile(1, "data/in/intro.md"), []byte("# Local edit\n"), 0o644))

	_, err = f.mgr.FullSync(ctx, f.user(1))
	require.ErrorIs(t, err, apperr.ErrMergeConflict)

	_, statErr := os.Stat(f.userFile(1, ".git/MERGE_HEAD"))
	assert.True(t, os.IsNotExist(statErr), "merge must be aborted")
	body, err := os.ReadFile(f.userFile(1, "data/in/intro.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Local edit\n", string(body))
}

func TestFullSync_MissingConfig(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.FullSync(context.Background(), models.User{ID: 1, GitRepoURL: f.remote})
	assert.ErrorIs(t, err, apperr.ErrMissingConfig)
	_, err = f.mgr.FullSync(context.Background(), models.User{ID: 1, GitAuthToken: "x"})
	assert.ErrorIs(t, err, apperr.ErrMissingConfig)
}

func TestFullSync_ReplacesNonRepoDir(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stray := f.userFile(1, "data/st/stray.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0o755))
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	_, err := f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)
	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(f.userFile(1, "data/in/intro.md"))
	assert.NoError(t, err)
}

func TestFullSync_BadRemoteIsExternalError(t *testing.T) {
	f := newFixture(t)
	u := models.User{ID: 1, GitRepoURL: filepath.Join(t.TempDir(), "missing.git"), GitAuthToken: "x"}
	_, err := f.mgr.FullSync(context.Background(), u)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternalTool)
	_, statErr := os.Stat(f.userFile(1, ""))
	assert.True(t, os.IsNotExist(statErr))
}

func TestHasUncommittedChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.False(t, f.mgr.HasUncommittedChanges(ctx, 1))

	_, err := f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)
	assert.False(t, f.mgr.HasUncommittedChanges(ctx, 1))

	nested := f.userFile(1, "data/ne/deep/new.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0o755))
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))
	assert.True(t, f.mgr.HasUncommittedChanges(ctx, 1))
}

func TestDeleteLocalRepo_ReadOnlyFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)

	p := f.userFile(1, "data/in/intro.md")
	require.NoError(t, os.Chmod(p, 0o444))
	require.NoError(t, os.Chmod(filepath.Dir(p), 0o555))

	require.NoError(t, f.mgr.DeleteLocalRepo(ctx, 1))
	_, err = os.Stat(f.userFile(1, ""))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.mgr.DeleteLocalRepo(ctx, 1))
}

func TestHistoryAndCommitDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.mgr.History(ctx, 1, "data/in/intro.md", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Items)

	f.writeSeed(t, "data/in/intro.md", "# Intro\n\nmore\n", "second")
	_, err = f.mgr.FullSync(ctx, f.user(1))
	require.NoError(t, err)

	page, err = f.mgr.History(ctx, 1, "data/in/intro.md", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	latest := page.Items[0]
	assert.Equal(t, "second", latest.Message)
	assert.Equal(t, "Seed", latest.Author)
	assert.Len(t, latest.ShortID, 7)
	assert.True(t, strings.HasPrefix(latest.ID, latest.ShortID))

	page, err = f.mgr.History(ctx, 1, "data/in/intro.md", 2, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	first := page.Items[0]
	assert.Equal(t, "seed commit", first.Message)

	d, err := f.mgr.CommitDetail(ctx, 1, "data/in/intro.md", latest.ShortID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, d.ID)
	assert.Equal(t, "# Intro\n\nmore\n", d.Content)
	assert.Contains(t, d.Diff, "+more")
	assert.Equal(t, []string{first.ID}, d.Parents)

	root, err := f.mgr.CommitDetail(ctx, 1, "data/in/intro.md", first.ID)
	require.NoError(t, err)
	assert.Empty(t, root.Parents)
	assert.Contains(t, root.Diff, "+# Intro")

	other, err := f.mgr.CommitDetail(ctx, 1, "data/no/none.md", first.ID)
	require.NoError(t, err)
	assert.Empty(t, other.Content)

	_, err = f.mgr.CommitDetail(ctx, 1, "data/in/intro.md", "not-hex")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = f.mgr.CommitDetail(ctx, 1, "data/in/intro.md", "deadbeef")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLock_SerializesPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var events []string
	f.mgr.trace = func(event string, userID int64) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.FullSync(ctx, f.user(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, events, 8)
	for i := 0; i < len(events); i += 2 {
		assert.Equal(t, "enter", events[i])
		assert.Equal(t, "exit", events[i+1])
	}
}

func TestLock_UsersIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unlock, err := f.mgr.lock(ctx, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.FullSync(ctx, f.user(2))
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("user 2 blocked by user 1's lock")
	}

	tctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = f.mgr.FullSync(tctx, f.user(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	_, err = f.mgr.FullSync(ctx, f.user(1))
	assert.NoError(t, err)
}

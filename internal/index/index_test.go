package index

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "mythnote-test-*.db")
	require.NoError(t, err)
	f.Close()
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})

	db, err := Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// saveNote mirrors what the note service does for one write.
func saveNote(t *testing.T, db *DB, userID int64, path string, tagList []string, deleted bool) int64 {
	t.Helper()
	var id int64
	err := db.Update(context.Background(), func(tx *Tx) error {
		var err error
		raw := strings.Join(tagList, ",")
		if deleted {
			raw = ""
		}
		id, err = tx.UpsertNote(context.Background(), models.Note{
			UserID: userID, Path: path, Title: path, Body: "body of " + path,
			Tags: raw, Deleted: deleted, CreatedAt: 1, UpdatedAt: 1,
		})
		if err != nil {
			return err
		}
		if deleted {
			tagList = nil
		}
		return tx.Reconcile(context.Background(), userID, id, tagList)
	})
	require.NoError(t, err)
	return id
}

func tagMap(t *testing.T, db *DB, userID int64) map[string]models.Tag {
	t.Helper()
	all, err := db.ListTags(context.Background(), userID)
	require.NoError(t, err)
	out := make(map[string]models.Tag, len(all))
	for _, tag := range all {
		out[tag.Fullname] = tag
	}
	return out
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"users", "notes", "tags", "note_tags"} {
		var n int
		require.NoError(t, db.conn.QueryRow(`SELECT count(*) FROM `+table).Scan(&n), table)
	}
}

func TestReconcile_ExpandsHierarchy(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := saveNote(t, db, 1, "ab12.md", []string{"proj/api/v1", "misc"}, false)

	names, err := db.NoteTagNames(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"misc", "proj", "proj/api", "proj/api/v1"}, names)

	tm := tagMap(t, db, 1)
	proj, api, v1 := tm["proj"], tm["proj/api"], tm["proj/api/v1"]
	assert.Equal(t, int64(0), proj.ParentID)
	assert.Equal(t, "0", proj.AncestorIDs)
	assert.Equal(t, proj.ID, api.ParentID)
	assert.Equal(t, "0,"+itoa(proj.ID), api.AncestorIDs)
	assert.Equal(t, api.ID, v1.ParentID)
	assert.Equal(t, "0,"+itoa(proj.ID)+","+itoa(api.ID), v1.AncestorIDs)
	assert.Equal(t, "v1", v1.Name)
	for _, tag := range tm {
		assert.Equal(t, 1, tag.Count, tag.Fullname)
	}
}

func TestReconcile_CountsAndOrphans(t *testing.T) {
	db := testDB(t)
	saveNote(t, db, 1, "a.md", []string{"proj/api"}, false)
	saveNote(t, db, 1, "b.md", []string{"proj/web"}, false)

	tm := tagMap(t, db, 1)
	assert.Equal(t, 2, tm["proj"].Count)
	assert.Equal(t, 1, tm["proj/api"].Count)

	// b.md was the sole referencer of proj/web.
	saveNote(t, db, 1, "b.md", []string{"other"}, false)
	tm = tagMap(t, db, 1)
	_, ok := tm["proj/web"]
	assert.False(t, ok, "orphan tag should be deleted")
	assert.Equal(t, 1, tm["proj"].Count)
	assert.Equal(t, 1, tm["other"].Count)

	// Soft delete clears links and prunes.
	saveNote(t, db, 1, "a.md", []string{"proj/api"}, true)
	tm = tagMap(t, db, 1)
	assert.Len(t, tm, 1)
	assert.Contains(t, tm, "other")
}

func TestReconcile_UsersAreIndependent(t *testing.T) {
	db := testDB(t)
	saveNote(t, db, 1, "a.md", []string{"x"}, false)
	saveNote(t, db, 2, "a.md", []string{"x"}, false)
	assert.Equal(t, 1, tagMap(t, db, 1)["x"].Count)
	assert.Equal(t, 1, tagMap(t, db, 2)["x"].Count)
}

func TestUpdate_RetriesUniqueViolation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	saveNote(t, db, 1, "a.md", []string{"dup"}, false)

	calls := 0
	err := db.Update(ctx, func(tx *Tx) error {
		calls++
		if calls == 1 {
			_, err := tx.tx.ExecContext(ctx,
				`INSERT INTO tags (user_id, name, fullname) VALUES (1, 'dup', 'dup')`)
			return err
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUpdate_ExhaustedRetriesSurfaceConflict(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	saveNote(t, db, 1, "a.md", []string{"dup"}, false)

	calls := 0
	err := db.Update(ctx, func(tx *Tx) error {
		calls++
		_, err := tx.tx.ExecContext(ctx,
			`INSERT INTO tags (user_id, name, fullname) VALUES (1, 'dup', 'dup')`)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, 3, calls)
}

func TestUpdate_OtherErrorsAreNotRetried(t *testing.T) {
	db := testDB(t)
	calls := 0
	err := db.Update(context.Background(), func(tx *Tx) error {
		calls++
		return apperr.ErrNotFound
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestDeleteNote(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	saveNote(t, db, 1, "a.md", []string{"solo/child"}, false)
	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.DeleteNote(ctx, 1, "a.md") }))

	_, err := db.GetNote(ctx, 1, "a.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, tagMap(t, db, 1))

	// Missing rows are fine.
	require.NoError(t, db.Update(ctx, func(tx *Tx) error { return tx.DeleteNote(ctx, 1, "a.md") }))
}

func TestDeleteTagSubtree(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	saveNote(t, db, 1, "a.md", []string{"proj/api", "keep"}, false)
	var n int
	require.NoError(t, db.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.DeleteTagSubtree(ctx, 1, "proj")
		return err
	}))
	assert.Equal(t, 2, n)
	tm := tagMap(t, db, 1)
	assert.Len(t, tm, 1)
	assert.Equal(t, 1, tm["keep"].Count)
}

func listPaths(notes []models.Note) []string {
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Path
	}
	return out
}

func TestList_Folders(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	saveNote(t, db, 1, "tagged.md", []string{"proj/api"}, false)
	saveNote(t, db, 1, "plain.md", nil, false)
	saveNote(t, db, 1, "gone.md", []string{"proj"}, true)
	saveNote(t, db, 2, "foreign.md", []string{"proj"}, false)

	cases := map[string][]string{
		FolderAll:      {"tagged.md", "plain.md"},
		FolderTrash:    {"gone.md"},
		FolderUntagged: {"plain.md"},
		"proj":         {"tagged.md"},
		"proj/api":     {"tagged.md"},
		"nope":         {},
	}
	for folder, want := range cases {
		notes, total, err := db.List(ctx, ListQuery{UserID: 1, Folder: folder})
		require.NoError(t, err, folder)
		assert.Equal(t, len(want), total, folder)
		assert.ElementsMatch(t, want, listPaths(notes), folder)
	}
}

func TestList_KeywordsOrderAndPaging(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for _, p := range []string{"c.md", "a.md", "b.md", "d.md"} {
		saveNote(t, db, 1, p, nil, false)
	}
	_, err := db.conn.Exec(`UPDATE notes SET pinned = 1 WHERE path = 'd.md'`)
	require.NoError(t, err)

	notes, total, err := db.List(ctx, ListQuery{UserID: 1, Sort: "title"})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"d.md", "a.md", "b.md", "c.md"}, listPaths(notes))

	notes, _, err = db.List(ctx, ListQuery{UserID: 1, Sort: "title", Desc: true, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "a.md"}, listPaths(notes))

	notes, total, err = db.List(ctx, ListQuery{UserID: 1, Keywords: []string{"body", "b.md"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"b.md"}, listPaths(notes))

	// Containment is case-sensitive.
	_, total, err = db.List(ctx, ListQuery{UserID: 1, Keywords: []string{"BODY"}})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestCountNotes(t *testing.T) {
	db := testDB(t)
	saveNote(t, db, 1, "a.md", []string{"x"}, false)
	saveNote(t, db, 1, "b.md", nil, false)
	saveNote(t, db, 1, "c.md", nil, true)
	c, err := db.CountNotes(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, NoteCounts{All: 2, Untagged: 1, Trash: 1}, c)
}

type tagState struct {
	Fullname string
	Parent   string
	Depth    int
	Count    int
}

// snapshot describes the tag graph by names so databases with different ids
// can be compared.
func snapshot(t *testing.T, db *DB, userID int64) ([]tagState, map[string][]string) {
	t.Helper()
	ctx := context.Background()
	tm := tagMap(t, db, userID)
	byID := make(map[int64]string, len(tm))
	for _, tag := range tm {
		byID[tag.ID] = tag.Fullname
	}
	var states []tagState
	for _, tag := range tm {
		states = append(states, tagState{
			Fullname: tag.Fullname,
			Parent:   byID[tag.ParentID],
			Depth:    len(strings.Split(tag.AncestorIDs, ",")),
			Count:    tag.Count,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Fullname < states[j].Fullname })

	links := make(map[string][]string)
	for _, folder := range []string{FolderAll, FolderTrash} {
		notes, _, err := db.List(ctx, ListQuery{UserID: userID, Folder: folder, Limit: 1000})
		require.NoError(t, err)
		for _, n := range notes {
			names, err := db.NoteTagNames(ctx, n.ID)
			require.NoError(t, err)
			links[n.Path] = names
		}
	}
	return states, links
}

func TestReplaceAll_MatchesSequentialWrites(t *testing.T) {
	input := []struct {
		path    string
		tags    []string
		deleted bool
	}{
		{"a.md", []string{"proj/api", "x"}, false},
		{"b.md", []string{"proj/web/ui"}, false},
		{"c.md", []string{"proj"}, true},
		{"d.md", nil, false},
	}

	seq := testDB(t)
	for _, in := range input {
		saveNote(t, seq, 1, in.path, in.tags, in.deleted)
	}

	bulk := testDB(t)
	saveNote(t, bulk, 1, "stale.md", []string{"old"}, false)
	var rn []RebuildNote
	for _, in := range input {
		raw := strings.Join(in.tags, ",")
		if in.deleted {
			raw = ""
		}
		rn = append(rn, RebuildNote{
			Note: models.Note{UserID: 1, Path: in.path, Title: in.path, Body: "body of " + in.path,
				Tags: raw, Deleted: in.deleted, CreatedAt: 1, UpdatedAt: 1},
			Tags: in.tags,
		})
	}
	ctx := context.Background()
	require.NoError(t, bulk.Update(ctx, func(tx *Tx) error { return tx.ReplaceAll(ctx, 1, rn) }))

	s1, l1 := snapshot(t, seq, 1)
	s2, l2 := snapshot(t, bulk, 1)
	assert.Equal(t, s1, s2)
	assert.Equal(t, l1, l2)
	_, err := bulk.GetNote(ctx, 1, "stale.md")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.GetUser(ctx, 5)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, db.SaveUser(ctx, models.User{ID: 5, GitRepoURL: "https://git.example/r.git", GitAuthToken: "tok", GitSyncInterval: 30}))
	require.NoError(t, db.SaveUser(ctx, models.User{ID: 6, GitRepoURL: "https://git.example/only-url.git"}))

	users, err := db.ListSyncUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(5), users[0].ID)
	assert.Nil(t, users[0].GitSyncTime)

	when := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, db.SetGitSyncTimes(ctx, map[int64]time.Time{5: when}))
	u, err := db.GetUser(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, u.GitSyncTime)
	assert.True(t, when.Equal(*u.GitSyncTime))
	assert.Equal(t, "tok", u.GitAuthToken)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

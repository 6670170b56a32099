package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mythnote/internal/noteservice"
	"github.com/starford/mythnote/internal/testutil"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testServer(t *testing.T) *Server {
	t.Helper()
	store := testutil.TestStore(t)
	db := testutil.TestDB(t)
	svc := noteservice.New(store, db, noteservice.WithClock(func() time.Time { return fixedNow }))
	srv := New(svc, 1)
	srv.now = func() time.Time { return fixedNow }
	return srv
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"list_notes":        srv.listNotes,
		"read_note":         srv.readNote,
		"write_note":        srv.writeNote,
		"delete_notes":      srv.deleteNotes,
		"list_categories":   srv.listCategories,
		"rename_category":   srv.renameCategory,
		"rebuild_index":     srv.rebuildIndex,
		"git_sync":          srv.gitSync,
		"get_note_contract": srv.getNoteContract,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestWriteAndReadNote(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "write_note", map[string]any{
		"path":    "ab12.md",
		"content": "---\ntags:\n  - work\n---\n# Test\nHello",
	})
	if text := resultText(r); text != "created: ab12.md" {
		t.Fatalf("write result = %q", text)
	}

	r = callTool(t, srv, "read_note", map[string]any{"path": "ab12.md"})
	text := resultText(r)
	for _, want := range []string{"2024-05-01 12:00:00", "- work", "# Test\nHello"} {
		if !strings.Contains(text, want) {
			t.Errorf("read result %q missing %q", text, want)
		}
	}
}

func TestWriteNote_KeepsCreated(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "write_note", map[string]any{"path": "ab12.md", "content": "one"})

	srv.now = func() time.Time { return fixedNow.Add(time.Hour) }
	r := callTool(t, srv, "write_note", map[string]any{"path": "ab12.md", "content": "two"})
	if text := resultText(r); text != "updated: ab12.md" {
		t.Fatalf("overwrite result = %q", text)
	}
	note, err := srv.svc.Read(context.Background(), 1, "ab12.md")
	if err != nil {
		t.Fatal(err)
	}
	if note.Props.Created != "2024-05-01 12:00:00" || note.Props.Modified != "2024-05-01 13:00:00" {
		t.Errorf("props = %+v", note.Props)
	}

	r = callTool(t, srv, "write_note", map[string]any{
		"path":    "ab12.md",
		"content": "---\ncreated: 2000-01-01 00:00:00\n---\nthree",
	})
	if !r.IsError {
		t.Error("expected error when changing created")
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "read_note", map[string]any{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestListAndDeleteNotes(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "write_note", map[string]any{"path": "aa01.md", "content": "# A"})
	callTool(t, srv, "write_note", map[string]any{"path": "bb02.md", "content": "# B"})

	r := callTool(t, srv, "delete_notes", map[string]any{"paths": []any{"aa01.md"}})
	if text := resultText(r); text != "deleted 1 of 1 notes" {
		t.Errorf("delete = %q", text)
	}

	var page noteservice.Page
	r = callTool(t, srv, "list_notes", map[string]any{"folder": "//trash"})
	if err := json.Unmarshal([]byte(resultText(r)), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Items[0].Path != "aa01.md" {
		t.Errorf("trash = %+v", page)
	}

	r = callTool(t, srv, "delete_notes", map[string]any{"paths": []any{"aa01.md"}, "restore": true})
	if text := resultText(r); text != "restored 1 of 1 notes" {
		t.Errorf("restore = %q", text)
	}
	r = callTool(t, srv, "list_notes", map[string]any{})
	if err := json.Unmarshal([]byte(resultText(r)), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Errorf("total = %d, want 2", page.Total)
	}
}

func TestCategoriesAndRename(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "write_note", map[string]any{"path": "aa01.md", "content": "---\ntags: [work/proj]\n---\nx"})

	r := callTool(t, srv, "rename_category", map[string]any{"old": "work", "new": "job"})
	if text := resultText(r); text != "updated 1 notes" {
		t.Fatalf("rename = %q", text)
	}
	var cats []noteservice.Category
	if err := json.Unmarshal([]byte(resultText(callTool(t, srv, "list_categories", nil))), &cats); err != nil {
		t.Fatal(err)
	}
	if len(cats) != 3 || len(cats[0].Children) != 1 || cats[0].Children[0].Fullname != "job" {
		t.Errorf("categories = %+v", cats)
	}
}

func TestGitSyncDisabled(t *testing.T) {
	srv := testServer(t)
	if r := callTool(t, srv, "git_sync", nil); !r.IsError {
		t.Error("expected error without git")
	}
	// No coordinator is attached, so nothing can be launched.
	if r := callTool(t, srv, "rebuild_index", nil); resultText(r) != "rebuild not started" {
		t.Errorf("rebuild = %q", resultText(r))
	}
}

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes MythNote tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mythnote/internal/apperr"
	"github.com/starford/mythnote/internal/markdown"
	"github.com/starford/mythnote/internal/noteservice"
)

const contractURI = "mythnote://note-format"

// Server wraps the MCP server with MythNote tools acting for one user.
type Server struct {
	mcp  *server.MCPServer
	svc  *noteservice.Service
	user int64
	now  func() time.Time
}

// New creates a new MCP server with all MythNote tools registered.
func New(svc *noteservice.Service, userID int64) *Server {
	s := &Server{svc: svc, user: userID, now: time.Now}

	s.mcp = server.NewMCPServer(
		"MythNote",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes in a folder, newest first unless a sort is given."),
		mcp.WithString("folder", mcp.Description("Tag fullname such as work/proj, //untagged or //trash. Empty lists all live notes.")),
		mcp.WithString("keywords", mcp.Description("Space separated words that must all occur in the title or body")),
		mcp.WithString("sort", mcp.Description("title, created or modified"), mcp.Enum("title", "created", "modified")),
		mcp.WithString("order", mcp.Description("asc or desc"), mcp.Enum("asc", "desc")),
		mcp.WithNumber("page", mcp.Description("Page number, from 1")),
		mcp.WithNumber("limit", mcp.Description("Page size, at most 100")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note's frontmatter and body."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note file name (e.g. ab12.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("write_note",
		mcp.WithDescription("Create or overwrite a note. Content MUST follow the note format; "+
			"read it first via get_note_contract or the "+contractURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Note file name ending in .md")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full Markdown text, optionally with YAML frontmatter")),
	), s.writeNote)

	s.mcp.AddTool(mcp.NewTool("delete_notes",
		mcp.WithDescription("Move notes to the trash, or restore them with restore=true."),
		mcp.WithArray("paths", mcp.Required(), mcp.Description("Note file names"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithBoolean("restore", mcp.Description("Restore from the trash instead of deleting")),
	), s.deleteNotes)

	s.mcp.AddTool(mcp.NewTool("list_categories",
		mcp.WithDescription("Return the tag tree with note counts, plus the untagged and trash folders."),
	), s.listCategories)

	s.mcp.AddTool(mcp.NewTool("rename_category",
		mcp.WithDescription("Rename a tag and everything below it in every note. An empty new name deletes the category."),
		mcp.WithString("old", mcp.Required(), mcp.Description("Existing tag fullname")),
		mcp.WithString("new", mcp.Description("New tag fullname")),
	), s.renameCategory)

	s.mcp.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rebuild the note index from the files in the background."),
	), s.rebuildIndex)

	s.mcp.AddTool(mcp.NewTool("git_sync",
		mcp.WithDescription("Commit local changes, merge the remote and push."),
	), s.gitSync)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the note format. Call this before writing notes."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Format",
			mcp.WithResourceDescription("Markdown note format that all notes must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := s.svc.Index(ctx, s.user, noteservice.Query{
		Folder:   req.GetString("folder", ""),
		Keywords: req.GetString("keywords", ""),
		Sort:     req.GetString("sort", ""),
		Order:    req.GetString("order", ""),
		Page:     req.GetInt("page", 1),
		Limit:    req.GetInt("limit", 20),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(page)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.Read(ctx, s.user, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(markdown.Serialize(note.Props, note.Body)), nil
}

// writeNote saves content under path. A missing created value is taken from
// the stored note, or set to now for a new one; modified is always now.
func (s *Server) writeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	props, body := markdown.Parse(content)
	now := s.now().UTC().Format(time.DateTime)
	existed := false
	if cur, err := s.svc.Read(ctx, s.user, path); err == nil {
		existed = true
		if props.Created == "" {
			props.Created = cur.Props.Created
		}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if props.Created == "" {
		props.Created = now
	}
	props.Modified = now

	if err := s.svc.SafeSave(ctx, s.user, path, body, props, false); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if existed {
		return mcp.NewToolResultText(fmt.Sprintf("updated: %s", path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) deleteNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paths, err := req.RequireStringSlice("paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	restore := req.GetBool("restore", false)
	n, err := s.svc.Delete(ctx, s.user, paths, !restore)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	verb := "deleted"
	if restore {
		verb = "restored"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s %d of %d notes", verb, n, len(paths))), nil
}

func (s *Server) listCategories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cats, err := s.svc.Categories(ctx, s.user)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cats)
}

func (s *Server) renameCategory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	oldName, err := req.RequireString("old")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.RenameCategory(ctx, s.user, oldName, req.GetString("new", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated %d notes", n)), nil
}

func (s *Server) rebuildIndex(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.svc.RequestRebuild(s.user) {
		return mcp.NewToolResultText("rebuild not started"), nil
	}
	return mcp.NewToolResultText("rebuild started"), nil
}

func (s *Server) gitSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Sync(ctx, s.user)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) getNoteContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

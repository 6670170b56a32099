package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/mythnote/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced. defaultUser is
// the acting user for requests without an X-User-ID header; 0 makes the
// header mandatory.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, defaultUser int64) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))
	r.Use(UserMiddleware(defaultUser))

	// Notes.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes/delete", h.DeleteNotes)
	r.Post("/notes/cleanup", h.Cleanup)
	r.Get("/notes/{path}", h.GetNote)
	r.Put("/notes/{path}", h.SaveNote)
	r.Get("/notes/{path}/history", h.History)
	r.Get("/notes/{path}/history/{commit}", h.CommitDetail)

	// Categories.
	r.Get("/categories", h.Categories)
	r.Post("/categories/rename", h.RenameCategory)
	r.Delete("/categories", h.DeleteCategory)

	// Index maintenance.
	r.Post("/rebuild", h.Rebuild)
	r.Get("/rebuild/status", h.RebuildStatus)

	// Git.
	r.Get("/git/config", h.GetGitConfig)
	r.Put("/git/config", h.SaveGitConfig)
	r.Post("/git/sync", h.Sync)
	r.Get("/git/sync/status", h.SyncStatus)

	return r
}

package api

import (
	"net/http"

	"github.com/starford/mythnote/internal/noteservice"
)

// Categories handles GET /api/categories.
//
//	@Summary		Category tree with note counts
//	@Tags			categories
//	@Produce		json
//	@Success		200	{array}	noteservice.Category
//	@Security		BearerAuth
//	@Router			/categories [get]
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.Categories(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, "categories", err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// RenameCategory handles POST /api/categories/rename.
func (h *Handler) RenameCategory(w http.ResponseWriter, r *http.Request) {
	var req RenameCategoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.svc.RenameCategory(r.Context(), UserID(r.Context()), req.Old, req.New)
	if err != nil {
		writeError(w, r, "rename category", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// DeleteCategory handles DELETE /api/categories?name=.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DeleteCategory(r.Context(), UserID(r.Context()), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, r, "delete category", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// Rebuild handles POST /api/rebuild. The rebuild runs in the background;
// 202 means it was queued, 409 that one is already busy.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	if !h.svc.RequestRebuild(userID) {
		writeJSON(w, http.StatusConflict, RebuildResponse{Rebuilding: h.svc.RebuildStatus(userID)})
		return
	}
	writeJSON(w, http.StatusAccepted, RebuildResponse{Started: true, Rebuilding: true})
}

// RebuildStatus handles GET /api/rebuild/status.
func (h *Handler) RebuildStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RebuildResponse{Rebuilding: h.svc.RebuildStatus(UserID(r.Context()))})
}

// GetGitConfig handles GET /api/git/config. The token is never returned.
func (h *Handler) GetGitConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.GetGitConfig(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, "get git config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SaveGitConfig handles PUT /api/git/config.
//
//	@Summary		Set the remote and clone it
//	@Tags			git
//	@Accept			json
//	@Produce		json
//	@Param			body	body		noteservice.GitConfig	true	"Remote settings"
//	@Success		200		{object}	noteservice.GitConfigView
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/git/config [put]
func (h *Handler) SaveGitConfig(w http.ResponseWriter, r *http.Request) {
	var req noteservice.GitConfig
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := UserID(r.Context())
	if err := h.svc.SaveGitConfig(r.Context(), userID, req); err != nil {
		writeError(w, r, "save git config", err)
		return
	}
	cfg, err := h.svc.GetGitConfig(r.Context(), userID)
	if err != nil {
		writeError(w, r, "get git config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Sync handles POST /api/git/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Sync(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, "git sync", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncStatus handles GET /api/git/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.SyncStatus(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, "sync status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

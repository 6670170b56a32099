package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mythnote/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note name from the URL. Encoded names are decoded.
func notePath(r *http.Request) string {
	raw := chi.URLParam(r, "path")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// queryInt parses an optional integer query parameter.
func queryInt(q url.Values, key string) (int, bool) {
	raw := q.Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes of a folder with paging and keyword filter
//	@Tags			notes
//	@Produce		json
//	@Param			folder		query		string	false	"Tag fullname, //trash or //untagged"
//	@Param			keywords	query		string	false	"Space separated keywords"
//	@Param			sort		query		string	false	"Sort field"	Enums(title, created, modified)
//	@Param			order		query		string	false	"Sort order"	Enums(asc, desc)
//	@Param			page		query		int		false	"Page number"
//	@Param			limit		query		int		false	"Page size"
//	@Success		200			{object}	noteservice.Page
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, okPage := queryInt(q, "page")
	limit, okLimit := queryInt(q, "limit")
	if !okPage || !okLimit {
		writeJSON(w, http.StatusBadRequest, errorBody("page and limit must be integers"))
		return
	}
	kw := q.Get("keywords")
	if kw == "" {
		kw = q.Get("keyword")
	}
	res, err := h.svc.Index(r.Context(), UserID(r.Context()), noteservice.Query{
		Folder:   q.Get("folder"),
		Keywords: kw,
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetNote handles GET /api/notes/{path}.
//
//	@Summary		Read a note
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note name"
//	@Success		200		{object}	noteservice.NoteContent
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, err := h.svc.Read(r.Context(), UserID(r.Context()), notePath(r))
	if err != nil {
		writeError(w, r, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// SaveNote handles PUT /api/notes/{path}.
//
//	@Summary		Create or overwrite a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Note name"
//	@Param			body	body		SaveNoteRequest	true	"Frontmatter and body"
//	@Success		200		{object}	noteservice.NoteContent
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [put]
func (h *Handler) SaveNote(w http.ResponseWriter, r *http.Request) {
	var req SaveNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, path := UserID(r.Context()), notePath(r)
	if err := h.svc.SafeSave(r.Context(), userID, path, req.Body, req.Props, false); err != nil {
		writeError(w, r, "save note", err)
		return
	}
	note, err := h.svc.Read(r.Context(), userID, path)
	if err != nil {
		writeError(w, r, "save note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNotes handles POST /api/notes/delete.
//
//	@Summary		Move notes to or out of the trash
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DeleteNotesRequest	true	"Paths and flag"
//	@Success		200		{object}	CountResponse
//	@Security		BearerAuth
//	@Router			/notes/delete [post]
func (h *Handler) DeleteNotes(w http.ResponseWriter, r *http.Request) {
	var req DeleteNotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Paths) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("paths are required"))
		return
	}
	n, err := h.svc.Delete(r.Context(), UserID(r.Context()), req.Paths, req.Deleted)
	if err != nil {
		writeError(w, r, "delete notes", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// Cleanup handles POST /api/notes/cleanup. It empties the trash.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Cleanup(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, "cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// History handles GET /api/notes/{path}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, okPage := queryInt(q, "page")
	limit, okLimit := queryInt(q, "limit")
	if !okPage || !okLimit {
		writeJSON(w, http.StatusBadRequest, errorBody("page and limit must be integers"))
		return
	}
	res, err := h.svc.History(r.Context(), UserID(r.Context()), notePath(r), page, limit)
	if err != nil {
		writeError(w, r, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CommitDetail handles GET /api/notes/{path}/history/{commit}.
func (h *Handler) CommitDetail(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CommitDetail(r.Context(), UserID(r.Context()), notePath(r), chi.URLParam(r, "commit"))
	if err != nil {
		writeError(w, r, "commit detail", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

package api

import "github.com/starford/mythnote/internal/markdown"

// SaveNoteRequest is the body of PUT /api/notes/{path}.
type SaveNoteRequest struct {
	Props markdown.Props `json:"props"`
	Body  string         `json:"body"`
}

// DeleteNotesRequest is the body of POST /api/notes/delete. Deleted false
// restores the notes from the trash.
type DeleteNotesRequest struct {
	Paths   []string `json:"paths"`
	Deleted bool     `json:"deleted"`
}

// RenameCategoryRequest is the body of POST /api/categories/rename.
type RenameCategoryRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// CountResponse reports how many notes an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// RebuildResponse reports the state of a user's rebuild.
type RebuildResponse struct {
	Started    bool `json:"started,omitempty"`
	Rebuilding bool `json:"rebuilding"`
}

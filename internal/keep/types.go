package keep

import (
	"slices"
	"time"
)

// Note is a note as held by the service.
type Note struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Labels []string  `json:"labels"`
	Edited time.Time `json:"edited"`
}

func (n *Note) HasLabel(label string) bool {
	return slices.Contains(n.Labels, label)
}

// Session is an authenticated session that can be saved and presented again
// until it expires.
type Session struct {
	User      string
	Token     string
	ExpiresAt time.Time
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type listNotesResponse struct {
	Notes []Note `json:"notes"`
}

type createNoteRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
}

type createNoteResponse struct {
	ID string `json:"id"`
}

type updateNoteRequest struct {
	Body string `json:"body"`
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"
)

type testNote struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Labels []string  `json:"labels"`
	Edited time.Time `json:"edited"`
}

// noteService is an in-memory note service speaking the keep HTTP API.
type noteService struct {
	mu       sync.Mutex
	notes    map[string]*testNote
	nextID   int
	failOn   string // title whose creation fails
	password string
}

func newNoteService(t *testing.T) (*noteService, *httptest.Server) {
	t.Helper()
	s := &noteService{notes: make(map[string]*testNote), password: "secret"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", s.login)
	mux.HandleFunc("GET /api/v1/notes", s.list)
	mux.HandleFunc("POST /api/v1/notes", s.create)
	mux.HandleFunc("PATCH /api/v1/notes/{id}", s.update)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *noteService) add(title, body string, labels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("n%d", s.nextID)
	s.notes[id] = &testNote{ID: id, Title: title, Body: body, Labels: labels, Edited: time.Now()}
}

func (s *noteService) byTitle(title string) *testNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notes {
		if n.Title == title {
			c := *n
			return &c
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *noteService) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "E_INVALID_REQUEST", "error": err.Error()})
		return
	}
	if body.Password != s.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "E_AUTH_INVALID_CREDENTIALS", "error": "bad password"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     "token-" + body.User,
		"expiresAt": time.Now().Add(time.Hour),
	})
}

func (s *noteService) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "E_AUTH_INVALID_CREDENTIALS", "error": "no token"})
		return false
	}
	return true
}

func (s *noteService) list(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	label := r.URL.Query().Get("label")

	s.mu.Lock()
	notes := []testNote{}
	for _, n := range s.notes {
		if slices.Contains(n.Labels, label) {
			notes = append(notes, *n)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *noteService) create(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var body struct {
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "E_INVALID_REQUEST", "error": err.Error()})
		return
	}
	if body.Title == s.failOn {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "E_INTERNAL_ERROR", "error": "boom"})
		return
	}

	s.add(body.Title, body.Body, body.Labels...)
	n := s.byTitle(body.Title)
	writeJSON(w, http.StatusCreated, map[string]string{"id": n.ID})
}

func (s *noteService) update(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "E_INVALID_REQUEST", "error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "E_NOTE_NOT_FOUND", "error": "no such note"})
		return
	}
	n.Body = body.Body
	n.Edited = time.Now()
	w.WriteHeader(http.StatusNoContent)
}

package keep

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// error codes the service sends that the client has no sentinel for
const (
	codeInvalidRequest = "E_INVALID_REQUEST"
	codeInternalError  = "E_INTERNAL_ERROR"
)

type fakeService struct {
	mu        sync.Mutex
	notes     map[string]*Note
	nextID    int
	logins    atomic.Int32
	failList  atomic.Int32
	token     string
	lastAgent string
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "me",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	svc := &fakeService{notes: make(map[string]*Note), token: token}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		svc.logins.Add(1)
		var body loginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.User != "me" || body.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeInvalidCredentials, Message: "bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": svc.token})
	})
	mux.HandleFunc("GET /api/v1/notes", func(w http.ResponseWriter, r *http.Request) {
		if !svc.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeInvalidCredentials, Message: "token expired"})
			return
		}
		if svc.failList.Load() > 0 {
			svc.failList.Add(-1)
			writeJSON(w, http.StatusInternalServerError, APIError{Code: codeInternalError, Message: "boom"})
			return
		}
		svc.mu.Lock()
		defer svc.mu.Unlock()
		svc.lastAgent = r.Header.Get("User-Agent")
		label := r.URL.Query().Get("label")
		resp := listNotesResponse{Notes: []Note{}}
		for _, n := range svc.notes {
			// deliberately unfiltered for the "other" label to exercise client filtering
			if n.HasLabel(label) || n.HasLabel("other") {
				resp.Notes = append(resp.Notes, *n)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("POST /api/v1/notes", func(w http.ResponseWriter, r *http.Request) {
		if !svc.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeInvalidCredentials})
			return
		}
		var body createNoteRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, APIError{Code: codeInvalidRequest, Message: err.Error()})
			return
		}
		svc.mu.Lock()
		svc.nextID++
		id := fmt.Sprintf("n%d", svc.nextID)
		svc.notes[id] = &Note{ID: id, Title: body.Title, Body: body.Body, Labels: body.Labels, Edited: time.Now()}
		svc.mu.Unlock()
		writeJSON(w, http.StatusCreated, createNoteResponse{ID: id})
	})
	mux.HandleFunc("PATCH /api/v1/notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !svc.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, APIError{Code: CodeInvalidCredentials})
			return
		}
		var body updateNoteRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		svc.mu.Lock()
		defer svc.mu.Unlock()
		n, ok := svc.notes[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, APIError{Code: CodeNoteNotFound, Message: "no such note"})
			return
		}
		n.Body = body.Body
		n.Edited = time.Now()
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return svc, server
}

func (s *fakeService) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.token &&
		r.Header.Get(HeaderRequestID) != "" &&
		r.Header.Get(HeaderDeviceID) == "device-1"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(url, WithDeviceID("device-1"), WithRetry(2, time.Millisecond), WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoServerURL)
}

func TestClient_AuthenticateAndRoundTrip(t *testing.T) {
	svc, server := newFakeService(t)
	client := newTestClient(t, server.URL)
	ctx := context.Background()

	sess, err := client.Authenticate(ctx, "me", "secret", nil)
	require.NoError(t, err)
	assert.Equal(t, "me", sess.User)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)

	id, err := client.CreateNote(ctx, "11/5/20 Friday", "Todo\n- More stuff", "keeplog")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	notes, err := client.ListNotes(ctx, "keeplog")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "11/5/20 Friday", notes[0].Title)
	assert.Equal(t, "Todo\n- More stuff", notes[0].Body)
	assert.True(t, notes[0].HasLabel("keeplog"))
	assert.Contains(t, svc.lastAgent, "keeplog/")

	require.NoError(t, client.UpdateNote(ctx, id, "Done"))
	notes, err = client.ListNotes(ctx, "keeplog")
	require.NoError(t, err)
	assert.Equal(t, "Done", notes[0].Body)
}

func TestClient_ListFiltersForeignLabels(t *testing.T) {
	svc, server := newFakeService(t)
	svc.notes["a"] = &Note{ID: "a", Title: "mine", Labels: []string{"keeplog", "work"}}
	svc.notes["b"] = &Note{ID: "b", Title: "theirs", Labels: []string{"other"}}
	client := newTestClient(t, server.URL)

	_, err := client.Authenticate(context.Background(), "me", "secret", nil)
	require.NoError(t, err)

	notes, err := client.ListNotes(context.Background(), "keeplog")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "mine", notes[0].Title)
}

func TestClient_AuthenticateReusesSession(t *testing.T) {
	svc, server := newFakeService(t)
	client := newTestClient(t, server.URL)

	saved := &Session{User: "me", Token: svc.token, ExpiresAt: time.Now().Add(time.Hour)}
	sess, err := client.Authenticate(context.Background(), "me", "", saved)
	require.NoError(t, err)
	assert.Same(t, saved, sess)
	assert.Equal(t, int32(0), svc.logins.Load())

	_, err = client.ListNotes(context.Background(), "keeplog")
	require.NoError(t, err)

	// expired or foreign sessions trigger a login
	_, err = client.Authenticate(context.Background(), "me", "secret", &Session{User: "me", Token: "old", ExpiresAt: time.Now()})
	require.NoError(t, err)
	_, err = client.Authenticate(context.Background(), "me", "secret", &Session{User: "you", Token: svc.token, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.logins.Load())
}

func TestClient_Errors(t *testing.T) {
	svc, server := newFakeService(t)
	client := newTestClient(t, server.URL)
	ctx := context.Background()

	_, err := client.Authenticate(ctx, "me", "wrong", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, CodeInvalidCredentials, apiErr.Code)

	_, err = client.Authenticate(ctx, "", "", nil)
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = client.ListNotes(ctx, "keeplog")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = client.Authenticate(ctx, "me", "secret", nil)
	require.NoError(t, err)

	err = client.UpdateNote(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	// one 5xx is absorbed by the retry policy
	svc.failList.Store(1)
	_, err = client.ListNotes(ctx, "keeplog")
	assert.NoError(t, err)

	// more failures than retries surface
	svc.failList.Store(10)
	_, err = client.ListNotes(ctx, "keeplog")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, codeInternalError, apiErr.Code)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := newTestClient(t, url)
	_, err := client.Authenticate(context.Background(), "me", "secret", nil)
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	got, err := tokenExpiry(token)
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	_, err = tokenExpiry("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = tokenExpiry(noExp)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

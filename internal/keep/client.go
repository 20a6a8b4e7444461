// Package keep is a client for the note service that mirrors the log.
package keep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/imroc/req/v3"
	"github.com/keeplog/keeplog/internal/version"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderDeviceID  = "X-Keeplog-Device-Id"
	HeaderVersion   = "X-Keeplog-Version"

	pathLogin = "/api/v1/auth/login"
	pathNotes = "/api/v1/notes"
	pathNote  = "/api/v1/notes/{id}"

	defaultTimeout    = 30 * time.Second
	defaultRetryCount = 3

	// sessions this close to expiry are renewed instead of reused
	expiryLeeway = time.Minute
)

type Option func(*options)

type options struct {
	timeout    time.Duration
	retryCount int
	retryWait  time.Duration
	deviceID   string
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry sets how often idempotent requests are retried on transport
// errors and 5xx responses.
func WithRetry(count int, wait time.Duration) Option {
	return func(o *options) {
		o.retryCount = count
		o.retryWait = wait
	}
}

func WithDeviceID(id string) Option {
	return func(o *options) { o.deviceID = id }
}

// Client talks to the note service over HTTP. It remembers the token of the
// last successful Authenticate.
type Client struct {
	http *req.Client

	mu    sync.RWMutex
	token string
}

func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, ErrNoServerURL
	}

	o := &options{
		timeout:    defaultTimeout,
		retryCount: defaultRetryCount,
		retryWait:  time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deviceID == "" {
		o.deviceID = deviceID()
	}

	httpClient := req.C().
		SetBaseURL(serverURL).
		SetTimeout(o.timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader(HeaderVersion, version.Version).
		SetCommonHeader(HeaderDeviceID, o.deviceID).
		SetCommonRetryCount(o.retryCount).
		SetCommonRetryFixedInterval(o.retryWait).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			return err != nil || resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		SetCommonRetryHook(func(_ *req.Response, err error) {
			slog.Debug("keep retry", "error", err)
		}).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			r.SetHeader(HeaderRequestID, uuid.NewString())
			return nil
		})

	return &Client{http: httpClient}, nil
}

// Authenticate returns saved when it belongs to user and is not about to
// expire. Otherwise it logs in with user and pass.
func (c *Client) Authenticate(ctx context.Context, user, pass string, saved *Session) (*Session, error) {
	if saved != nil && saved.User == user && time.Now().Add(expiryLeeway).Before(saved.ExpiresAt) {
		c.setToken(saved.Token)
		slog.Debug("keep session reused", "user", user, "expires", saved.ExpiresAt)
		return saved, nil
	}

	if user == "" || pass == "" {
		return nil, ErrNoCredentials
	}

	var resp loginResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(&loginRequest{User: user, Password: pass}).
		SetSuccessResult(&resp).
		SetRetryCount(0).
		Post(pathLogin)
	if err := handleAPIError(res, err, "login"); err != nil {
		return nil, err
	}

	if resp.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	expiresAt := resp.ExpiresAt
	if expiresAt.IsZero() {
		exp, err := tokenExpiry(resp.Token)
		if err != nil {
			return nil, err
		}
		expiresAt = exp
	}

	c.setToken(resp.Token)
	slog.Info("keep authenticated", "user", user, "expires", expiresAt)
	return &Session{User: user, Token: resp.Token, ExpiresAt: expiresAt}, nil
}

// ListNotes returns every note carrying label.
func (c *Client) ListNotes(ctx context.Context, label string) ([]Note, error) {
	var resp listNotesResponse
	res, err := c.authed(ctx).
		SetQueryParam("label", label).
		SetSuccessResult(&resp).
		Get(pathNotes)
	if err := handleAPIError(res, err, "list notes"); err != nil {
		return nil, err
	}

	// the service filters by label, but a stale index may not
	notes := resp.Notes[:0]
	for _, n := range resp.Notes {
		if n.HasLabel(label) {
			notes = append(notes, n)
		}
	}
	return notes, nil
}

// CreateNote creates a labeled note and returns its id. Creation is not
// retried so a timeout cannot produce two notes.
func (c *Client) CreateNote(ctx context.Context, title, body, label string) (string, error) {
	var resp createNoteResponse
	res, err := c.authed(ctx).
		SetBody(&createNoteRequest{Title: title, Body: body, Labels: []string{label}}).
		SetSuccessResult(&resp).
		SetRetryCount(0).
		Post(pathNotes)
	if err := handleAPIError(res, err, "create note"); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("keep: create note %q: empty id in response", title)
	}
	return resp.ID, nil
}

// UpdateNote replaces the body of a note. Title and labels are unchanged.
func (c *Client) UpdateNote(ctx context.Context, id, body string) error {
	res, err := c.authed(ctx).
		SetPathParam("id", id).
		SetBody(&updateNoteRequest{Body: body}).
		Patch(pathNote)
	return handleAPIError(res, err, "update note "+id)
}

func (c *Client) authed(ctx context.Context) *req.Request {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	r := c.http.R().SetContext(ctx)
	if token != "" {
		r.SetBearerAuthToken(token)
	}
	return r
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// tokenExpiry reads the exp claim without verifying the signature. The
// service verifies tokens; the client only needs to know when to renew.
func tokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: no exp claim", ErrInvalidToken)
	}
	return claims.ExpiresAt.Time, nil
}

func deviceID() string {
	id, err := machineid.ProtectedID(version.AppName)
	if err != nil || id == "" {
		slog.Debug("machine id unavailable", "error", err)
		return uuid.NewString()
	}
	return id
}

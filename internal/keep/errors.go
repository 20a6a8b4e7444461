package keep

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL   = errors.New("keep: server url missing")
	ErrNoCredentials = errors.New("keep: user and password required")
	ErrUnauthorized  = errors.New("keep: unauthorized")
	ErrNotFound      = errors.New("keep: note not found")
	ErrInvalidToken  = errors.New("keep: invalid session token")
)

const (
	CodeInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"
	CodeNoteNotFound       = "E_NOTE_NOT_FOUND"
)

// APIError is the JSON error body returned by the note service.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s - %s", e.Status, e.Code, e.Message)
}

// Unwrap maps well-known statuses to package sentinels so callers can use
// errors.Is without inspecting codes.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Code == CodeInvalidCredentials:
		return ErrUnauthorized
	case e.Status == http.StatusNotFound || e.Code == CodeNoteNotFound:
		return ErrNotFound
	}
	return nil
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("keep: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		apiErr, ok := resp.ErrorResult().(*APIError)
		if !ok || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr = &APIError{Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.Status = resp.StatusCode
		return fmt.Errorf("keep: %s: %w", operation, apiErr)
	}

	return nil
}

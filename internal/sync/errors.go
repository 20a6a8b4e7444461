package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable fails a whole run: the service could not be
	// reached, refused the credentials or could not list notes.
	ErrRemoteUnavailable = errors.New("sync: remote unavailable")
	// ErrLocalIO fails a whole run: the log file or the state store could
	// not be read or written.
	ErrLocalIO = errors.New("sync: local io")

	ErrDuplicateRemoteTitle = errors.New("multiple remote notes share this title")
	ErrInvalidPolicy        = errors.New("sync: invalid policy")
)

type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// EntryError is a failure confined to one title. The run continues with the
// other titles.
type EntryError struct {
	Title string
	Side  Side
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Title, e.Side, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// WatchError ends a watch loop running with the exit policy.
type WatchError struct {
	Err error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch: %v", e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

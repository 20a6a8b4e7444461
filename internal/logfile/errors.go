package logfile

import (
	"errors"
	"fmt"
)

// ErrUnrepresentable is returned for an entry the log format cannot hold.
var ErrUnrepresentable = errors.New("entry cannot be stored in the log")

// FormatError reports a malformed log file. Line is 1-based.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("log format error at line %d: %s", e.Line, e.Msg)
}

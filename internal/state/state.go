// Package state persists what both sides agreed on after the last successful
// sync: one checksum pair per entry title plus the remote session.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"time"

	"github.com/keeplog/keeplog/internal/logfile"
)

// Record is the last agreed state of one title.
type Record struct {
	Title          string
	LocalChecksum  string
	RemoteChecksum string
	RemoteID       string
	SyncedAt       time.Time
}

// Session is the opaque remote session kept between runs.
type Session struct {
	User      string
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session can still be presented at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt)
}

// State is a snapshot of the store. Values returned by Load are never
// modified by the store; build a new one and Commit it.
type State struct {
	Records   map[string]*Record
	Session   *Session
	UpdatedAt time.Time
}

func NewState() *State {
	return &State{Records: make(map[string]*Record)}
}

// Equal compares records and session. UpdatedAt is ignored.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	if !maps.EqualFunc(s.Records, o.Records, recordEqual) {
		return false
	}
	switch {
	case s.Session == nil && o.Session == nil:
		return true
	case s.Session == nil || o.Session == nil:
		return false
	}
	return s.Session.User == o.Session.User &&
		s.Session.Token == o.Session.Token &&
		s.Session.ExpiresAt.Equal(o.Session.ExpiresAt)
}

// recordEqual ignores SyncedAt so that re-confirming an agreement is not a
// change.
func recordEqual(a, b *Record) bool {
	return a.Title == b.Title &&
		a.LocalChecksum == b.LocalChecksum &&
		a.RemoteChecksum == b.RemoteChecksum &&
		a.RemoteID == b.RemoteID
}

// Checksum hashes a body after normalization so both sides of a sync hash
// equal text identically.
func Checksum(body string) string {
	sum := sha256.Sum256([]byte(logfile.NormalizeBody(body)))
	return hex.EncodeToString(sum[:])
}

package sync

import (
	"fmt"
	"slices"

	"github.com/keeplog/keeplog/internal/keep"
	"github.com/keeplog/keeplog/internal/logfile"
	"github.com/keeplog/keeplog/internal/state"
)

// Class is the change category of one title in one run.
type Class int

const (
	Unchanged Class = iota
	LocalOnly
	RemoteOnly
	Conflict
	NewLocal
	NewRemote
)

func (c Class) String() string {
	switch c {
	case Unchanged:
		return "Unchanged"
	case LocalOnly:
		return "LocalOnly"
	case RemoteOnly:
		return "RemoteOnly"
	case Conflict:
		return "Conflict"
	case NewLocal:
		return "NewLocal"
	case NewRemote:
		return "NewRemote"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Change carries everything later stages need to act on one title.
type Change struct {
	Title string
	Class Class

	Local  *logfile.Entry
	Remote *keep.Note
	Prior  *state.Record

	LocalChanged  bool
	RemoteChanged bool
}

// LocalMissing reports a title that was synced before and is gone from the
// local file.
func (c *Change) LocalMissing() bool {
	return c.Prior != nil && c.Local == nil
}

// RemoteMissing reports a title that was synced before and has no labeled
// note anymore.
func (c *Change) RemoteMissing() bool {
	return c.Prior != nil && c.Remote == nil
}

// Detect classifies every title present locally, remotely or in prior.
// remote must not contain duplicate titles. Titles that only exist in prior
// are gone from both sides and are left out.
//
// Changes come in local file order, followed by remote-only titles in
// logfile insertion order.
func Detect(local []logfile.Entry, remote []keep.Note, prior map[string]*state.Record) []*Change {
	remoteByTitle := make(map[string]*keep.Note, len(remote))
	for i := range remote {
		remoteByTitle[remote[i].Title] = &remote[i]
	}

	changes := make([]*Change, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local))

	for i := range local {
		e := &local[i]
		seen[e.Title] = true
		changes = append(changes, classify(e.Title, e, remoteByTitle[e.Title], prior[e.Title]))
	}

	var remoteOnly []string
	for title := range remoteByTitle {
		if !seen[title] {
			remoteOnly = append(remoteOnly, title)
		}
	}
	logfile.SortForInsert(remoteOnly)
	for _, title := range remoteOnly {
		changes = append(changes, classify(title, nil, remoteByTitle[title], prior[title]))
	}

	return slices.Clip(changes)
}

func classify(title string, local *logfile.Entry, remote *keep.Note, prior *state.Record) *Change {
	c := &Change{Title: title, Local: local, Remote: remote, Prior: prior}

	if local != nil {
		switch {
		case prior != nil && prior.RemoteID != "":
			local.RemoteID = prior.RemoteID
		case remote != nil:
			local.RemoteID = remote.ID
		}
	}

	if prior == nil {
		switch {
		case remote == nil:
			c.Class = NewLocal
		case local == nil:
			c.Class = NewRemote
		case sameBody(local.Body, remote.Body):
			c.Class = Unchanged
		default:
			c.Class = Conflict
		}
		return c
	}

	switch {
	case local == nil:
		c.RemoteChanged = bodySum(remote.Body) != prior.RemoteChecksum
		c.Class = RemoteOnly
		return c
	case remote == nil:
		c.LocalChanged = bodySum(local.Body) != prior.LocalChecksum
		c.Class = LocalOnly
		return c
	}

	c.LocalChanged = bodySum(local.Body) != prior.LocalChecksum
	c.RemoteChanged = bodySum(remote.Body) != prior.RemoteChecksum

	switch {
	case c.LocalChanged && c.RemoteChanged:
		if sameBody(local.Body, remote.Body) {
			c.Class = Unchanged
		} else {
			c.Class = Conflict
		}
	case c.LocalChanged:
		c.Class = LocalOnly
	case c.RemoteChanged:
		c.Class = RemoteOnly
	default:
		c.Class = Unchanged
	}
	return c
}

// bodySum hashes a body as it would be stored in the log.
func bodySum(body string) string {
	return state.Checksum(logfile.NormalizeBody(body))
}

func sameBody(a, b string) bool {
	return logfile.NormalizeBody(a) == logfile.NormalizeBody(b)
}

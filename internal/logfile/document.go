// Package logfile reads and writes the plain-text daily log.
//
// A log is a sequence of blocks separated by a blank line. Each block is a
// title line, a line containing exactly "--", and any number of body lines:
//
//	11/8/20 Sunday
//	--
//	Walked the dog.
//
//	11/9/20 Monday
//	--
//	Todo
//	- More stuff
//
// A block starts at a non-blank line that opens the file or follows a blank
// line and is itself followed by "--". Blank lines that do not precede such a
// header belong to the body.
package logfile

import (
	"fmt"
	"slices"
	"strings"
)

// Document is a parsed log that keeps file order and tracks edits.
type Document struct {
	entries  []Entry
	index    map[string]int
	modified bool
}

func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// Parse reads a log. Duplicate titles and text outside of any block are
// reported as *FormatError.
func Parse(text string) (*Document, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	doc := NewDocument()

	isHeader := func(i int) bool {
		if i+1 >= len(lines) || isBlank(lines[i]) {
			return false
		}
		if strings.TrimRight(lines[i+1], " \t") != Separator {
			return false
		}
		return i == 0 || isBlank(lines[i-1])
	}

	i := 0
	for i < len(lines) && isBlank(lines[i]) {
		i++
	}
	if i < len(lines) && !isHeader(i) {
		return nil, &FormatError{Line: i + 1, Msg: fmt.Sprintf("expected title followed by %q", Separator)}
	}

	for i < len(lines) {
		titleLine := i + 1
		title := CanonicalTitle(lines[i])
		if strings.TrimSpace(title) == Separator {
			return nil, &FormatError{Line: titleLine, Msg: "title cannot be a separator"}
		}

		start := i + 2
		end := start
		for end < len(lines) && !isHeader(end) {
			end++
		}

		body := strings.Join(trimTrailingBlank(lines[start:end]), "\n")
		if prev, ok := doc.index[title]; ok {
			return nil, &FormatError{
				Line: titleLine,
				Msg:  fmt.Sprintf("duplicate title %q (first seen as entry %d)", title, prev+1),
			}
		}
		doc.append(Entry{Title: title, Body: body})
		i = end
	}

	return doc, nil
}

// CheckEntry reports whether e reads back as the same single entry once
// written. A body line that looks like a title followed by the separator
// would split the entry in two.
func CheckEntry(e Entry) error {
	doc, err := Parse(Serialize([]Entry{e}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnrepresentable, err)
	}
	if doc.Len() != 1 {
		return fmt.Errorf("%w: body line %q would start a new entry", ErrUnrepresentable, doc.entries[1].Title)
	}
	got := doc.entries[0]
	if got.Title != e.Title || got.Body != NormalizeBody(e.Body) {
		return fmt.Errorf("%w: %q changes when read back", ErrUnrepresentable, e.Title)
	}
	return nil
}

// Serialize renders entries in the given order. The output ends with a
// single newline unless entries is empty.
func Serialize(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Title)
		sb.WriteByte('\n')
		sb.WriteString(Separator)
		sb.WriteByte('\n')
		if body := NormalizeBody(e.Body); body != "" {
			sb.WriteString(body)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (d *Document) String() string {
	return Serialize(d.entries)
}

// Entries returns a copy of the entries in file order.
func (d *Document) Entries() []Entry {
	return slices.Clone(d.entries)
}

func (d *Document) Len() int {
	return len(d.entries)
}

func (d *Document) Get(title string) (Entry, bool) {
	i, ok := d.index[title]
	if !ok {
		return Entry{}, false
	}
	return d.entries[i], true
}

// Modified reports whether SetBody or Insert changed the document since it
// was parsed.
func (d *Document) Modified() bool {
	return d.modified
}

// SetBody replaces the body of an existing entry in place. It returns false
// when title is unknown.
func (d *Document) SetBody(title, body string) bool {
	i, ok := d.index[title]
	if !ok {
		return false
	}
	body = NormalizeBody(body)
	if d.entries[i].Body != body {
		d.entries[i].Body = body
		d.modified = true
	}
	return true
}

// Insert appends new entries after all existing ones. The batch is ordered by
// title date, undated titles last, ties by title. Titles already present are
// updated in place instead.
func (d *Document) Insert(entries ...Entry) {
	batch := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if d.SetBody(e.Title, e.Body) {
			continue
		}
		e.Body = NormalizeBody(e.Body)
		batch = append(batch, e)
	}

	slices.SortStableFunc(batch, func(a, b Entry) int {
		return compareForInsert(a.Title, b.Title)
	})

	seen := make(map[string]bool, len(batch))
	for _, e := range batch {
		if seen[e.Title] {
			continue
		}
		seen[e.Title] = true
		d.append(e)
		d.modified = true
	}
}

func (d *Document) append(e Entry) {
	d.index[e.Title] = len(d.entries)
	d.entries = append(d.entries, e)
}

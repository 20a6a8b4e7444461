package logfile

import (
	"slices"
	"strings"
	"time"
)

// Separator is the line between an entry's title and its body.
const Separator = "--"

// Entry is one dated block of the local log.
type Entry struct {
	Title string
	Body  string

	// RemoteID is never read from or written to the file.
	RemoteID string
}

var titleDateLayouts = []string{"1/2/06", "1/2/2006"}

// TitleDate parses the leading M/D/YY (or M/D/YYYY) token of a title such as
// "11/8/20 Sunday".
func TitleDate(title string) (time.Time, bool) {
	token, _, _ := strings.Cut(strings.TrimSpace(title), " ")
	for _, layout := range titleDateLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeBody applies the body conventions used on both sides of a sync:
// CRLF line endings become LF and trailing blank lines are removed. Inner
// whitespace is untouched.
func NormalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")
	return strings.Join(trimTrailingBlank(lines), "\n")
}

// CanonicalTitle strips the trailing blanks the parser drops from a title
// line.
func CanonicalTitle(s string) string {
	return strings.TrimRight(s, " \t")
}

// ValidTitle reports whether s can be used as an entry title.
func ValidTitle(s string) bool {
	return strings.TrimSpace(s) != "" && !strings.ContainsAny(s, "\r\n") && strings.TrimSpace(s) != Separator
}

func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && isBlank(lines[end-1]) {
		end--
	}
	return lines[:end]
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// compareForInsert orders newly inserted entries: dated titles first by
// date, then undated titles, ties broken by title.
func compareForInsert(a, b string) int {
	da, aok := TitleDate(a)
	db, bok := TitleDate(b)
	switch {
	case aok && bok:
		if c := da.Compare(db); c != 0 {
			return c
		}
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(a, b)
}

// SortForInsert sorts titles in the order Document.Insert appends them.
func SortForInsert(titles []string) {
	slices.SortStableFunc(titles, compareForInsert)
}

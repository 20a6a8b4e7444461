package sync

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeKind is what a run did with one title.
type OutcomeKind int

const (
	OutcomeUnchanged OutcomeKind = iota
	UpdatedLocal
	UpdatedRemote
	CreatedLocal
	CreatedRemote
	ConflictReported
	Skipped
	Failed
)

var outcomeNames = [...]string{
	OutcomeUnchanged: "Unchanged",
	UpdatedLocal:     "UpdatedLocal",
	UpdatedRemote:    "UpdatedRemote",
	CreatedLocal:     "CreatedLocal",
	CreatedRemote:    "CreatedRemote",
	ConflictReported: "ConflictReported",
	Skipped:          "Skipped",
	Failed:           "Failed",
}

// OutcomeKinds lists every kind in display order.
var OutcomeKinds = []OutcomeKind{
	OutcomeUnchanged, UpdatedLocal, UpdatedRemote, CreatedLocal, CreatedRemote, ConflictReported, Skipped, Failed,
}

func (k OutcomeKind) String() string {
	if int(k) >= 0 && int(k) < len(outcomeNames) {
		return outcomeNames[k]
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the report line of one title.
type Outcome struct {
	Title string
	Kind  OutcomeKind
	Class Class

	// Decision is set for ConflictReported.
	Decision Decision
	// Err is set for Failed.
	Err error
}

func (o Outcome) String() string {
	switch o.Kind {
	case ConflictReported:
		return fmt.Sprintf("%s: %s (%s)", o.Kind, o.Title, o.Decision)
	case Failed:
		return fmt.Sprintf("%s: %s (%v)", o.Kind, o.Title, o.Err)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Title)
}

// Report describes one completed run.
type Report struct {
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time

	// LocalWritten is set when the log file was rewritten.
	LocalWritten bool
	// Committed is set when a new state snapshot was written.
	Committed bool
}

func (r *Report) Get(title string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Title == title {
			return o, true
		}
	}
	return Outcome{}, false
}

func (r *Report) Counts() map[OutcomeKind]int {
	counts := make(map[OutcomeKind]int, len(OutcomeKinds))
	for _, o := range r.Outcomes {
		counts[o.Kind]++
	}
	return counts
}

func (r *Report) HasFailures() bool {
	return r.Counts()[Failed] > 0
}

// Changed reports whether any title was written on either side.
func (r *Report) Changed() bool {
	for _, o := range r.Outcomes {
		switch o.Kind {
		case OutcomeUnchanged, Skipped, Failed:
		case ConflictReported:
			if o.Decision != ReportOnly {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// String renders one "Kind: title" line per outcome.
func (r *Report) String() string {
	var sb strings.Builder
	for _, o := range r.Outcomes {
		sb.WriteString(o.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// logAttrs summarizes the counts for slog.
func (r *Report) logAttrs() []any {
	counts := r.Counts()
	attrs := make([]any, 0, 2*len(OutcomeKinds)+2)
	for _, k := range OutcomeKinds {
		if n := counts[k]; n > 0 {
			attrs = append(attrs, strings.ToLower(k.String()), n)
		}
	}
	return append(attrs, "took", r.Duration())
}

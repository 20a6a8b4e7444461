package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gosuri/uitable"
	"github.com/keeplog/keeplog/internal/sync"
)

type reportView struct {
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt"`
	LocalWritten bool           `json:"localWritten"`
	Committed    bool           `json:"committed"`
	Counts       map[string]int `json:"counts"`
	Outcomes     []outcomeView  `json:"outcomes"`
}

type outcomeView struct {
	Title    string           `json:"title"`
	Kind     sync.OutcomeKind `json:"kind"`
	Class    sync.Class       `json:"class"`
	Decision string           `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func newReportView(r *sync.Report) *reportView {
	view := &reportView{
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		LocalWritten: r.LocalWritten,
		Committed:    r.Committed,
		Counts:       make(map[string]int),
		Outcomes:     make([]outcomeView, 0, len(r.Outcomes)),
	}
	for kind, n := range r.Counts() {
		view.Counts[kind.String()] = n
	}
	for _, o := range r.Outcomes {
		ov := outcomeView{Title: o.Title, Kind: o.Kind, Class: o.Class}
		if o.Kind == sync.ConflictReported {
			ov.Decision = o.Decision.String()
		}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		view.Outcomes = append(view.Outcomes, ov)
	}
	return view
}

func writeReportJSON(w io.Writer, r *sync.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newReportView(r))
}

// writeReport prints one row per title followed by a summary line.
func writeReport(w io.Writer, r *sync.Report) {
	if len(r.Outcomes) > 0 {
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.MaxColWidth = 80
		for _, o := range r.Outcomes {
			tbl.AddRow(kindLabel(o.Kind), o.Title, outcomeDetail(o))
		}
		fmt.Fprintln(w, tbl)
	}
	fmt.Fprintln(w, summary(r))
}

func kindLabel(k sync.OutcomeKind) string {
	switch k {
	case sync.UpdatedLocal, sync.UpdatedRemote, sync.CreatedLocal, sync.CreatedRemote:
		return green(k.String())
	case sync.ConflictReported:
		return yellow(k.String())
	case sync.Failed:
		return red(k.String())
	case sync.Skipped:
		return cyan(k.String())
	}
	return faint(k.String())
}

func outcomeDetail(o sync.Outcome) string {
	switch o.Kind {
	case sync.ConflictReported:
		return o.Decision.String()
	case sync.Failed:
		return fmt.Sprint(o.Err)
	}
	return ""
}

func summary(r *sync.Report) string {
	counts := r.Counts()
	parts := make([]string, 0, len(sync.OutcomeKinds))
	for _, k := range sync.OutcomeKinds {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(k.String())))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to sync")
	}
	return fmt.Sprintf("%s in %s", strings.Join(parts, ", "), r.Duration().Round(time.Millisecond))
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/keeplog/keeplog/internal/backup"
	"github.com/keeplog/keeplog/internal/keep"
	"github.com/keeplog/keeplog/internal/logfile"
	"github.com/keeplog/keeplog/internal/state"
	"github.com/keeplog/keeplog/internal/utils"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultLockTimeout = 10 * time.Second
)

// Remote is the note service as seen by the engine.
type Remote interface {
	Authenticate(ctx context.Context, user, pass string, saved *keep.Session) (*keep.Session, error)
	ListNotes(ctx context.Context, label string) ([]keep.Note, error)
	CreateNote(ctx context.Context, title, body, label string) (string, error)
	UpdateNote(ctx context.Context, id, body string) error
}

// StateStore loads and commits sync state under a run lock.
type StateStore interface {
	Lock(ctx context.Context) (unlock func(), err error)
	Load() (*state.State, error)
	Commit(st *state.State) error
}

type EngineConfig struct {
	User     string
	Pass     string
	Label    string
	LogPath  string
	Conflict Policy
	Delete   DeletePolicy

	// DatedOnly leaves titles without a leading M/D/YY date out of the sync
	// on both sides.
	DatedOnly bool

	// Concurrency bounds parallel remote writes.
	Concurrency int
	LockTimeout time.Duration
}

// Engine runs full sync passes between the log file and the note service.
type Engine struct {
	cfg    EngineConfig
	remote Remote
	store  StateStore
	backup backup.Backuper
	now    func() time.Time

	beforeLocalWrite func(path string)
}

func NewEngine(cfg EngineConfig, remote Remote, store StateStore, backuper backup.Backuper) (*Engine, error) {
	if cfg.LogPath == "" {
		return nil, errors.New("sync: log path required")
	}
	if cfg.Label == "" {
		return nil, errors.New("sync: label required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if backuper == nil {
		backuper = backup.Nop{}
	}

	return &Engine{
		cfg:    cfg,
		remote: remote,
		store:  store,
		backup: backuper,
		now:    time.Now,
	}, nil
}

// OnLocalWrite registers fn to be called right before the log file is
// rewritten. The watch command uses it to ignore its own writes.
func (e *Engine) OnLocalWrite(fn func(path string)) {
	e.beforeLocalWrite = fn
}

// pending tracks one title through a run.
type pending struct {
	change  *Change
	outcome Outcome

	// record to commit for this title, nil to keep the prior one
	record *state.Record

	push     bool
	pushBody string
	pushID   string // empty creates a new note
}

// Run performs one full pass. Fatal errors leave the state untouched and
// return a nil report. A report is returned together with an error only when
// every write succeeded but the new state could not be committed.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: e.now()}

	lockCtx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	unlock, err := e.store.Lock(lockCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLocalIO, err)
	}
	defer unlock()

	prior, err := e.store.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: load state: %w", ErrLocalIO, err)
	}

	raw, err := e.readLocal()
	if err != nil {
		return nil, err
	}
	doc, err := logfile.Parse(raw)
	if err != nil {
		return nil, err
	}

	session, notes, err := e.fetchRemote(ctx, prior.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	unique, dupes := e.partitionNotes(notes)
	local := make([]logfile.Entry, 0, doc.Len())
	for _, entry := range doc.Entries() {
		if !e.inScope(entry.Title) {
			slog.Debug("skipping undated entry", "title", entry.Title)
			continue
		}
		if _, dup := dupes[entry.Title]; !dup {
			local = append(local, entry)
		}
	}
	records := make(map[string]*state.Record, len(prior.Records))
	for title, rec := range prior.Records {
		if e.inScope(title) {
			records[title] = rec
		}
	}

	changes := Detect(local, unique, records)
	items := make([]*pending, len(changes))
	var inserts []logfile.Entry
	for i, c := range changes {
		items[i] = e.plan(c, doc, &inserts)
	}
	doc.Insert(inserts...)

	e.push(ctx, items)

	if doc.Modified() {
		if err := e.writeLocal(raw, doc); err != nil {
			return nil, err
		}
		report.LocalWritten = true
	}

	next := state.NewState()
	next.Session = toStateSession(session)
	for _, it := range items {
		report.Outcomes = append(report.Outcomes, it.outcome)
		switch {
		case it.record != nil:
			next.Records[it.change.Title] = it.record
		case it.change.Prior != nil:
			rec := *it.change.Prior
			next.Records[it.change.Title] = &rec
		}
	}
	for title, rec := range prior.Records {
		if !e.inScope(title) {
			rc := *rec
			next.Records[title] = &rc
		}
	}
	for _, title := range sortedKeys(dupes) {
		report.Outcomes = append(report.Outcomes, Outcome{
			Title: title,
			Kind:  Failed,
			Err:   &EntryError{Title: title, Side: SideRemote, Err: fmt.Errorf("%w (%d notes)", ErrDuplicateRemoteTitle, dupes[title])},
		})
		if rec, ok := prior.Records[title]; ok {
			rc := *rec
			next.Records[title] = &rc
		}
	}

	if !next.Equal(prior) {
		next.UpdatedAt = e.now()
		if err := e.store.Commit(next); err != nil {
			report.FinishedAt = e.now()
			return report, fmt.Errorf("%w: commit state: %w", ErrLocalIO, err)
		}
		report.Committed = true
	}

	report.FinishedAt = e.now()
	slog.Info("sync complete", report.logAttrs()...)
	for _, o := range report.Outcomes {
		if o.Kind == Failed {
			slog.Warn("sync entry failed", "title", o.Title, "error", o.Err)
		}
	}
	return report, nil
}

// plan decides what to do with one change. Local edits are applied to doc
// immediately, new local entries are collected in inserts, remote writes
// are left for push.
func (e *Engine) plan(c *Change, doc *logfile.Document, inserts *[]logfile.Entry) *pending {
	p := &pending{change: c, outcome: Outcome{Title: c.Title, Class: c.Class}}

	pull := func(kind OutcomeKind) {
		body := logfile.NormalizeBody(c.Remote.Body)
		if err := logfile.CheckEntry(logfile.Entry{Title: c.Title, Body: body}); err != nil {
			p.outcome.Kind = Failed
			p.outcome.Err = &EntryError{Title: c.Title, Side: SideLocal, Err: err}
			return
		}
		if c.Local != nil {
			doc.SetBody(c.Title, body)
		} else {
			*inserts = append(*inserts, logfile.Entry{Title: c.Title, Body: body, RemoteID: c.Remote.ID})
		}
		p.outcome.Kind = kind
		p.record = e.record(c.Title, body, c.Remote.ID)
	}
	pushTo := func(kind OutcomeKind) {
		p.outcome.Kind = kind
		p.push = true
		p.pushBody = logfile.NormalizeBody(c.Local.Body)
		if c.Remote != nil {
			p.pushID = c.Remote.ID
		}
	}

	switch c.Class {
	case Unchanged:
		p.outcome.Kind = OutcomeUnchanged
		p.record = e.record(c.Title, c.Local.Body, c.Remote.ID)

	case LocalOnly:
		switch {
		case c.RemoteMissing() && e.cfg.Delete == Ignore:
			p.outcome.Kind = Skipped
		case c.RemoteMissing():
			pushTo(CreatedRemote)
		default:
			pushTo(UpdatedRemote)
		}

	case NewLocal:
		pushTo(CreatedRemote)

	case RemoteOnly:
		switch {
		case c.LocalMissing() && e.cfg.Delete == Ignore:
			p.outcome.Kind = Skipped
		case c.LocalMissing():
			pull(CreatedLocal)
		default:
			pull(UpdatedLocal)
		}

	case NewRemote:
		pull(CreatedLocal)

	case Conflict:
		decision := Resolve(e.cfg.Conflict)
		switch decision {
		case OverwriteRemote:
			pushTo(ConflictReported)
		case OverwriteLocal:
			pull(ConflictReported)
		default:
			p.outcome.Kind = ConflictReported
		}
		p.outcome.Decision = decision
		slog.Warn("sync conflict", "title", c.Title, "decision", decision, "policy", e.cfg.Conflict)
	}

	return p
}

// push performs the remote writes concurrently. Failures are recorded on the
// item and never abort the others.
func (e *Engine) push(ctx context.Context, items []*pending) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, it := range items {
		if !it.push {
			continue
		}
		g.Go(func() error {
			id, err := e.pushOne(gctx, it)
			if err != nil {
				it.outcome.Kind = Failed
				it.outcome.Err = &EntryError{Title: it.change.Title, Side: SideRemote, Err: err}
				it.record = nil
				return nil
			}
			it.record = e.record(it.change.Title, it.pushBody, id)
			return nil
		})
	}

	_ = g.Wait()
}

func (e *Engine) pushOne(ctx context.Context, it *pending) (string, error) {
	if it.pushID == "" {
		id, err := e.remote.CreateNote(ctx, it.change.Title, it.pushBody, e.cfg.Label)
		if err != nil {
			return "", fmt.Errorf("create note: %w", err)
		}
		slog.Debug("note created", "title", it.change.Title, "id", id)
		return id, nil
	}

	if r := it.change.Remote; r != nil {
		if err := e.backup.BackupRemote(r.ID, r.Title, r.Body); err != nil {
			slog.Warn("backup failed", "title", r.Title, "error", err)
		}
	}
	if err := e.remote.UpdateNote(ctx, it.pushID, it.pushBody); err != nil {
		return "", fmt.Errorf("update note %s: %w", it.pushID, err)
	}
	slog.Debug("note updated", "title", it.change.Title, "id", it.pushID)
	return it.pushID, nil
}

// fetchRemote authenticates and lists in-scope notes. A reused session that
// the service rejects is replaced by a fresh login once.
func (e *Engine) fetchRemote(ctx context.Context, saved *state.Session) (*keep.Session, []keep.Note, error) {
	session, err := e.remote.Authenticate(ctx, e.cfg.User, e.cfg.Pass, toKeepSession(saved))
	if err != nil {
		return nil, nil, fmt.Errorf("authenticate: %w", err)
	}

	notes, err := e.remote.ListNotes(ctx, e.cfg.Label)
	if errors.Is(err, keep.ErrUnauthorized) && saved != nil {
		slog.Info("saved session rejected, logging in again")
		if session, err = e.remote.Authenticate(ctx, e.cfg.User, e.cfg.Pass, nil); err != nil {
			return nil, nil, fmt.Errorf("authenticate: %w", err)
		}
		notes, err = e.remote.ListNotes(ctx, e.cfg.Label)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list notes: %w", err)
	}

	return session, notes, nil
}

// partitionNotes drops notes with unusable titles and separates titles shared
// by several notes. Titles are compared the way the log parser reads them,
// without trailing blanks.
func (e *Engine) partitionNotes(notes []keep.Note) ([]keep.Note, map[string]int) {
	counts := make(map[string]int, len(notes))
	valid := make([]keep.Note, 0, len(notes))
	for _, n := range notes {
		if !logfile.ValidTitle(n.Title) {
			slog.Warn("skipping note with invalid title", "id", n.ID, "title", n.Title)
			continue
		}
		n.Title = logfile.CanonicalTitle(n.Title)
		if !e.inScope(n.Title) {
			slog.Warn("skipping note without a dated title", "id", n.ID, "title", n.Title)
			continue
		}
		counts[n.Title]++
		valid = append(valid, n)
	}

	dupes := make(map[string]int)
	unique := valid[:0]
	for _, n := range valid {
		if counts[n.Title] > 1 {
			dupes[n.Title] = counts[n.Title]
			continue
		}
		unique = append(unique, n)
	}
	return unique, dupes
}

func (e *Engine) inScope(title string) bool {
	if !e.cfg.DatedOnly {
		return true
	}
	_, ok := logfile.TitleDate(title)
	return ok
}

func (e *Engine) readLocal() (string, error) {
	data, err := os.ReadFile(e.cfg.LogPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("log file missing, starting empty", "path", e.cfg.LogPath)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrLocalIO, e.cfg.LogPath, err)
	}
	return string(data), nil
}

func (e *Engine) writeLocal(original string, doc *logfile.Document) error {
	if original != "" {
		if err := e.backup.BackupLocal([]byte(original)); err != nil {
			slog.Warn("backup failed", "path", e.cfg.LogPath, "error", err)
		}
	}
	if e.beforeLocalWrite != nil {
		e.beforeLocalWrite(e.cfg.LogPath)
	}
	if err := utils.WriteFileAtomic(e.cfg.LogPath, []byte(doc.String()), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrLocalIO, e.cfg.LogPath, err)
	}
	slog.Info("log file updated", "path", e.cfg.LogPath, "entries", doc.Len())
	return nil
}

func (e *Engine) record(title, body, remoteID string) *state.Record {
	sum := state.Checksum(body)
	return &state.Record{
		Title:          title,
		LocalChecksum:  sum,
		RemoteChecksum: sum,
		RemoteID:       remoteID,
		SyncedAt:       e.now(),
	}
}

func toKeepSession(s *state.Session) *keep.Session {
	if s == nil {
		return nil
	}
	return &keep.Session{User: s.User, Token: s.Token, ExpiresAt: s.ExpiresAt}
}

func toStateSession(s *keep.Session) *state.Session {
	if s == nil {
		return nil
	}
	return &state.Session{User: s.User, Token: s.Token, ExpiresAt: s.ExpiresAt}
}

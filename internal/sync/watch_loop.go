package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultRetryDelay = 5 * time.Second

var errEventsClosed = errors.New("event stream closed")

// WatchState is the state of a WatchLoop.
type WatchState int

const (
	Idle WatchState = iota
	Debouncing
	Syncing
)

func (s WatchState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Syncing:
		return "syncing"
	}
	return fmt.Sprintf("WatchState(%d)", int(s))
}

// ErrorPolicy decides what a WatchLoop does when the event source fails.
type ErrorPolicy int

const (
	ExitOnError ErrorPolicy = iota
	RetryOnError
)

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "exit":
		return ExitOnError, nil
	case "retry":
		return RetryOnError, nil
	}
	return ExitOnError, fmt.Errorf("%w: on-watch-error %q (want exit or retry)", ErrInvalidPolicy, s)
}

func (p ErrorPolicy) String() string {
	if p == RetryOnError {
		return "retry"
	}
	return "exit"
}

// EventSource delivers change notifications for the log file.
type EventSource interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan string
	Errors() <-chan error
}

// Syncer runs one sync pass.
type Syncer interface {
	Run(ctx context.Context) (*Report, error)
}

type WatchConfig struct {
	// SyncDelay is the quiet period after the last change before a sync.
	SyncDelay time.Duration
	// Interval triggers a sync when nothing changed for that long. Zero
	// disables it.
	Interval   time.Duration
	OnError    ErrorPolicy
	RetryDelay time.Duration
}

type runResult struct {
	report *Report
	err    error
}

// WatchLoop turns file change events into sync runs. It is a state machine:
//
//	Idle --event--> Debouncing --delay--> Syncing --done--> Idle
//
// Events during Debouncing restart the delay. Events during Syncing are
// remembered as a single pending flag that leads to exactly one more sync.
// Only the loop starts runs, so runs never overlap.
type WatchLoop struct {
	cfg    WatchConfig
	syncer Syncer
	source EventSource

	// OnResult is called after every run, from the loop goroutine.
	OnResult func(*Report, error)

	mu      sync.Mutex
	state   WatchState
	pending bool
	runs    int
}

func NewWatchLoop(cfg WatchConfig, syncer Syncer, source EventSource) *WatchLoop {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &WatchLoop{cfg: cfg, syncer: syncer, source: source}
}

func (w *WatchLoop) State() WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Runs returns how many sync runs have completed.
func (w *WatchLoop) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

func (w *WatchLoop) setState(s WatchState) {
	w.mu.Lock()
	if w.state != s {
		slog.Debug("watch state", "from", w.state, "to", s)
	}
	w.state = s
	w.mu.Unlock()
}

// Run syncs once and then watches until ctx is done or the event source
// fails under ExitOnError, in which case a *WatchError is returned. A run in
// flight when ctx is cancelled is allowed to finish.
func (w *WatchLoop) Run(ctx context.Context) error {
	startErr := w.source.Start(ctx)
	if startErr != nil {
		if w.cfg.OnError == ExitOnError {
			return &WatchError{Err: startErr}
		}
		slog.Error("watch start failed", "error", startErr, "retry", w.cfg.RetryDelay)
	}
	watching := startErr == nil
	defer func() {
		if watching {
			w.source.Stop()
		}
	}()

	var (
		events    <-chan string
		errs      <-chan error
		retryC    <-chan time.Time
		debounceC <-chan time.Time
		intervalC <-chan time.Time
		results   = make(chan runResult, 1)
		debounce  = time.NewTimer(time.Hour)
		interval  = time.NewTimer(time.Hour)
	)
	debounce.Stop()
	interval.Stop()
	defer debounce.Stop()
	defer interval.Stop()

	if watching {
		events = w.source.Events()
		errs = w.source.Errors()
	} else {
		retryC = time.After(w.cfg.RetryDelay)
	}

	startSync := func() {
		debounceC = nil
		intervalC = nil
		w.setState(Syncing)
		go func() {
			report, err := w.syncer.Run(context.WithoutCancel(ctx))
			results <- runResult{report: report, err: err}
		}()
	}

	finish := func(r runResult) {
		w.mu.Lock()
		w.runs++
		w.mu.Unlock()
		if r.err != nil {
			slog.Error("sync failed", "error", r.err)
		}
		if w.OnResult != nil {
			w.OnResult(r.report, r.err)
		}
	}

	goIdle := func() {
		w.setState(Idle)
		if w.cfg.Interval > 0 {
			interval.Reset(w.cfg.Interval)
			intervalC = interval.C
		}
	}

	startDebounce := func() {
		w.setState(Debouncing)
		debounce.Reset(w.cfg.SyncDelay)
		debounceC = debounce.C
	}

	startSync()

	for {
		select {
		case <-ctx.Done():
			if w.State() == Syncing {
				slog.Info("waiting for running sync before exit")
				finish(<-results)
			}
			return nil

		case _, ok := <-events:
			if !ok {
				events = nil
				errs = nil
				if err := w.handleSourceError(errEventsClosed, &watching, &retryC); err != nil {
					if w.State() == Syncing {
						finish(<-results)
					}
					return err
				}
				continue
			}
			switch w.State() {
			case Idle, Debouncing:
				intervalC = nil
				startDebounce()
			case Syncing:
				w.setPending()
			}

		case err := <-errs:
			events = nil
			errs = nil
			if err := w.handleSourceError(err, &watching, &retryC); err != nil {
				if w.State() == Syncing {
					finish(<-results)
				}
				return err
			}

		case <-retryC:
			retryC = nil
			if err := w.source.Start(ctx); err != nil {
				slog.Error("watch restart failed", "error", err, "retry", w.cfg.RetryDelay)
				retryC = time.After(w.cfg.RetryDelay)
				continue
			}
			watching = true
			events = w.source.Events()
			errs = w.source.Errors()
			slog.Info("watch re-established")
			// changes made while unwatched would go unnoticed otherwise
			if w.State() == Syncing {
				w.setPending()
			} else {
				startDebounce()
			}

		case <-debounceC:
			startSync()

		case <-intervalC:
			slog.Debug("watch interval elapsed")
			startSync()

		case r := <-results:
			finish(r)
			if w.takePending() {
				startDebounce()
			} else {
				goIdle()
			}
		}
	}
}

// handleSourceError applies the error policy. It returns a *WatchError when
// the loop must end.
func (w *WatchLoop) handleSourceError(err error, watching *bool, retryC *<-chan time.Time) error {
	if *watching {
		w.source.Stop()
		*watching = false
	}
	if w.cfg.OnError == ExitOnError {
		slog.Error("watch failed", "error", err)
		return &WatchError{Err: err}
	}
	slog.Warn("watch failed, retrying", "error", err, "delay", w.cfg.RetryDelay)
	*retryC = time.After(w.cfg.RetryDelay)
	return nil
}

func (w *WatchLoop) setPending() {
	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
}

func (w *WatchLoop) takePending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.pending
	w.pending = false
	return p
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultIgnoreTimeout    = 2 * time.Second
	defaultHealthInterval   = 5 * time.Second
	defaultCoalesceInterval = 50 * time.Millisecond
	eventBufferSize         = 64
)

var ErrWatchDirGone = errors.New("watched directory no longer exists")

// FileWatcher reports changes to a single file. It watches the parent
// directory so that editors replacing the file by rename are seen too.
type FileWatcher struct {
	path     string
	dir      string
	base     string
	coalesce time.Duration
	health   time.Duration

	raw    chan notify.EventInfo
	events chan string
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup

	timerMu sync.Mutex
	timer   *time.Timer

	ignoreMu    sync.Mutex
	ignoreUntil time.Time
}

func NewFileWatcher(path string) *FileWatcher {
	return &FileWatcher{
		path:     path,
		dir:      filepath.Dir(path),
		base:     filepath.Base(path),
		coalesce: defaultCoalesceInterval,
		health:   defaultHealthInterval,
	}
}

// Start begins watching. A stopped watcher can be started again.
func (fw *FileWatcher) Start(ctx context.Context) error {
	dir, err := filepath.EvalSymlinks(fw.dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", fw.dir, err)
	}
	fw.dir = dir

	fw.raw = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan string, eventBufferSize)
	fw.errs = make(chan error, 1)
	fw.done = make(chan struct{})

	if err := notify.Watch(fw.dir, fw.raw, notify.Write, notify.Create, notify.Rename, notify.Remove); err != nil {
		return fmt.Errorf("watch %s: %w", fw.dir, err)
	}
	slog.Info("file watcher start", "path", fw.path)

	fw.wg.Add(2)
	go fw.filterEvents(ctx)
	go fw.checkHealth(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	if fw.done == nil {
		return
	}
	close(fw.done)
	notify.Stop(fw.raw)
	fw.wg.Wait()

	fw.timerMu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
		fw.timer = nil
	}
	fw.timerMu.Unlock()

	fw.done = nil
	slog.Info("file watcher stopped", "path", fw.path)
}

func (fw *FileWatcher) Events() <-chan string {
	return fw.events
}

func (fw *FileWatcher) Errors() <-chan error {
	return fw.errs
}

// IgnoreOnce suppresses the next change notification arriving within the
// default timeout. keeplog calls it right before writing the file itself.
func (fw *FileWatcher) IgnoreOnce(string) {
	fw.ignoreMu.Lock()
	fw.ignoreUntil = time.Now().Add(DefaultIgnoreTimeout)
	fw.ignoreMu.Unlock()
}

func (fw *FileWatcher) consumeIgnore() bool {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	if fw.ignoreUntil.IsZero() {
		return false
	}
	ignored := time.Now().Before(fw.ignoreUntil)
	fw.ignoreUntil = time.Time{}
	return ignored
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer fw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case ev, ok := <-fw.raw:
			if !ok {
				return
			}
			if filepath.Base(ev.Path()) != fw.base {
				continue
			}
			// a save is a burst of write events; forward it once it settles
			fw.timerMu.Lock()
			if fw.timer != nil {
				fw.timer.Stop()
			}
			fw.timer = time.AfterFunc(fw.coalesce, fw.flush)
			fw.timerMu.Unlock()
		}
	}
}

func (fw *FileWatcher) flush() {
	if fw.consumeIgnore() {
		slog.Debug("file watcher ignored own write", "path", fw.path)
		return
	}

	select {
	case fw.events <- fw.path:
		slog.Debug("file watcher", "path", fw.path)
	default:
		// a change is already queued
	}
}

func (fw *FileWatcher) checkHealth(ctx context.Context) {
	defer fw.wg.Done()

	ticker := time.NewTicker(fw.health)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case <-ticker.C:
			if _, err := os.Stat(fw.dir); err != nil {
				select {
				case fw.errs <- fmt.Errorf("%w: %s: %w", ErrWatchDirGone, fw.dir, err):
				default:
				}
				return
			}
		}
	}
}

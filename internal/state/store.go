package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/keeplog/keeplog/internal/db"
	"github.com/keeplog/keeplog/internal/utils"
)

const schemaVersion = "1"

const schema = `
CREATE TABLE IF NOT EXISTS records (
    title TEXT PRIMARY KEY,
    local_checksum TEXT NOT NULL,
    remote_checksum TEXT NOT NULL,
    remote_id TEXT NOT NULL,
    synced_at TEXT NOT NULL -- RFC3339
);

CREATE TABLE IF NOT EXISTS session (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    username TEXT NOT NULL,
    token TEXT NOT NULL,
    expires_at TEXT NOT NULL -- RFC3339
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

var (
	ErrLocked        = errors.New("state: another sync is running")
	ErrSchemaVersion = errors.New("state: unsupported schema version")
)

type dbRecord struct {
	Title          string `db:"title"`
	LocalChecksum  string `db:"local_checksum"`
	RemoteChecksum string `db:"remote_checksum"`
	RemoteID       string `db:"remote_id"`
	SyncedAt       string `db:"synced_at"`
}

type dbSession struct {
	User      string `db:"username"`
	Token     string `db:"token"`
	ExpiresAt string `db:"expires_at"`
}

// Store keeps the sync state in a SQLite file that is replaced as a whole on
// every commit.
type Store struct {
	path string
	lock *flock.Flock
}

func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Lock takes the cross-process run lock, retrying until ctx is done.
func (s *Store) Lock(ctx context.Context) (unlock func(), err error) {
	if err := utils.EnsureParent(s.path); err != nil {
		return nil, fmt.Errorf("state: ensure dir: %w", err)
	}

	locked, err := s.lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("state: lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("state unlock", "path", s.lock.Path(), "error", err)
		}
	}, nil
}

// Load reads the committed state. A missing file yields an empty state.
func (s *Store) Load() (*State, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return NewState(), nil
	} else if err != nil {
		return nil, fmt.Errorf("state: stat: %w", err)
	}

	conn, err := db.NewSqliteDB(db.WithPath(s.path), db.WithReadOnly(), db.WithPragmas("PRAGMA busy_timeout=5000;"))
	if err != nil {
		return nil, fmt.Errorf("state: open: %w", err)
	}
	defer conn.Close()

	var version string
	if err := conn.Get(&version, `SELECT value FROM meta WHERE key = 'schema_version'`); err != nil {
		return nil, fmt.Errorf("state: read schema version: %w", err)
	}
	if version != schemaVersion {
		return nil, fmt.Errorf("%w: %s", ErrSchemaVersion, version)
	}

	st := NewState()

	var rows []dbRecord
	if err := conn.Select(&rows, `SELECT title, local_checksum, remote_checksum, remote_id, synced_at FROM records`); err != nil {
		return nil, fmt.Errorf("state: read records: %w", err)
	}
	for _, row := range rows {
		syncedAt, err := time.Parse(time.RFC3339Nano, row.SyncedAt)
		if err != nil {
			return nil, fmt.Errorf("state: record %q: bad synced_at %q: %w", row.Title, row.SyncedAt, err)
		}
		st.Records[row.Title] = &Record{
			Title:          row.Title,
			LocalChecksum:  row.LocalChecksum,
			RemoteChecksum: row.RemoteChecksum,
			RemoteID:       row.RemoteID,
			SyncedAt:       syncedAt,
		}
	}

	var sess dbSession
	err = conn.Get(&sess, `SELECT username, token, expires_at FROM session WHERE id = 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("state: read session: %w", err)
	default:
		expiresAt, err := time.Parse(time.RFC3339Nano, sess.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("state: bad session expiry %q: %w", sess.ExpiresAt, err)
		}
		st.Session = &Session{User: sess.User, Token: sess.Token, ExpiresAt: expiresAt}
	}

	var updatedAt string
	if err := conn.Get(&updatedAt, `SELECT value FROM meta WHERE key = 'updated_at'`); err == nil {
		st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	}

	return st, nil
}

// Commit durably replaces the stored state with st. The snapshot is written to
// a temporary file which is renamed over the old one only once complete.
func (s *Store) Commit(st *State) error {
	tmpPath := s.path + ".tmp"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("state: remove stale snapshot: %w", err)
	}

	if err := writeSnapshot(tmpPath, st); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: write snapshot: %w", err)
	}

	if err := utils.RenameAndSync(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: commit: %w", err)
	}

	slog.Debug("state committed", "path", s.path, "records", len(st.Records))
	return nil
}

func writeSnapshot(path string, st *State) error {
	conn, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return err
	}

	if err := fillSnapshot(conn, st); err != nil {
		conn.Close()
		return err
	}
	return conn.Close()
}

func fillSnapshot(conn *sqlx.DB, st *State) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	tx, err := conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range st.Records {
		_, err := tx.NamedExec(`
			INSERT INTO records (title, local_checksum, remote_checksum, remote_id, synced_at)
			VALUES (:title, :local_checksum, :remote_checksum, :remote_id, :synced_at)`,
			dbRecord{
				Title:          r.Title,
				LocalChecksum:  r.LocalChecksum,
				RemoteChecksum: r.RemoteChecksum,
				RemoteID:       r.RemoteID,
				SyncedAt:       r.SyncedAt.UTC().Format(time.RFC3339Nano),
			})
		if err != nil {
			return fmt.Errorf("insert record %q: %w", r.Title, err)
		}
	}

	if st.Session != nil {
		_, err := tx.NamedExec(`
			INSERT INTO session (id, username, token, expires_at)
			VALUES (1, :username, :token, :expires_at)`,
			dbSession{
				User:      st.Session.User,
				Token:     st.Session.Token,
				ExpiresAt: st.Session.ExpiresAt.UTC().Format(time.RFC3339Nano),
			})
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}

	updatedAt := st.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	meta := map[string]string{
		"schema_version": schemaVersion,
		"updated_at":     updatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("insert meta %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// Reset moves the state file aside as <path>.<timestamp>.bak. The next Load
// returns an empty state.
func (s *Store) Reset() (string, error) {
	if !utils.FileExists(s.path) {
		return "", nil
	}

	backup := fmt.Sprintf("%s.%s.bak", s.path, time.Now().Format("20060102150405"))
	if err := os.Rename(s.path, backup); err != nil {
		return "", fmt.Errorf("state: reset: %w", err)
	}
	slog.Info("state reset", "backup", backup)
	return backup, nil
}

// Package db opens SQLite databases through sqlx with the driver selected at
// build time.
package db

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/keeplog/keeplog/internal/utils"
)

const memoryPath = ":memory:"

// Snapshot files are written once and renamed into place, so a rollback
// journal is enough and every commit must reach disk.
const defaultPragma = `
PRAGMA journal_mode=DELETE;
PRAGMA synchronous=FULL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
`

type config struct {
	path         string
	pragmas      string
	mode         string
	maxOpenConns int
}

type SqliteOption func(*config)

// WithPath sets the database file. ":memory:" opens an in-memory database.
func WithPath(path string) SqliteOption {
	return func(c *config) {
		c.path = path
	}
}

// WithPragmas replaces the default pragma block.
func WithPragmas(pragmas string) SqliteOption {
	return func(c *config) {
		c.pragmas = pragmas
	}
}

// WithReadOnly opens an existing file without creating it.
func WithReadOnly() SqliteOption {
	return func(c *config) {
		c.mode = "ro"
	}
}

func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{
		path:         memoryPath,
		pragmas:      defaultPragma,
		mode:         "rwc",
		maxOpenConns: 1,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	dsn := memoryPath
	if cfg.path != memoryPath {
		if cfg.mode != "ro" {
			if err := utils.EnsureParent(cfg.path); err != nil {
				return nil, fmt.Errorf("ensure parent directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=%s", cfg.path, cfg.mode)
	}

	slog.Debug("db open", "driver", driverID, "path", cfg.path, "mode", cfg.mode)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}

	if cfg.pragmas != "" {
		if _, err := db.Exec(cfg.pragmas); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragmas: %w", err)
		}
	}

	return db, nil
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keeplog/keeplog/internal/sync"
	"github.com/keeplog/keeplog/internal/utils"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const EnvPrefix = "KEEPLOG"

// config keys
const (
	KeyUser           = "user"
	KeyPass           = "pass"
	KeyFile           = "file"
	KeyLabel          = "label"
	KeyStateFile      = "state-file"
	KeyBackupDir      = "backup-dir"
	KeyServer         = "server"
	KeyLogFile        = "log-file"
	KeyLogLevel       = "log-level"
	KeyOnConflict     = "on-conflict"
	KeyOnDelete       = "on-delete"
	KeyOnWatchError   = "on-watch-error"
	KeyDatedOnly      = "dated-only"
	KeyWatchInterval  = "watch-interval"
	KeyWatchSyncDelay = "watch-sync-delay"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".config", "keeplog.conf")
	DefaultEnvFile    = filepath.Join(home, ".keeplog", ".env")
	DefaultStateFile  = filepath.Join(home, ".keeplog", "state")
	DefaultBackupDir  = filepath.Join(home, ".keeplog", "backups")
	DefaultLogFile    = filepath.Join(home, ".keeplog", "keeplog.log")
	DefaultServerURL  = "https://notes.keeplog.dev"
	DefaultLabel      = "keeplog"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Path      string
	User      string
	Pass      string
	File      string
	Label     string
	StateFile string
	// BackupDir empty disables backups.
	BackupDir string
	ServerURL string
	LogFile   string
	LogLevel  string

	OnConflict   string
	OnDelete     string
	OnWatchError string

	// DatedOnly limits the sync to titles starting with a M/D/YY date.
	DatedOnly bool

	// WatchInterval zero disables the periodic sync.
	WatchInterval  time.Duration
	WatchSyncDelay time.Duration
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLabel, DefaultLabel)
	v.SetDefault(KeyStateFile, DefaultStateFile)
	v.SetDefault(KeyBackupDir, DefaultBackupDir)
	v.SetDefault(KeyServer, DefaultServerURL)
	v.SetDefault(KeyLogFile, DefaultLogFile)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyOnConflict, sync.DoNothing.String())
	v.SetDefault(KeyOnDelete, sync.Recreate.String())
	v.SetDefault(KeyOnWatchError, sync.ExitOnError.String())
	v.SetDefault(KeyDatedOnly, false)
	v.SetDefault(KeyWatchInterval, 300)
	v.SetDefault(KeyWatchSyncDelay, 2.0)
}

// BindEnv makes every key settable as KEEPLOG_<KEY>, dashes becoming
// underscores. A variable set to the empty string counts as set.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
}

// FromViper builds a Config from the values in v. It does not validate.
func FromViper(v *viper.Viper) (*Config, error) {
	interval, err := cast.ToIntE(v.Get(KeyWatchInterval))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, KeyWatchInterval, err)
	}
	delay, err := cast.ToFloat64E(v.Get(KeyWatchSyncDelay))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, KeyWatchSyncDelay, err)
	}
	datedOnly, err := cast.ToBoolE(v.Get(KeyDatedOnly))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, KeyDatedOnly, err)
	}

	return &Config{
		Path:           v.ConfigFileUsed(),
		User:           v.GetString(KeyUser),
		Pass:           v.GetString(KeyPass),
		File:           v.GetString(KeyFile),
		Label:          v.GetString(KeyLabel),
		StateFile:      v.GetString(KeyStateFile),
		BackupDir:      v.GetString(KeyBackupDir),
		ServerURL:      v.GetString(KeyServer),
		LogFile:        v.GetString(KeyLogFile),
		LogLevel:       v.GetString(KeyLogLevel),
		OnConflict:     v.GetString(KeyOnConflict),
		OnDelete:       v.GetString(KeyOnDelete),
		OnWatchError:   v.GetString(KeyOnWatchError),
		DatedOnly:      datedOnly,
		WatchInterval:  time.Duration(interval) * time.Second,
		WatchSyncDelay: time.Duration(delay * float64(time.Second)),
	}, nil
}

// Validate checks required keys and enum values and resolves every path to
// an absolute one.
func (c *Config) Validate() error {
	if c.User == "" || c.Pass == "" || c.File == "" {
		return fmt.Errorf("%w: need at least 'user=', 'pass=' and 'file='", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Label) == "" {
		return fmt.Errorf("%w: label is empty", ErrInvalidConfig)
	}

	if _, err := sync.ParsePolicy(c.OnConflict); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := sync.ParseDeletePolicy(c.OnDelete); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := sync.ParseErrorPolicy(c.OnWatchError); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.WatchInterval < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, KeyWatchInterval)
	}
	if c.WatchSyncDelay < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, KeyWatchSyncDelay)
	}

	if err := validateURL(c.ServerURL); err != nil {
		return fmt.Errorf("%w: server url: %w", ErrInvalidConfig, err)
	}

	var err error
	if c.File, err = utils.ResolvePath(c.File); err != nil {
		return fmt.Errorf("%w: file: %w", ErrInvalidConfig, err)
	}
	if c.StateFile, err = utils.ResolvePath(c.StateFile); err != nil {
		return fmt.Errorf("%w: state file: %w", ErrInvalidConfig, err)
	}
	if c.BackupDir != "" {
		if c.BackupDir, err = utils.ResolvePath(c.BackupDir); err != nil {
			return fmt.Errorf("%w: backup dir: %w", ErrInvalidConfig, err)
		}
	}
	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
			return fmt.Errorf("%w: log file: %w", ErrInvalidConfig, err)
		}
	}

	return nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return lvl, nil
}

// EngineConfig maps a validated Config to the sync engine settings.
func (c *Config) EngineConfig() (sync.EngineConfig, error) {
	conflict, err := sync.ParsePolicy(c.OnConflict)
	if err != nil {
		return sync.EngineConfig{}, err
	}
	deletion, err := sync.ParseDeletePolicy(c.OnDelete)
	if err != nil {
		return sync.EngineConfig{}, err
	}

	return sync.EngineConfig{
		User:      c.User,
		Pass:      c.Pass,
		Label:     c.Label,
		LogPath:   c.File,
		Conflict:  conflict,
		Delete:    deletion,
		DatedOnly: c.DatedOnly,
	}, nil
}

func (c *Config) WatchConfig() (sync.WatchConfig, error) {
	onErr, err := sync.ParseErrorPolicy(c.OnWatchError)
	if err != nil {
		return sync.WatchConfig{}, err
	}

	return sync.WatchConfig{
		SyncDelay: c.WatchSyncDelay,
		Interval:  c.WatchInterval,
		OnError:   onErr,
	}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/keeplog/keeplog/internal/config"
	"github.com/keeplog/keeplog/internal/utils"
	"github.com/keeplog/keeplog/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// flags that override config keys
var flagKeys = map[string]string{
	"file":        config.KeyFile,
	"label":       config.KeyLabel,
	"on-conflict": config.KeyOnConflict,
	"state-file":  config.KeyStateFile,
	"log-level":   config.KeyLogLevel,
}

var rootCmd = &cobra.Command{
	Use:           "keeplog",
	Short:         "Sync a plain-text daily log with labeled notes",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

// addGlobalFlags defines the flags shared by every command. Flags left at
// their empty default do not override the config.
func addGlobalFlags(fs *pflag.FlagSet) {
	fs.SortFlags = false
	fs.StringP("config", "c", config.DefaultConfigPath, "keeplog config file")
	fs.String("env-file", config.DefaultEnvFile, "dotenv file with KEEPLOG_* variables")
	fs.StringP("file", "f", "", "log file to sync")
	fs.StringP("label", "l", "", "label that marks synced notes")
	fs.String("on-conflict", "", "do-nothing, prefer-local or prefer-remote")
	fs.String("state-file", "", "sync state file")
	fs.String("log-level", "", "debug, info, warn or error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, rootCmd)
	stop()
	os.Exit(code)
}

// exitError makes a command exit with code. err may be nil when the command
// already printed everything worth saying.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// execute runs cmd and maps its error to a process exit code.
func execute(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), red("Error:"), ee.err)
		}
		return ee.code
	}

	fmt.Fprintln(cmd.ErrOrStderr(), red("Error:"), err)
	return 1
}

// loadConfig resolves the configuration from, in increasing priority, the
// defaults, the config file, the environment and the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if f := cmd.Flag("env-file"); f != nil {
		if err := config.LoadEnvFile(f.Value.String()); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	path := config.DefaultConfigPath
	required := false
	if f := cmd.Flag("config"); f != nil && f.Changed {
		path, required = f.Value.String(), true
	} else if env := os.Getenv(config.EnvPrefix + "_CONFIG"); env != "" {
		path, required = env, true
	}
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	if err := config.ReadInConfig(v, path, required); err != nil {
		return nil, err
	}

	for name, key := range flagKeys {
		if f := cmd.Flag(name); f != nil {
			v.BindPFlag(key, f)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// prepare loads the config and installs the loggers. The returned func
// flushes and closes the log file.
func prepare(cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	cmd.SilenceUsage = true

	closeLog, err := setupLogging(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("config loaded", "path", cfg.Path, "file", cfg.File, "label", cfg.Label, "state", cfg.StateFile)
	return cfg, closeLog, nil
}

// setupLogging sends records at the configured level to stderr and every
// record to the rotating log file.
func setupLogging(cfg *config.Config, stderr io.Writer) (func(), error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	consoleHandler := tint.NewHandler(stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    color.NoColor || !isTerminal(stderr),
	})

	if cfg.LogFile == "" {
		slog.SetDefault(slog.New(consoleHandler))
		return func() {}, nil
	}

	if err := utils.EnsureParent(cfg.LogFile); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28,
	}
	interceptor := utils.NewLogInterceptor(rotator)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{Level: slog.LevelDebug})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler)))
	return func() {
		if err := interceptor.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

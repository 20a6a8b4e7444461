package main

import (
	"errors"
	"log/slog"

	"github.com/keeplog/keeplog/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the log file changes",
		Long: `Sync once, then keep watching the log file. A sync runs once the file has
been quiet for watch-sync-delay seconds and every watch-interval seconds
without changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			wcfg, err := cfg.WatchConfig()
			if err != nil {
				return err
			}
			engine, _, err := newEngine(cfg)
			if err != nil {
				return err
			}

			watcher := sync.NewFileWatcher(cfg.File)
			// the engine's own rewrite must not trigger another sync
			engine.OnLocalWrite(watcher.IgnoreOnce)

			loop := sync.NewWatchLoop(wcfg, engine, watcher)
			loop.OnResult = func(report *sync.Report, err error) {
				if report == nil {
					return
				}
				if err != nil || report.Changed() || report.HasFailures() {
					writeReport(cmd.OutOrStdout(), report)
				}
			}

			slog.Info("watching", "file", cfg.File, "delay", wcfg.SyncDelay, "interval", wcfg.Interval, "on-error", wcfg.OnError)
			err = loop.Run(cmd.Context())

			var werr *sync.WatchError
			if errors.As(err, &werr) {
				return &exitError{code: exitRunFailed, err: werr}
			}
			if err != nil {
				return err
			}
			slog.Info("watch stopped", "runs", loop.Runs())
			return nil
		},
	}
}

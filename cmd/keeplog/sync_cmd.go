package main

import (
	"fmt"
	"log/slog"

	"github.com/keeplog/keeplog/internal/backup"
	"github.com/keeplog/keeplog/internal/config"
	"github.com/keeplog/keeplog/internal/keep"
	"github.com/keeplog/keeplog/internal/state"
	"github.com/keeplog/keeplog/internal/sync"
	"github.com/spf13/cobra"
)

const (
	exitRunFailed     = 1
	exitEntriesFailed = 2
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass between the log file and the notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			reset, _ := cmd.Flags().GetBool("reset-state")

			cfg, closeLog, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			engine, store, err := newEngine(cfg)
			if err != nil {
				return err
			}

			if reset {
				moved, err := store.Reset()
				if err != nil {
					return err
				}
				if moved != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "state moved to", moved)
				}
			}

			report, err := engine.Run(cmd.Context())
			if report != nil {
				if asJSON {
					if jerr := writeReportJSON(cmd.OutOrStdout(), report); jerr != nil {
						return jerr
					}
				} else {
					writeReport(cmd.OutOrStdout(), report)
				}
			}
			if err != nil {
				return &exitError{code: exitRunFailed, err: err}
			}
			if report.HasFailures() {
				return &exitError{
					code: exitEntriesFailed,
					err:  fmt.Errorf("%d entries failed", report.Counts()[sync.Failed]),
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "print the report as JSON")
	cmd.Flags().Bool("reset-state", false, "move the state file aside and sync as if for the first time")
	return cmd
}

// newEngine wires the note service client, the state store and the backup
// store into a sync engine.
func newEngine(cfg *config.Config) (*sync.Engine, *state.Store, error) {
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}

	remote, err := keep.New(cfg.ServerURL)
	if err != nil {
		return nil, nil, err
	}

	store := state.NewStore(cfg.StateFile)

	var backuper backup.Backuper = backup.Nop{}
	if cfg.BackupDir != "" {
		backuper = backup.New(cfg.BackupDir)
	} else {
		slog.Warn("backups disabled")
	}

	engine, err := sync.NewEngine(ecfg, remote, store, backuper)
	if err != nil {
		return nil, nil, err
	}
	return engine, store, nil
}

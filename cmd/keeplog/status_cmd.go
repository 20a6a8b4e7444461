package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/keeplog/keeplog/internal/backup"
	"github.com/keeplog/keeplog/internal/config"
	"github.com/keeplog/keeplog/internal/logfile"
	"github.com/keeplog/keeplog/internal/state"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what keeplog knows about the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			st, err := state.NewStore(cfg.StateFile).Load()
			if err != nil {
				return err
			}
			return writeStatus(cmd, cmd.OutOrStdout(), cfg, st, time.Now())
		},
	}
}

func writeStatus(cmd *cobra.Command, w io.Writer, cfg *config.Config, st *state.State, now time.Time) error {
	tbl := uitable.New()
	tbl.Separator = "  "

	tbl.AddRow("Log file:", cfg.File)
	tbl.AddRow("Entries:", localEntries(cfg.File))
	tbl.AddRow("Label:", cfg.Label)
	tbl.AddRow("Server:", cfg.ServerURL)
	tbl.AddRow("State file:", cfg.StateFile)
	tbl.AddRow("Synced titles:", len(st.Records))

	if st.UpdatedAt.IsZero() {
		tbl.AddRow("Last change:", faint("never"))
	} else {
		tbl.AddRow("Last change:", humanize.RelTime(st.UpdatedAt, now, "ago", "from now"))
	}

	switch {
	case st.Session == nil:
		tbl.AddRow("Session:", faint("none"))
	case st.Session.Valid(now):
		tbl.AddRow("Session:", fmt.Sprintf("%s, expires %s", green(st.Session.User),
			humanize.RelTime(st.Session.ExpiresAt, now, "ago", "from now")))
	default:
		tbl.AddRow("Session:", fmt.Sprintf("%s, %s", st.Session.User, yellow("expired")))
	}

	if cfg.BackupDir == "" {
		tbl.AddRow("Backups:", faint("disabled"))
	} else {
		n := len(backup.New(cfg.BackupDir).Keys(cmd.Context(), ""))
		tbl.AddRow("Backups:", fmt.Sprintf("%d in %s", n, cfg.BackupDir))
	}

	_, err := fmt.Fprintln(w, tbl)
	return err
}

func localEntries(path string) string {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return faint("no file")
	}
	if err != nil {
		return red(err.Error())
	}
	doc, err := logfile.Parse(string(data))
	if err != nil {
		return red(err.Error())
	}
	return fmt.Sprint(doc.Len())
}

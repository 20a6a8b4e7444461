package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keeplog/keeplog/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "keeplog"}
	addGlobalFlags(cmd.PersistentFlags())
	require.NoError(t, cmd.PersistentFlags().Set("env-file", ""))
	return cmd
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keeplog.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "user=alice\npass=secret\nfile="+filepath.Join(dir, "log.txt")+
		"\nlabel=diary\nwatch-interval=0\nwatch-sync-delay=1.5\n")

	cmd := newTestCmd(t)
	require.NoError(t, cmd.PersistentFlags().Set("config", path))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, "diary", cfg.Label)
	assert.Equal(t, filepath.Join(dir, "log.txt"), cfg.File)
	assert.Zero(t, cfg.WatchInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.WatchSyncDelay)
	assert.Equal(t, config.DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, "do-nothing", cfg.OnConflict)
}

func TestLoadConfigEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "user=alice\npass=secret\nfile=/tmp/ignored.txt\n")
	t.Setenv("KEEPLOG_CONFIG", path)
	t.Setenv("KEEPLOG_FILE", filepath.Join(dir, "env.txt"))
	t.Setenv("KEEPLOG_ON_CONFLICT", "prefer-local")
	t.Setenv("KEEPLOG_STATE_FILE", filepath.Join(dir, "state"))

	cfg, err := loadConfig(newTestCmd(t))
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, filepath.Join(dir, "env.txt"), cfg.File)
	assert.Equal(t, "prefer-local", cfg.OnConflict)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.StateFile)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "user=alice\npass=secret\nfile=/tmp/ignored.txt\non-conflict=prefer-local\n")
	t.Setenv("KEEPLOG_ON_CONFLICT", "prefer-remote")

	cmd := newTestCmd(t)
	fs := cmd.PersistentFlags()
	require.NoError(t, fs.Set("config", path))
	require.NoError(t, fs.Set("file", filepath.Join(dir, "flag.txt")))
	require.NoError(t, fs.Set("on-conflict", "do-nothing"))
	require.NoError(t, fs.Set("label", "work"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "flag.txt"), cfg.File)
	assert.Equal(t, "do-nothing", cfg.OnConflict)
	assert.Equal(t, "work", cfg.Label)
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "user=alice\nfile="+filepath.Join(dir, "log.txt")+"\n")
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("KEEPLOG_PASS=from-dotenv\n"), 0o600))
	t.Setenv("KEEPLOG_PASS", "")
	os.Unsetenv("KEEPLOG_PASS")

	cmd := newTestCmd(t)
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	require.NoError(t, cmd.PersistentFlags().Set("env-file", envFile))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Pass)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	cmd := newTestCmd(t)
	require.NoError(t, cmd.PersistentFlags().Set("config", filepath.Join(t.TempDir(), "nope.conf")))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestExecuteExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"exit error", &exitError{code: 2, err: errors.New("2 entries failed")}, 2},
		{"silent exit error", &exitError{code: 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{
				Use:           "keeplog",
				SilenceErrors: true,
				SilenceUsage:  true,
				RunE: func(*cobra.Command, []string) error {
					return tt.err
				},
			}
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)
			cmd.SetArgs([]string{})

			assert.Equal(t, tt.want, execute(t.Context(), cmd))
			if tt.err != nil && tt.want != 3 {
				assert.Contains(t, stripANSI(out.String()), tt.err.Error())
			}
		})
	}
}

// Package backup keeps timestamped copies of content before keeplog
// overwrites it on either side of a sync.
package backup

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/keeplog/keeplog/internal/logfile"
	"github.com/peterbourgon/diskv/v3"
)

const (
	kindLocal  = "local"
	kindRemote = "remote"

	timestampFormat = "20060102T150405.000000000"
)

// Backuper saves content that is about to be overwritten.
type Backuper interface {
	// BackupLocal saves the full local log file.
	BackupLocal(content []byte) error
	// BackupRemote saves one remote note as a single-entry log.
	BackupRemote(id, title, body string) error
}

// Store writes backups below a base directory:
//
//	<dir>/local/<timestamp>
//	<dir>/remote/<base64 note id>/<timestamp>
type Store struct {
	d   *diskv.Diskv
	now func() time.Time
	mu  sync.Mutex
}

func New(dir string) *Store {
	return &Store{
		d: diskv.New(diskv.Options{
			BasePath:          dir,
			AdvancedTransform: keyToPath,
			InverseTransform:  pathToKey,
			FilePerm:          0o600,
			PathPerm:          0o700,
		}),
		now: time.Now,
	}
}

func (s *Store) BackupLocal(content []byte) error {
	key, err := s.write([]string{kindLocal}, content)
	if err != nil {
		return fmt.Errorf("backup local: %w", err)
	}
	slog.Debug("backup local", "key", key, "size", len(content))
	return nil
}

func (s *Store) BackupRemote(id, title, body string) error {
	content := logfile.Serialize([]logfile.Entry{{Title: title, Body: body}})
	key, err := s.write([]string{remoteKeyPrefix(id)}, []byte(content))
	if err != nil {
		return fmt.Errorf("backup remote %s: %w", id, err)
	}
	slog.Debug("backup remote", "key", key, "title", title)
	return nil
}

// Keys lists backup keys below prefix ("local", "remote/<encoded id>") in
// chronological order.
func (s *Store) Keys(ctx context.Context, prefix string) []string {
	var keys []string
	for key := range s.d.KeysPrefix(prefix, ctx.Done()) {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func (s *Store) Read(key string) ([]byte, error) {
	return s.d.Read(key)
}

func (s *Store) write(path []string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := strings.Join(append(path, s.now().UTC().Format(timestampFormat)), "/")
	key := base
	for i := 1; s.d.Has(key); i++ {
		key = fmt.Sprintf("%s-%d", base, i)
	}
	return key, s.d.Write(key, content)
}

// remoteKeyPrefix is the Keys prefix holding backups of note id.
func remoteKeyPrefix(id string) string {
	return kindRemote + "/" + encodeID(id)
}

func encodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func keyToPath(key string) *diskv.PathKey {
	parts := strings.Split(key, "/")
	return &diskv.PathKey{
		Path:     parts[:len(parts)-1],
		FileName: parts[len(parts)-1],
	}
}

func pathToKey(pk *diskv.PathKey) string {
	return strings.Join(append(slices.Clone(pk.Path), pk.FileName), "/")
}

// Nop discards backups. It is used when no backup directory is configured.
type Nop struct{}

func (Nop) BackupLocal([]byte) error                 { return nil }
func (Nop) BackupRemote(string, string, string) error { return nil }

var (
	_ Backuper = (*Store)(nil)
	_ Backuper = Nop{}
)

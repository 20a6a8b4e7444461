package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "keeplog", "state"))
}

func sampleState() *State {
	st := NewState()
	synced := time.Date(2020, 11, 5, 10, 0, 0, 0, time.UTC)
	st.Records["11/5/20 Friday"] = &Record{
		Title:          "11/5/20 Friday",
		LocalChecksum:  Checksum("Todo\n- More stuff"),
		RemoteChecksum: Checksum("Todo\n- More stuff"),
		RemoteID:       "note-1",
		SyncedAt:       synced,
	}
	st.Records["11/6/20 Saturday"] = &Record{
		Title:          "11/6/20 Saturday",
		LocalChecksum:  Checksum(""),
		RemoteChecksum: Checksum(""),
		RemoteID:       "note-2",
		SyncedAt:       synced,
	}
	st.Session = &Session{User: "me", Token: "tok", ExpiresAt: synced.Add(time.Hour)}
	st.UpdatedAt = synced
	return st
}

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	store := newTestStore(t)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Records)
	assert.Nil(t, st.Session)
	assert.NoFileExists(t, store.Path())
}

func TestStore_CommitLoad(t *testing.T) {
	store := newTestStore(t)
	want := sampleState()

	require.NoError(t, store.Commit(want))
	assert.NoFileExists(t, store.Path()+".tmp")

	got, err := store.Load()
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
	assert.Len(t, got.Records, 2)
	assert.Equal(t, "note-1", got.Records["11/5/20 Friday"].RemoteID)
	assert.True(t, got.Records["11/5/20 Friday"].SyncedAt.Equal(want.Records["11/5/20 Friday"].SyncedAt))
	require.NotNil(t, got.Session)
	assert.Equal(t, "tok", got.Session.Token)
	assert.True(t, got.UpdatedAt.Equal(want.UpdatedAt))
}

func TestStore_CommitReplacesWholeSnapshot(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Commit(sampleState()))

	next := NewState()
	next.Records["x"] = &Record{Title: "x", LocalChecksum: "a", RemoteChecksum: "b", RemoteID: "id", SyncedAt: time.Now()}
	require.NoError(t, store.Commit(next))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, got.Records, 1)
	assert.Contains(t, got.Records, "x")
	assert.Nil(t, got.Session)
}

func TestStore_StaleTempIsIgnored(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Commit(sampleState()))

	// a crash between writing the snapshot and renaming it leaves garbage behind
	require.NoError(t, os.WriteFile(store.Path()+".tmp", []byte("torn"), 0o644))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, got.Records, 2)

	require.NoError(t, store.Commit(NewState()))
	got, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, got.Records)
}

func TestStore_LoadCorrupt(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("not a database"), 0o644))

	_, err := store.Load()
	assert.Error(t, err)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)

	backup, err := store.Reset()
	require.NoError(t, err)
	assert.Empty(t, backup)

	require.NoError(t, store.Commit(sampleState()))
	backup, err = store.Reset()
	require.NoError(t, err)
	assert.FileExists(t, backup)
	assert.NoFileExists(t, store.Path())

	st, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, st.Records)
}

func TestStore_Lock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")
	first := NewStore(path)
	second := NewStore(path)

	unlock, err := first.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = second.Lock(ctx)
	assert.ErrorIs(t, err, ErrLocked)

	unlock()

	unlock2, err := second.Lock(context.Background())
	require.NoError(t, err)
	unlock2()
}

func TestState_Equal(t *testing.T) {
	a := sampleState()
	b := sampleState()
	assert.True(t, a.Equal(b))

	b.Records["11/5/20 Friday"].SyncedAt = time.Now()
	b.UpdatedAt = time.Now()
	assert.True(t, a.Equal(b), "sync time alone is not a change")

	b.Records["11/5/20 Friday"].RemoteChecksum = "other"
	assert.False(t, a.Equal(b))

	c := sampleState()
	c.Session = nil
	assert.False(t, a.Equal(c))
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, Checksum("a\nb"), Checksum("a\r\nb\n\n"))
	assert.NotEqual(t, Checksum("a\nb"), Checksum("a\n\nb"))
	assert.Len(t, Checksum(""), 64)
}

func TestSession_Valid(t *testing.T) {
	now := time.Now()
	var nilSession *Session
	assert.False(t, nilSession.Valid(now))
	assert.False(t, (&Session{Token: "t", ExpiresAt: now.Add(-time.Minute)}).Valid(now))
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Minute)}).Valid(now))
	assert.True(t, (&Session{Token: "t", ExpiresAt: now.Add(time.Minute)}).Valid(now))
}

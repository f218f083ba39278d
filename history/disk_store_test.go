package history

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/keepalive/activity"
	"github.com/nomis52/keepalive/logging"
)

func jsonFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	return matches
}

func TestDiskStore_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	logger := slog.Default()

	store, err := NewDiskStore(dir, 10, logger)
	require.NoError(t, err)
	assert.Empty(t, store.Records())

	base := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, store.Save(Record{
		Key:       "bg.silent.push",
		Reason:    activity.Expired,
		LeaseHeld: true,
		StartedAt: base,
		EndedAt:   base.Add(27 * time.Second),
		Logs:      []logging.LogEntry{{Message: "activity started"}},
	}))
	require.NoError(t, store.Save(Record{Key: "upload", Reason: activity.Normal, EndedAt: base.Add(time.Minute)}))
	assert.Len(t, jsonFiles(t, dir), 2)

	reloaded, err := NewDiskStore(dir, 10, logger)
	require.NoError(t, err)
	records := reloaded.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "upload", records[0].Key)
	assert.Equal(t, "bg.silent.push", records[1].Key)
	assert.Equal(t, activity.Expired, records[1].Reason)
	assert.True(t, records[1].LeaseHeld)
	require.Len(t, records[1].Logs, 1)
	assert.Equal(t, "activity started", records[1].Logs[0].Message)
}

func TestDiskStore_Bounded(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, 2, nil)
	require.NoError(t, err)

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Save(Record{Key: string(rune('a' + i)), EndedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, "d", store.Records()[0].Key)
	assert.Equal(t, "c", store.Records()[1].Key)
	assert.Len(t, jsonFiles(t, dir), 2)
}

func TestDiskStore_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	store, err := NewDiskStore(dir, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestDiskStore_TrimsOnLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, 10, nil)
	require.NoError(t, err)
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(Record{Key: "k", EndedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	smaller, err := NewDiskStore(dir, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, smaller.Len())
	assert.Len(t, jsonFiles(t, dir), 3)
}

func TestDiskStore_RecorderStore(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), 10, nil)
	require.NoError(t, err)

	r := activity.NewRegistry(nil,
		activity.WithExecutor(activity.Inline),
		activity.WithObserver(NewRecorder(store, nil, nil)),
	)
	r.Start("k", activity.StartOptions{})
	r.Stop("k")

	require.Equal(t, 1, store.Len())
	assert.Equal(t, activity.Normal, store.Records()[0].Reason)
}

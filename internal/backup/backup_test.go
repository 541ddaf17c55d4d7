package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/storage/sqlite"
	"github.com/scrypster/goldfish/internal/storage/storagetest"
)

// seedDB creates a SQLite store at dir/goldfish.db holding descs as
// checkpoints in workspace demo.
func seedDB(t *testing.T, dir string, descs ...string) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, "goldfish.db")
	s, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	for _, d := range descs {
		require.NoError(t, s.Save(ctx, storagetest.Checkpoint("demo", d)))
	}
	require.NoError(t, s.Close())
	return path
}

func countRecords(t *testing.T, path string) int {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	return len(all)
}

func TestBackupNow_SnapshotsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	db := seedDB(t, dir, "first", "second")
	logger, hook := test.NewNullLogger()

	m, err := New(Config{DBPath: db, Dir: filepath.Join(dir, "backups"), Verify: true}, WithLogger(logger))
	require.NoError(t, err)

	res, err := m.BackupNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Positive(t, res.Size)
	assert.FileExists(t, res.Path)
	assert.Equal(t, "backup: snapshot complete", hook.LastEntry().Message)

	assert.Equal(t, 2, countRecords(t, res.Path))

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Path, list[0].Path)
}

func TestBackupNow_MissingDatabase(t *testing.T) {
	dir := t.TempDir()
	m, err := New(Config{DBPath: filepath.Join(dir, "absent.db"), Dir: dir})
	require.NoError(t, err)

	_, err = m.BackupNow(context.Background())
	assert.Error(t, err)
}

func TestBackupNow_AppliesRetention(t *testing.T) {
	dir := t.TempDir()
	db := seedDB(t, dir, "only")
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	logger, _ := test.NewNullLogger()

	m, err := New(Config{DBPath: db, Dir: filepath.Join(dir, "backups"), Retention: RetentionPolicy{Hourly: 1, Daily: 1, Weekly: 1, Monthly: 1}},
		WithLogger(logger), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	stale := writeSnapshot(t, m.cfg.Dir, now.Add(-30*time.Minute))
	res, err := m.BackupNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, res.Path)
}

func TestRestore_ReplacesDatabase(t *testing.T) {
	dir := t.TempDir()
	db := seedDB(t, dir, "kept")
	logger, hook := test.NewNullLogger()

	m, err := New(Config{DBPath: db, Dir: filepath.Join(dir, "backups")}, WithLogger(logger))
	require.NoError(t, err)
	res, err := m.BackupNow(context.Background())
	require.NoError(t, err)

	// Write more after the snapshot; restore should drop it.
	ctx := context.Background()
	s, err := sqlite.Open(ctx, db, storage.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, storagetest.Checkpoint("demo", "later")))
	require.NoError(t, s.Close())
	require.Equal(t, 2, countRecords(t, db))

	require.NoError(t, m.Restore(ctx, res.Path))
	assert.Equal(t, 1, countRecords(t, db))
	assert.NoFileExists(t, db+".pre-restore")
	assert.Equal(t, "backup: database restored", hook.LastEntry().Message)
}

func TestRestore_RejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	db := seedDB(t, dir, "kept")
	m, err := New(Config{DBPath: db, Dir: filepath.Join(dir, "backups")})
	require.NoError(t, err)

	bogus := filepath.Join(dir, "bogus.db")
	require.NoError(t, os.WriteFile(bogus, bytes.Repeat([]byte("not a database "), 100), 0o600))

	assert.Error(t, m.Restore(context.Background(), bogus))
	assert.Equal(t, 1, countRecords(t, db), "original database untouched")
}

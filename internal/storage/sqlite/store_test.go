package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/storage/storagetest"
	"github.com/scrypster/goldfish/pkg/types"
)

func openTestStore(t *testing.T, now func() time.Time) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	dsn := filepath.Join(t.TempDir(), "goldfish.db")
	s, err := Open(context.Background(), dsn, storage.WithClock(now), storage.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixedClock() time.Time { return storagetest.Now }

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, now func() time.Time) storage.RecordStore {
		return openTestStore(t, now)
	})
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "goldfish.db")

	s, err := Open(ctx, dsn, storage.WithClock(fixedClock))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, storagetest.Checkpoint("demo", "persisted")))
	require.NoError(t, s.Close())

	s, err = Open(ctx, dsn, storage.WithClock(fixedClock))
	require.NoError(t, err)
	defer s.Close()

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFullTextSearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, fixedClock)

	auth := storagetest.Checkpoint("demo", "rotated the JWT signing keys", "auth")
	cache := storagetest.Checkpoint("demo", "tuned the redis cache eviction", "perf")
	plan := &types.Plan{Workspace: "demo", Title: "Harden auth", Description: "key rotation runbook", Category: "security"}
	elsewhere := storagetest.Checkpoint("other", "JWT audit")
	for _, e := range []types.Entity{auth, cache, plan, elsewhere} {
		require.NoError(t, s.Save(ctx, e))
	}

	ids, err := s.FullTextSearch(ctx, "demo", "jwt", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.ID}, ids)

	ids, err = s.FullTextSearch(ctx, "demo", "rotat", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{auth.ID, plan.ID}, ids, "terms are prefix matched")

	ids, err = s.FullTextSearch(ctx, "demo", "security", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{plan.ID}, ids, "plan category is indexed as a tag")

	ids, err = s.FullTextSearch(ctx, "demo", "the is a", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFullTextSearch_FollowsUpdatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, fixedClock)

	note := &types.MemoryItem{Workspace: "demo", Kind: types.KindGeneral, Content: types.TextContent("flaky websocket test")}
	require.NoError(t, s.Save(ctx, note))

	note.Content = types.TextContent("stable websocket test")
	require.NoError(t, s.Save(ctx, note))

	ids, err := s.FullTextSearch(ctx, "demo", "flaky", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = s.FullTextSearch(ctx, "demo", "stable", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{note.ID}, ids)

	require.NoError(t, s.Delete(ctx, "demo", types.KindGeneral, note.ID))
	ids, err = s.FullTextSearch(ctx, "demo", "websocket", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSave_DanglingReferencesStoredEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, fixedClock)

	list := &types.TodoList{Workspace: "demo", Title: "orphan", SourcePlanID: "20260101000000000-00000001-0123456789abcdef0123456789abcdef"}
	require.NoError(t, s.Save(ctx, list))

	got, err := s.Load(ctx, "demo", types.KindTodoList, list.ID)
	require.NoError(t, err)
	assert.Empty(t, got.(*types.TodoList).SourcePlanID)
}

func TestLoadAll_SkipsCorruptRows(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "goldfish.db"), storage.WithClock(fixedClock), storage.WithLogger(logger))
	require.NoError(t, err)
	defer s.Close()

	good := storagetest.Checkpoint("demo", "fine")
	bad := storagetest.Checkpoint("demo", "about to be mangled")
	require.NoError(t, s.Save(ctx, good))
	require.NoError(t, s.Save(ctx, bad))

	_, err = s.DB().ExecContext(ctx, `UPDATE checkpoints SET content = '[not json' WHERE id = ?`, bad.ID)
	require.NoError(t, err)

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, good.ID, all[0].EntityID())

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["table"] == "checkpoints" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestLoad_InvalidInput(t *testing.T) {
	s := openTestStore(t, fixedClock)
	_, err := s.Load(context.Background(), "demo", types.Kind("bogus"), "x")
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestSanitiseFTSQuery(t *testing.T) {
	cases := map[string]string{
		"What is the cache?":       `"cache"*`,
		"JWT rotation bug":         `"jwt"* OR "rotation"* OR "bug"*`,
		`"quoted" (group) AND-not`: `"quoted"* OR "group"*`,
		"the a is":                 "",
		"":                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitiseFTSQuery(in), in)
	}
}

func TestDBPathFromDSN(t *testing.T) {
	assert.Equal(t, "", dbPathFromDSN(":memory:"))
	assert.Equal(t, "", dbPathFromDSN("file::memory:?cache=shared"))
	assert.Equal(t, "/tmp/g.db", dbPathFromDSN("/tmp/g.db"))
	assert.Equal(t, "/tmp/g.db", dbPathFromDSN("file:/tmp/g.db?mode=rwc"))
}

func TestIsRecoverableWALError(t *testing.T) {
	assert.False(t, isRecoverableWALError(nil))
	assert.True(t, isRecoverableWALError(errors.New("disk I/O error (5386)")))
	assert.True(t, isRecoverableWALError(errors.New("database is locked")))
	assert.False(t, isRecoverableWALError(errors.New("no such table")))
}

func TestRemoveStaleWAL(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "g.db")
	require.NoError(t, os.WriteFile(db+"-wal", []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(db+"-shm", []byte("x"), 0o600))

	removeStaleWAL(logrus.New(), db)
	assert.False(t, fileExists(db+"-wal"))
	assert.False(t, fileExists(db+"-shm"))
}

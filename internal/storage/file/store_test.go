package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
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

var fixedNow = time.Date(2026, 4, 10, 15, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s, err := New(t.TempDir(),
		storage.WithLogger(logger),
		storage.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, hook
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, now func() time.Time) storage.RecordStore {
		s, err := New(t.TempDir(), storage.WithClock(now), storage.WithLogger(logrus.New()))
		require.NoError(t, err)
		return s
	})
}

func checkpoint(ws, desc string, tags ...string) *types.MemoryItem {
	return &types.MemoryItem{
		Workspace: ws,
		Kind:      types.KindCheckpoint,
		Content: types.StructuredContent(types.CheckpointContent{
			Description: desc,
			Highlights:  []string{"highlight of " + desc},
			ActiveFiles: []string{"main.go"},
			GitBranch:   "main",
		}),
		Tags: tags,
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	cp := checkpoint("demo", "wired the cache", "cache")
	cp.SessionID = "sess-1"
	cp.TTLHours = 48
	require.NoError(t, s.Save(ctx, cp))
	require.NotEmpty(t, cp.ID)

	path := filepath.Join(s.Root(), "demo", PartitionCheckpoints, "2026-04-10", cp.ID+".json")
	assert.FileExists(t, path)

	got, err := s.Load(ctx, "demo", types.KindCheckpoint, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp, got)

	note := &types.MemoryItem{Workspace: "Demo", Kind: types.KindTodoNote, Content: types.TextContent("call back")}
	require.NoError(t, s.Save(ctx, note))
	assert.Equal(t, "demo", note.Workspace, "workspace is normalized on save")
	assert.FileExists(t, filepath.Join(s.Root(), "demo", PartitionTasks, note.ID+".json"))

	got, err = s.Load(ctx, "demo", types.KindTodoNote, note.ID)
	require.NoError(t, err)
	assert.Equal(t, note, got)
}

func TestSaveLoad_AllEntityKinds(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	plan := &types.Plan{Workspace: "demo", Title: "Ship v2", Items: []string{"a", "b"}, Category: "release"}
	require.NoError(t, s.Save(ctx, plan))

	list := plan.GenerateTodoList(fixedNow)
	require.NoError(t, s.Save(ctx, list))

	entry := &types.ChronicleEntry{Workspace: "demo", Kind: types.ChronicleDecision, Description: "use sqlite", RelatedPlanID: plan.ID}
	require.NoError(t, s.Save(ctx, entry))

	for _, e := range []types.Entity{plan, list, entry} {
		got, err := s.Load(ctx, "demo", e.EntityKind(), e.EntityID())
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}
}

func TestLoad_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Load(ctx, "demo", types.KindPlan, "20260101000000000-00000001-abc")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = s.Load(ctx, "demo", types.KindCheckpoint, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = s.Load(ctx, "demo", types.KindPlan, "../escape")
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}

func TestLoad_CheckpointWithForeignID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	cp := checkpoint("demo", "imported")
	cp.ID = "imported-checkpoint"
	require.NoError(t, s.Save(ctx, cp))

	got, err := s.Load(ctx, "demo", types.KindCheckpoint, "imported-checkpoint")
	require.NoError(t, err)
	assert.Equal(t, "imported", got.(*types.MemoryItem).Content.Description())
}

func TestSave_InterruptedRenameKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	plan := &types.Plan{Workspace: "demo", Title: "v1"}
	require.NoError(t, s.Save(ctx, plan))

	rename = func(string, string) error { return errors.New("simulated crash") }
	t.Cleanup(func() { rename = os.Rename })

	plan.Title = "v2"
	err := s.Save(ctx, plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrWriteFailure))

	got, err := s.Load(ctx, "demo", types.KindPlan, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.(*types.Plan).Title)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "demo", PartitionPlans))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestSave_InterruptedFirstWriteLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	rename = func(string, string) error { return errors.New("simulated crash") }
	t.Cleanup(func() { rename = os.Rename })

	plan := &types.Plan{Workspace: "demo", Title: "never visible"}
	require.Error(t, s.Save(ctx, plan))

	_, err := s.Load(ctx, "demo", types.KindPlan, plan.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLoadAll_IgnoresTempAndCorruptFiles(t *testing.T) {
	ctx := context.Background()
	s, hook := newTestStore(t)

	good := &types.MemoryItem{Workspace: "demo", Kind: types.KindGeneral, Content: types.TextContent("ok")}
	require.NoError(t, s.Save(ctx, good))

	dir := filepath.Join(s.Root(), "demo", PartitionTasks)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "."+good.ID+".json.tmp-123"), []byte(`{"id":`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{not json`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`hello`), 0o600))

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, good.ID, all[0].EntityID())

	var warned bool
	for _, e := range hook.AllEntries() {
		path, _ := e.Data["path"].(string)
		if e.Level == logrus.WarnLevel && strings.Contains(path, "broken.json") {
			warned = true
		}
	}
	assert.True(t, warned, "corrupt record should be logged")
}

func TestLoadAll_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		m := &types.MemoryItem{
			Workspace: "demo",
			Kind:      types.KindContext,
			Content:   types.TextContent("ctx"),
			CreatedAt: fixedNow.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Save(ctx, m))
		ids = append(ids, m.ID)
	}
	cp := checkpoint("demo", "latest")
	cp.CreatedAt = fixedNow.Add(time.Hour)
	require.NoError(t, s.Save(ctx, cp))

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, cp.ID, all[0].EntityID())
	assert.Equal(t, ids[2], all[1].EntityID())
	assert.Equal(t, ids[0], all[3].EntityID())
}

func TestLoadAll_UnknownWorkspaceIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	all, err := s.LoadAll(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSave_SingleActiveTodoList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	first := &types.TodoList{Workspace: "demo", Title: "first", IsActive: true}
	require.NoError(t, s.Save(ctx, first))
	second := &types.TodoList{Workspace: "demo", Title: "second", IsActive: true}
	require.NoError(t, s.Save(ctx, second))
	other := &types.TodoList{Workspace: "elsewhere", Title: "other", IsActive: true}
	require.NoError(t, s.Save(ctx, other))

	got, err := s.Load(ctx, "demo", types.KindTodoList, first.ID)
	require.NoError(t, err)
	assert.False(t, got.(*types.TodoList).IsActive)

	got, err = s.Load(ctx, "elsewhere", types.KindTodoList, other.ID)
	require.NoError(t, err)
	assert.True(t, got.(*types.TodoList).IsActive, "other workspaces are untouched")

	active := 0
	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	for _, e := range all {
		if l, ok := e.(*types.TodoList); ok && l.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestSave_SingleActivePlan(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	old := &types.Plan{Workspace: "demo", Title: "old", Status: types.PlanActive}
	require.NoError(t, s.Save(ctx, old))
	next := &types.Plan{Workspace: "demo", Title: "new", Status: types.PlanActive}
	require.NoError(t, s.Save(ctx, next))

	got, err := s.Load(ctx, "demo", types.KindPlan, old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanComplete, got.(*types.Plan).Status)

	got, err = s.Load(ctx, "demo", types.KindPlan, next.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PlanActive, got.(*types.Plan).Status)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	cp := checkpoint("demo", "to delete")
	require.NoError(t, s.Save(ctx, cp))
	require.NoError(t, s.Delete(ctx, "demo", types.KindCheckpoint, cp.ID))

	_, err := s.Load(ctx, "demo", types.KindCheckpoint, cp.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.NoDirExists(t, filepath.Join(s.Root(), "demo", PartitionCheckpoints, "2026-04-10"))

	err = s.Delete(ctx, "demo", types.KindCheckpoint, cp.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDiscoverWorkspaces(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, checkpoint("alpha", "a")))
	require.NoError(t, s.Save(ctx, &types.MemoryItem{Workspace: "beta", Kind: types.KindGeneral, Content: types.TextContent("b")}))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "random-dir", "stuff"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), ".hidden", PartitionTasks), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "loose.json"), []byte("{}"), 0o600))

	assert.Equal(t, []string{"alpha", "beta"}, s.DiscoverWorkspaces(ctx, ""))
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, s.DiscoverWorkspaces(ctx, "Gamma"))
}

func TestDiscoverWorkspaces_RootFailureDegrades(t *testing.T) {
	s, hook := newTestStore(t)
	s.root = filepath.Join(s.root, "does-not-exist")

	assert.Equal(t, []string{"current"}, s.DiscoverWorkspaces(context.Background(), "current"))
	assert.NotEmpty(t, hook.AllEntries())
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	expired := checkpoint("demo", "old news")
	expired.TTLHours = 1
	expired.CreatedAt = fixedNow.Add(-2 * time.Hour)
	require.NoError(t, s.Save(ctx, expired))

	fresh := &types.MemoryItem{Workspace: "demo", Kind: types.KindGeneral, Content: types.TextContent("fresh"), TTLHours: 24}
	require.NoError(t, s.Save(ctx, fresh))

	forever := &types.MemoryItem{Workspace: "other", Kind: types.KindContext, Content: types.TextContent("keep"), CreatedAt: fixedNow.AddDate(-1, 0, 0)}
	require.NoError(t, s.Save(ctx, forever))

	stale := &types.MemoryItem{Workspace: "other", Kind: types.KindTodoNote, Content: types.TextContent("stale"), TTLHours: 1, CreatedAt: fixedNow.Add(-90 * time.Minute)}
	require.NoError(t, s.Save(ctx, stale))

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, fresh.ID, all[0].EntityID())

	all, err = s.LoadAll(ctx, "other")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, forever.ID, all[0].EntityID())
}

func TestSave_ConcurrentWritersDifferentRecords(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Save(ctx, &types.MemoryItem{Workspace: "demo", Kind: types.KindGeneral, Content: types.TextContent("x")})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestParsePath(t *testing.T) {
	s, _ := newTestStore(t)

	loc, ok := s.ParsePath(filepath.Join(s.Root(), "demo", PartitionCheckpoints, "2026-04-10", "abc.json"))
	require.True(t, ok)
	assert.Equal(t, Location{Workspace: "demo", Partition: PartitionCheckpoints, Kind: types.KindCheckpoint, ID: "abc"}, loc)

	loc, ok = s.ParsePath(filepath.Join(s.Root(), "demo", PartitionPlans, "p1.json"))
	require.True(t, ok)
	assert.Equal(t, types.KindPlan, loc.Kind)

	for _, p := range []string{
		filepath.Join(s.Root(), "demo", PartitionPlans, ".p1.json.tmp-1"),
		filepath.Join(s.Root(), "demo", "unknown", "p1.json"),
		filepath.Join(s.Root(), "demo", PartitionCheckpoints, "p1.json"),
		filepath.Join(filepath.Dir(s.Root()), "elsewhere", PartitionPlans, "p1.json"),
	} {
		_, ok := s.ParsePath(p)
		assert.False(t, ok, p)
	}
}

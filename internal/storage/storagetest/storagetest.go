// Package storagetest provides a behavioural test suite that every
// storage.RecordStore implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/pkg/types"
)

// Now is the instant the suite's clock reports.
var Now = time.Date(2026, 4, 10, 15, 30, 0, 0, time.UTC)

// Factory returns an empty store whose clock is now. The factory registers
// its own cleanup.
type Factory func(t *testing.T, now func() time.Time) storage.RecordStore

// Run runs the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	clock := func() time.Time { return Now }

	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t, clock)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t, clock)) })
	t.Run("LoadAllOrderAndIsolation", func(t *testing.T) { testLoadAll(t, newStore(t, clock)) })
	t.Run("SingleActiveTodoList", func(t *testing.T) { testSingleActiveTodo(t, newStore(t, clock)) })
	t.Run("SingleActivePlan", func(t *testing.T) { testSingleActivePlan(t, newStore(t, clock)) })
	t.Run("UpdateInPlace", func(t *testing.T) { testUpdate(t, newStore(t, clock)) })
	t.Run("KindChange", func(t *testing.T) { testKindChange(t, newStore(t, clock)) })
	t.Run("KindMismatch", func(t *testing.T) { testKindMismatch(t, newStore(t, clock)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t, clock)) })
	t.Run("DiscoverWorkspaces", func(t *testing.T) { testDiscover(t, newStore(t, clock)) })
	t.Run("CleanupExpired", func(t *testing.T) { testCleanup(t, newStore(t, clock)) })
	t.Run("GenerateID", func(t *testing.T) { testGenerateID(t, newStore(t, clock)) })
}

// Checkpoint builds a structured checkpoint for tests.
func Checkpoint(ws, desc string, tags ...string) *types.MemoryItem {
	return &types.MemoryItem{
		Workspace: ws,
		Kind:      types.KindCheckpoint,
		Content: types.StructuredContent(types.CheckpointContent{
			Description: desc,
			Highlights:  []string{"highlight: " + desc},
			ActiveFiles: []string{"internal/cache.go"},
			WorkContext: "refactoring",
			GitBranch:   "main",
		}),
		Tags: tags,
	}
}

func testRoundTrip(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	cp := Checkpoint("demo", "wired the cache", "cache", "perf")
	cp.SessionID = "sess-1"
	cp.TTLHours = 72
	note := &types.MemoryItem{Workspace: "demo", Kind: types.KindTodoNote, Content: types.TextContent("ask about retries")}
	plan := &types.Plan{
		Workspace:   "demo",
		Title:       "Ship v2",
		Description: "Release the second major version",
		Items:       []string{"freeze api", "write notes", "tag"},
		Discoveries: []string{"ci is slow"},
		Category:    "release",
		Priority:    "high",
	}

	for _, e := range []types.Entity{cp, note, plan} {
		require.NoError(t, s.Save(ctx, e))
		require.NotEmpty(t, e.EntityID())
	}

	list := plan.GenerateTodoList(Now)
	require.NoError(t, s.Save(ctx, list))

	entry := &types.ChronicleEntry{
		Workspace:     "demo",
		Kind:          types.ChronicleDecision,
		Description:   "ship without the beta flag",
		RelatedPlanID: plan.ID,
		RelatedTodoID: list.ID,
	}
	require.NoError(t, s.Save(ctx, entry))

	for _, e := range []types.Entity{cp, note, plan, list, entry} {
		got, err := s.Load(ctx, "demo", e.EntityKind(), e.EntityID())
		require.NoError(t, err, "load %s", e.EntityKind())
		assert.Equal(t, e, got, "round trip of %s", e.EntityKind())
	}
}

func testNotFound(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()
	for _, kind := range types.AllKinds {
		_, err := s.Load(ctx, "demo", kind, "20260101000000000-00000001-00000000000000000000000000000000")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "kind %s: %v", kind, err)
	}

	require.NoError(t, s.Save(ctx, Checkpoint("demo", "exists")))
	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	_, err = s.Load(ctx, "elsewhere", types.KindCheckpoint, all[0].EntityID())
	assert.True(t, errors.Is(err, storage.ErrNotFound), "records are scoped by workspace")
}

func testLoadAll(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	older := Checkpoint("a", "older")
	older.CreatedAt = Now.Add(-2 * time.Hour)
	newer := &types.MemoryItem{Workspace: "a", Kind: types.KindGeneral, Content: types.TextContent("newer"), CreatedAt: Now.Add(-time.Hour)}
	plan := &types.Plan{Workspace: "a", Title: "newest"}
	other := Checkpoint("b", "other workspace")

	for _, e := range []types.Entity{older, newer, plan, other} {
		require.NoError(t, s.Save(ctx, e))
	}

	all, err := s.LoadAll(ctx, "a")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, plan.ID, all[0].EntityID())
	assert.Equal(t, newer.ID, all[1].EntityID())
	assert.Equal(t, older.ID, all[2].EntityID())

	empty, err := s.LoadAll(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func activeLists(t *testing.T, s storage.RecordStore, ws string) []string {
	t.Helper()
	all, err := s.LoadAll(context.Background(), ws)
	require.NoError(t, err)
	var ids []string
	for _, e := range all {
		if l, ok := e.(*types.TodoList); ok && l.IsActive {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

func testSingleActiveTodo(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	first := &types.TodoList{Workspace: "demo", Title: "first", IsActive: true, Items: []types.TodoItem{{Content: "a"}}}
	require.NoError(t, s.Save(ctx, first))
	other := &types.TodoList{Workspace: "other", Title: "other", IsActive: true}
	require.NoError(t, s.Save(ctx, other))
	second := &types.TodoList{Workspace: "demo", Title: "second", IsActive: true}
	require.NoError(t, s.Save(ctx, second))

	assert.Equal(t, []string{second.ID}, activeLists(t, s, "demo"))
	assert.Equal(t, []string{other.ID}, activeLists(t, s, "other"))

	// Re-saving the active list keeps it active.
	require.NoError(t, s.Save(ctx, second))
	assert.Equal(t, []string{second.ID}, activeLists(t, s, "demo"))

	got, err := s.Load(ctx, "demo", types.KindTodoList, first.ID)
	require.NoError(t, err)
	assert.Len(t, got.(*types.TodoList).Items, 1, "demotion keeps items")
}

func testSingleActivePlan(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	old := &types.Plan{Workspace: "demo", Title: "old", Status: types.PlanActive}
	require.NoError(t, s.Save(ctx, old))
	draft := &types.Plan{Workspace: "demo", Title: "draft"}
	require.NoError(t, s.Save(ctx, draft))
	next := &types.Plan{Workspace: "demo", Title: "next", Status: types.PlanActive}
	require.NoError(t, s.Save(ctx, next))

	want := map[string]types.PlanStatus{
		old.ID:   types.PlanComplete,
		draft.ID: types.PlanDraft,
		next.ID:  types.PlanActive,
	}
	for id, status := range want {
		got, err := s.Load(ctx, "demo", types.KindPlan, id)
		require.NoError(t, err)
		assert.Equal(t, status, got.(*types.Plan).Status, id)
	}
}

func testUpdate(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	list := &types.TodoList{Workspace: "demo", Title: "work", Items: []types.TodoItem{{Content: "a"}, {Content: "b"}}}
	require.NoError(t, s.Save(ctx, list))

	list.SetStatus(types.TodoDone, Now)
	list.Items = append(list.Items, types.TodoItem{ID: "3", Content: "c", Status: types.TodoActive, CreatedAt: Now})
	require.NoError(t, s.Save(ctx, list))

	got, err := s.Load(ctx, "demo", types.KindTodoList, list.ID)
	require.NoError(t, err)
	l := got.(*types.TodoList)
	require.Len(t, l.Items, 3)
	assert.Equal(t, types.TodoDone, l.Items[0].Status)
	assert.Equal(t, "c", l.Items[2].Content)
	assert.Nil(t, l.CompletedAt)

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, all, 1, "saving twice must not duplicate")
}

func testKindChange(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	item := Checkpoint("demo", "reclassified")
	require.NoError(t, s.Save(ctx, item))

	item.Kind = types.KindGeneral
	require.NoError(t, s.Save(ctx, item))

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, all, 1, "a re-saved item must not leave its old kind behind")
	assert.Equal(t, types.KindGeneral, all[0].EntityKind())

	_, err = s.Load(ctx, "demo", types.KindCheckpoint, item.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	item.Kind = types.KindCheckpoint
	require.NoError(t, s.Save(ctx, item))
	all, err = s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.KindCheckpoint, all[0].EntityKind())
}

func testKindMismatch(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	note := &types.MemoryItem{Workspace: "demo", Kind: types.KindGeneral, Content: types.TextContent("general note")}
	require.NoError(t, s.Save(ctx, note))

	for _, kind := range []types.Kind{types.KindTodoNote, types.KindContext, types.KindCheckpoint} {
		_, err := s.Load(ctx, "demo", kind, note.ID)
		assert.True(t, errors.Is(err, storage.ErrNotFound), kind)
		assert.True(t, errors.Is(s.Delete(ctx, "demo", kind, note.ID), storage.ErrNotFound), kind)
	}

	got, err := s.Load(ctx, "demo", types.KindGeneral, note.ID)
	require.NoError(t, err)
	assert.Equal(t, note.ID, got.EntityID())
}

func testDelete(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	cp := Checkpoint("demo", "temporary")
	require.NoError(t, s.Save(ctx, cp))
	require.NoError(t, s.Delete(ctx, "demo", types.KindCheckpoint, cp.ID))

	_, err := s.Load(ctx, "demo", types.KindCheckpoint, cp.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "demo", types.KindCheckpoint, cp.ID), storage.ErrNotFound))
}

func testDiscover(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Checkpoint("alpha", "a")))
	require.NoError(t, s.Save(ctx, &types.Plan{Workspace: "beta", Title: "b"}))

	assert.Equal(t, []string{"alpha", "beta"}, s.DiscoverWorkspaces(ctx, ""))
	assert.Equal(t, []string{"alpha", "beta", "zeta"}, s.DiscoverWorkspaces(ctx, "Zeta"))
}

func testCleanup(t *testing.T, s storage.RecordStore) {
	ctx := context.Background()

	expired := Checkpoint("demo", "stale")
	expired.TTLHours = 1
	expired.CreatedAt = Now.Add(-2 * time.Hour)
	fresh := &types.MemoryItem{Workspace: "demo", Kind: types.KindContext, Content: types.TextContent("fresh"), TTLHours: 1}
	permanent := &types.MemoryItem{Workspace: "other", Kind: types.KindGeneral, Content: types.TextContent("keep"), CreatedAt: Now.AddDate(-1, 0, 0)}
	plan := &types.Plan{Workspace: "demo", Title: "plans never expire", CreatedAt: Now.AddDate(-1, 0, 0)}

	for _, e := range []types.Entity{expired, fresh, permanent, plan} {
		require.NoError(t, s.Save(ctx, e))
	}

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := s.LoadAll(ctx, "demo")
	require.NoError(t, err)
	var ids []string
	for _, e := range all {
		ids = append(ids, e.EntityID())
	}
	assert.ElementsMatch(t, []string{fresh.ID, plan.ID}, ids)

	n, err = s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testGenerateID(t *testing.T, s storage.RecordStore) {
	a, b := s.GenerateID(), s.GenerateID()
	assert.NotEqual(t, a, b)
	_, ok := storage.IDTime(a)
	assert.True(t, ok)
}

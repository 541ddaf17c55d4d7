package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/goldfish/internal/relations"
	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/storage/file"
	"github.com/scrypster/goldfish/pkg/types"
)

type call struct {
	op        string
	workspace string
	kind      types.Kind
	id        string
}

type recorder struct {
	calls chan call
}

func newRecorder() *recorder { return &recorder{calls: make(chan call, 64)} }

func (r *recorder) Update(_ context.Context, e types.Entity) error {
	r.calls <- call{"update", e.EntityWorkspace(), e.EntityKind(), e.EntityID()}
	return nil
}

func (r *recorder) Remove(_ context.Context, ws string, kind types.Kind, id string) error {
	r.calls <- call{"remove", ws, kind, id}
	return nil
}

// waitFor drains calls until one matches want.
func (r *recorder) waitFor(t *testing.T, want call) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-r.calls:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %+v", want)
		}
	}
}

func startWatcher(t *testing.T, idx Index) (*file.Store, *Watcher) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store, err := file.New(t.TempDir(), storage.WithLogger(logger))
	require.NoError(t, err)

	// An existing workspace whose directories are watched from the start.
	require.NoError(t, store.Save(context.Background(), &types.Plan{Workspace: "demo", Title: "Seed"}))

	w := New(store, idx, WithLogger(logger))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)
	return store, w
}

func TestWatcher_FoldsSavesAndDeletes(t *testing.T) {
	rec := newRecorder()
	store, _ := startWatcher(t, rec)
	ctx := context.Background()

	plan := &types.Plan{Workspace: "demo", Title: "Ship v2"}
	require.NoError(t, store.Save(ctx, plan))
	rec.waitFor(t, call{"update", "demo", types.KindPlan, plan.ID})

	require.NoError(t, store.Delete(ctx, "demo", types.KindPlan, plan.ID))
	rec.waitFor(t, call{"remove", "demo", types.KindPlan, plan.ID})
}

func TestWatcher_PicksUpNewWorkspaces(t *testing.T) {
	rec := newRecorder()
	store, _ := startWatcher(t, rec)
	ctx := context.Background()

	cp := &types.MemoryItem{
		Workspace: "fresh",
		Kind:      types.KindCheckpoint,
		Content:   types.TextContent("first checkpoint"),
	}
	require.NoError(t, store.Save(ctx, cp))
	rec.waitFor(t, call{"update", "fresh", types.KindCheckpoint, cp.ID})

	// The new date folder is watched now.
	time.Sleep(50 * time.Millisecond)
	second := &types.MemoryItem{Workspace: "fresh", Kind: types.KindCheckpoint, Content: types.TextContent("again")}
	require.NoError(t, store.Save(ctx, second))
	rec.waitFor(t, call{"update", "fresh", types.KindCheckpoint, second.ID})
}

func TestWatcher_IgnoresTempFiles(t *testing.T) {
	rec := newRecorder()
	store, _ := startWatcher(t, rec)

	tmp := filepath.Join(store.Root(), "demo", file.PartitionPlans, ".tmp-123.json")
	require.NoError(t, os.WriteFile(tmp, []byte("{"), 0o600))
	require.NoError(t, os.Remove(tmp))

	plan := &types.Plan{Workspace: "demo", Title: "After temp"}
	require.NoError(t, store.Save(context.Background(), plan))

	select {
	case got := <-rec.calls:
		assert.Equal(t, call{"update", "demo", types.KindPlan, plan.ID}, got)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for plan update")
	}
}

func TestWatcher_MovedCheckpointStaysIndexed(t *testing.T) {
	rec := newRecorder()
	store, _ := startWatcher(t, rec)
	ctx := context.Background()

	cp := &types.MemoryItem{Workspace: "demo", Kind: types.KindCheckpoint, Content: types.TextContent("moving")}
	require.NoError(t, store.Save(ctx, cp))
	rec.waitFor(t, call{"update", "demo", types.KindCheckpoint, cp.ID})
	time.Sleep(50 * time.Millisecond)

	cp.CreatedAt = cp.CreatedAt.AddDate(0, 0, -3)
	require.NoError(t, store.Save(ctx, cp))

	// The old file's removal is reported as an update because the record
	// still exists under its new date folder.
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case got := <-rec.calls:
			assert.NotEqual(t, "remove", got.op)
		case <-deadline:
			return
		}
	}
}

func TestWatcher_UpdatesRelationshipIndex(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store, err := file.New(t.TempDir(), storage.WithLogger(logger))
	require.NoError(t, err)
	ctx := context.Background()

	plan := &types.Plan{Workspace: "demo", Title: "Ship v2", Items: []string{"a", "b"}}
	require.NoError(t, store.Save(ctx, plan))

	idx := relations.New(store, relations.WithLogger(logger))
	records, err := idx.List(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, records, 1)

	w := New(store, idx, WithLogger(logger))
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	// Another process writes a TODO list generated from the plan.
	list := plan.GenerateTodoList(time.Now())
	require.NoError(t, store.Save(ctx, list))

	assert.Eventually(t, func() bool {
		rec, err := idx.Get(ctx, "demo", plan.ID)
		return err == nil && len(rec.LinkedTodoIDs) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_StopsWithContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store, err := file.New(t.TempDir(), storage.WithLogger(logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w := New(store, newRecorder(), WithLogger(logger))
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not exit")
	}
	w.Stop() // safe after the loop exited
}

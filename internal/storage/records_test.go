package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/goldfish/pkg/types"
)

func TestDecode(t *testing.T) {
	e, err := Decode(types.KindGeneral, []byte(`{"id":"x","timestamp":"2026-01-01T00:00:00Z","workspace":"w","kind":"context","content":"hi","ttlHours":0,"tags":[]}`))
	require.NoError(t, err)
	m := e.(*types.MemoryItem)
	assert.Equal(t, types.KindContext, m.Kind)
	assert.Equal(t, "hi", m.Content.Text)

	_, err = Decode(types.KindPlan, []byte(`{"id":`))
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = Decode(types.KindPlan, []byte(`{"title":"no id"}`))
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = Decode(types.KindGeneral, []byte(`{"id":"x","kind":"plan"}`))
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = Decode("bogus", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestPrepare(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ids := NewProcessIDGenerator(1, func() time.Time { return now })

	m := &types.MemoryItem{Workspace: "demo", Kind: types.KindCheckpoint}
	require.NoError(t, Prepare(m, ids, now))
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, now, m.CreatedAt)

	err := Prepare(&types.MemoryItem{Kind: types.KindCheckpoint}, ids, now)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = Prepare(&types.MemoryItem{Workspace: "demo", Kind: "weird"}, ids, now)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = Prepare(&types.Plan{Workspace: "demo", Status: "paused"}, ids, now)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = Prepare(&types.MemoryItem{Workspace: "demo", Kind: types.KindGeneral, TTLHours: -1}, ids, now)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestSortNewestFirst(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entities := []types.Entity{
		&types.MemoryItem{ID: "a", CreatedAt: t0},
		&types.MemoryItem{ID: "c", CreatedAt: t0.Add(time.Hour)},
		&types.MemoryItem{ID: "b", CreatedAt: t0},
	}
	SortNewestFirst(entities)

	var got []string
	for _, e := range entities {
		got = append(got, e.EntityID())
	}
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestDemote(t *testing.T) {
	now := time.Now().UTC()
	oldList := &types.TodoList{ID: "l1", IsActive: true}
	idle := &types.TodoList{ID: "l2"}
	oldPlan := &types.Plan{ID: "p1", Status: types.PlanActive}

	incoming := &types.TodoList{ID: "l3", IsActive: true}
	changed := Demote(incoming, []types.Entity{oldList, idle, oldPlan, incoming}, now)
	require.Len(t, changed, 1)
	assert.False(t, oldList.IsActive)
	assert.Equal(t, types.PlanActive, oldPlan.Status, "plans are untouched by a list save")

	plan := &types.Plan{ID: "p2", Status: types.PlanActive}
	changed = Demote(plan, []types.Entity{oldPlan}, now)
	require.Len(t, changed, 1)
	assert.Equal(t, types.PlanComplete, oldPlan.Status)

	assert.Nil(t, Demote(&types.Plan{ID: "p3", Status: types.PlanDraft}, []types.Entity{plan}, now))
}

func TestPlaceholderRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"
	assert.Equal(t, q, Question.Rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", Dollar.Rebind(q))
}

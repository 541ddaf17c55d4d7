// Package relations maintains a derived, per-workspace index linking plans
// to the TODO lists generated from them and to related checkpoints.
//
// The index is a cache: every record can be recomputed from the store, and
// folding saves in one at a time yields the same records as a full rebuild.
package relations

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/workspace"
	"github.com/scrypster/goldfish/pkg/types"
)

// DefaultIdleTTL is how long an untouched workspace stays cached.
const DefaultIdleTTL = 30 * time.Minute

// Index is safe for concurrent use.
type Index struct {
	store storage.RecordStore
	log   logrus.FieldLogger

	mu     sync.Mutex
	states *cache.Cache
}

// Option configures an Index.
type Option func(*options)

type options struct {
	idleTTL time.Duration
	log     logrus.FieldLogger
}

// WithIdleTTL sets how long an untouched workspace stays cached.
func WithIdleTTL(d time.Duration) Option {
	return func(o *options) { o.idleTTL = d }
}

// WithLogger sets the index logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// New returns an empty index over store.
func New(store storage.RecordStore, opts ...Option) *Index {
	o := options{idleTTL: DefaultIdleTTL, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Index{
		store:  store,
		log:    o.log,
		states: cache.New(o.idleTTL, o.idleTTL/2+time.Second),
	}
}

// state is the subset of a workspace's entities that affect relationships.
type state struct {
	plans       map[string]*types.Plan
	lists       map[string]*types.TodoList
	checkpoints map[string]*types.MemoryItem

	records []types.RelationshipRecord // nil when stale
}

func newState() *state {
	return &state{
		plans:       make(map[string]*types.Plan),
		lists:       make(map[string]*types.TodoList),
		checkpoints: make(map[string]*types.MemoryItem),
	}
}

// Rebuild recomputes the workspace's relationships from the store.
func (x *Index) Rebuild(ctx context.Context, ws string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, err := x.rebuild(ctx, workspace.Normalize(ws))
	return err
}

func (x *Index) rebuild(ctx context.Context, ws string) (*state, error) {
	entities, err := x.store.LoadAll(ctx, ws)
	if err != nil {
		return nil, err
	}
	st := newState()
	// LoadAll is newest first; applying oldest first replays history.
	for i := len(entities) - 1; i >= 0; i-- {
		st.put(entities[i], false)
	}
	x.states.SetDefault(ws, st)
	x.log.WithFields(logrus.Fields{
		"workspace": ws,
		"plans":     len(st.plans),
	}).Debug("relations: workspace rebuilt")
	return st, nil
}

// stateFor returns the cached state, rebuilding it on first touch. Each
// access renews the idle expiry.
func (x *Index) stateFor(ctx context.Context, ws string) (*state, error) {
	if v, ok := x.states.Get(ws); ok {
		st := v.(*state)
		x.states.SetDefault(ws, st)
		return st, nil
	}
	return x.rebuild(ctx, ws)
}

// Update folds a saved entity into its workspace's relationships.
func (x *Index) Update(ctx context.Context, e types.Entity) error {
	if e == nil {
		return storage.InvalidInput("entity is required")
	}
	ws := workspace.Normalize(e.EntityWorkspace())
	x.mu.Lock()
	defer x.mu.Unlock()

	st, err := x.stateFor(ctx, ws)
	if err != nil {
		return err
	}
	st.put(e, true)
	return nil
}

// Remove drops an entity from its workspace's relationships.
func (x *Index) Remove(ctx context.Context, ws string, kind types.Kind, id string) error {
	ws = workspace.Normalize(ws)
	x.mu.Lock()
	defer x.mu.Unlock()

	v, ok := x.states.Get(ws)
	if !ok {
		return nil // rebuilt from the store on next access
	}
	st := v.(*state)
	switch kind {
	case types.KindPlan:
		delete(st.plans, id)
	case types.KindTodoList:
		delete(st.lists, id)
	case types.KindCheckpoint:
		delete(st.checkpoints, id)
	default:
		return nil
	}
	st.records = nil
	return nil
}

// Reset forgets a workspace; it is rebuilt on next access.
func (x *Index) Reset(ws string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.states.Delete(workspace.Normalize(ws))
}

// ResetAll forgets every workspace.
func (x *Index) ResetAll() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.states.Flush()
}

// Get returns the relationships of one plan.
func (x *Index) Get(ctx context.Context, ws, planID string) (types.RelationshipRecord, error) {
	records, err := x.List(ctx, ws)
	if err != nil {
		return types.RelationshipRecord{}, err
	}
	for _, r := range records {
		if r.PlanID == planID {
			return r, nil
		}
	}
	return types.RelationshipRecord{}, storage.NotFound(string(types.KindPlan), planID)
}

// List returns the relationships of every plan in the workspace, newest
// plan first.
func (x *Index) List(ctx context.Context, ws string) ([]types.RelationshipRecord, error) {
	ws = workspace.Normalize(ws)
	x.mu.Lock()
	defer x.mu.Unlock()

	st, err := x.stateFor(ctx, ws)
	if err != nil {
		return nil, err
	}
	if st.records == nil {
		st.records = st.compute()
	}
	out := make([]types.RelationshipRecord, len(st.records))
	for i, r := range st.records {
		out[i] = r.Clone()
	}
	return out, nil
}

// put records e. When live, the single-active demotion the store performs
// on save is mirrored.
func (st *state) put(e types.Entity, live bool) {
	switch v := e.(type) {
	case *types.Plan:
		p := *v
		p.Items = append([]string(nil), v.Items...)
		if live && p.Status == types.PlanActive {
			for id, other := range st.plans {
				if id != p.ID && other.Status == types.PlanActive {
					other.Status = types.PlanComplete
					other.UpdatedAt = p.UpdatedAt
				}
			}
		}
		st.plans[p.ID] = &p
	case *types.TodoList:
		l := *v
		l.Items = append([]types.TodoItem(nil), v.Items...)
		if live && l.IsActive {
			for id, other := range st.lists {
				if id != l.ID && other.IsActive {
					other.IsActive = false
					other.UpdatedAt = l.UpdatedAt
				}
			}
		}
		st.lists[l.ID] = &l
	case *types.MemoryItem:
		if v.Kind != types.KindCheckpoint {
			if _, ok := st.checkpoints[v.ID]; !ok {
				return
			}
			delete(st.checkpoints, v.ID)
			break
		}
		m := *v
		m.Tags = append([]string(nil), v.Tags...)
		st.checkpoints[m.ID] = &m
	default:
		return
	}
	st.records = nil
}

type linkedCheckpoint struct {
	id   string
	dist time.Duration
	tags []string
}

// compute derives every plan's record from the current state.
func (st *state) compute() []types.RelationshipRecord {
	plans := make([]*types.Plan, 0, len(st.plans))
	for _, p := range st.plans {
		plans = append(plans, p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })

	linked := make(map[string][]linkedCheckpoint)
	for _, cp := range st.checkpoints {
		planID, ok := ExplicitPlan(cp)
		if !ok || st.plans[planID] == nil {
			if planID, ok = LinkCheckpoint(cp, plans); !ok {
				continue
			}
		}
		linked[planID] = append(linked[planID], linkedCheckpoint{
			id:   cp.ID,
			dist: Distance(cp.CreatedAt, st.plans[planID]),
			tags: cp.Tags,
		})
	}

	lists := make(map[string][]*types.TodoList)
	for _, l := range st.lists {
		if l.SourcePlanID != "" {
			lists[l.SourcePlanID] = append(lists[l.SourcePlanID], l)
		}
	}

	records := make([]types.RelationshipRecord, 0, len(plans))
	for _, p := range plans {
		rec := types.RelationshipRecord{
			PlanID:              p.ID,
			PlanTitle:           p.Title,
			PlanStatus:          p.Status,
			LinkedTodoIDs:       []string{},
			LinkedCheckpointIDs: []string{},
		}

		planLists := lists[p.ID]
		sort.Slice(planLists, func(i, j int) bool { return planLists[i].ID < planLists[j].ID })
		for _, l := range planLists {
			rec.LinkedTodoIDs = append(rec.LinkedTodoIDs, l.ID)
			done, total := l.Progress()
			rec.DoneItems += done
			rec.TotalItems += total
		}
		rec.CompletionPercentage = completion(rec.DoneItems, rec.TotalItems)

		cps := linked[p.ID]
		sort.Slice(cps, func(i, j int) bool {
			if cps[i].dist != cps[j].dist {
				return cps[i].dist < cps[j].dist
			}
			return cps[i].id < cps[j].id
		})
		tags := make(map[string]bool)
		for _, c := range cps {
			rec.LinkedCheckpointIDs = append(rec.LinkedCheckpointIDs, c.id)
			for _, t := range c.tags {
				tags[t] = true
			}
		}
		if len(cps) > 0 {
			rec.PrimaryCheckpointID = cps[0].id
		}
		if p.Category != "" {
			tags[p.Category] = true
		}
		rec.Tags = make([]string, 0, len(tags))
		for t := range tags {
			rec.Tags = append(rec.Tags, t)
		}
		sort.Strings(rec.Tags)

		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := st.plans[records[i].PlanID], st.plans[records[j].PlanID]
		if !pi.CreatedAt.Equal(pj.CreatedAt) {
			return pi.CreatedAt.After(pj.CreatedAt)
		}
		return pi.ID > pj.ID
	})
	return records
}

func completion(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// Package search implements scoped, filtered and ranked fuzzy retrieval over
// a RecordStore, escalating from strict to fuzzy matching when a stricter
// pass under-returns.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/workspace"
	"github.com/scrypster/goldfish/pkg/types"
)

// Options describes a single search request.
type Options struct {
	Query     string
	Mode      Mode  // defaults to ModeAuto
	Scope     Scope // defaults to ScopeCurrent
	Workspace string
	Kinds     []types.Kind
	Tags      []string // all required, case-insensitive
	Since     string   // see ParseSince
	Limit     int
}

// Result is one ranked hit.
type Result struct {
	Entity    types.Entity `json:"entity"`
	Workspace string       `json:"workspace"`
	Kind      types.Kind   `json:"kind"`

	// Score is in [0, 1], 1 best. Unranked (empty query) results score 0.
	Score float64 `json:"score"`

	// Mode is the pass that produced the result.
	Mode Mode `json:"mode"`
}

// Engine runs searches against a store.
type Engine struct {
	store storage.RecordStore
	cfg   Config
	log   logrus.FieldLogger
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for skipped workspaces and delegation failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock sets the time source used for relative recency filters.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine reading from store.
func New(store storage.RecordStore, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   cfg,
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config { return e.cfg }

// candidate is a filtered entity with its precomputed search fields.
type candidate struct {
	entity types.Entity
	fields fields
}

// Search runs opts. An empty corpus yields an empty slice, never an error.
func (e *Engine) Search(ctx context.Context, opts Options) ([]Result, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if _, ok := e.cfg.Params(mode); !ok && mode != ModeAuto {
		return nil, storage.InvalidInput("unknown search mode %q", mode)
	}
	scope := opts.Scope
	if scope == "" {
		scope = ScopeCurrent
	}
	if scope != ScopeCurrent && scope != ScopeAll {
		return nil, storage.InvalidInput("unknown search scope %q", scope)
	}
	since, err := ParseSince(opts.Since, e.now())
	if err != nil {
		return nil, storage.InvalidInput("%v", err)
	}
	for _, k := range opts.Kinds {
		if !types.IsValidKind(k) {
			return nil, storage.InvalidInput("unknown kind %q", k)
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	current := workspace.Normalize(opts.Workspace)
	if scope == ScopeCurrent && current == "" {
		return nil, storage.InvalidInput("workspace is required for a current-scope search")
	}
	workspaces := []string{current}
	if scope == ScopeAll {
		workspaces = e.store.DiscoverWorkspaces(ctx, current)
	}

	pool, err := e.collect(ctx, workspaces, opts, since)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(opts.Query)
	if len(terms) == 0 {
		return newestFirst(pool, mode, limit), nil
	}

	passes := []Mode{mode}
	if mode == ModeAuto {
		passes = []Mode{ModeStrict, ModeNormal, ModeFuzzy}
	}

	results := []Result{}
	seen := make(map[string]bool)
	for _, pass := range passes {
		candidates := pool
		if pass == ModeStrict && e.cfg.DelegateFullText {
			candidates = e.delegate(ctx, workspaces, opts.Query, pool, limit)
		}
		found := e.rank(terms, candidates, pass)
		for _, r := range found {
			key := string(r.Kind) + "/" + r.Entity.EntityID()
			if seen[key] {
				continue
			}
			if mode == ModeAuto && pass == ModeFuzzy && r.Score < e.cfg.MinFuzzyScore {
				continue
			}
			seen[key] = true
			results = append(results, r)
		}
		if len(results) >= e.cfg.MinResults {
			break
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// collect loads every workspace and applies the kind, tag and recency
// filters. Unreadable workspaces are skipped.
func (e *Engine) collect(ctx context.Context, workspaces []string, opts Options, since time.Time) ([]candidate, error) {
	kinds := make(map[types.Kind]bool, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds[k] = true
	}

	var pool []candidate
	for _, ws := range workspaces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entities, err := e.store.LoadAll(ctx, ws)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"workspace": ws,
				"error":     err,
			}).Warn("search: skipping unreadable workspace")
			continue
		}
		for _, ent := range entities {
			if len(kinds) > 0 && !kinds[ent.EntityKind()] {
				continue
			}
			if !since.IsZero() && ent.Created().Before(since) {
				continue
			}
			f := fieldsOf(ent)
			if !hasAllTags(f.tagList, opts.Tags) {
				continue
			}
			pool = append(pool, candidate{entity: ent, fields: f.fields})
		}
	}
	return pool, nil
}

// delegate narrows pool to the entities the store's full-text index returns
// for query. Without an index, or when the index fails, pool is returned
// unchanged.
func (e *Engine) delegate(ctx context.Context, workspaces []string, query string, pool []candidate, limit int) []candidate {
	ts, ok := e.store.(storage.TextSearcher)
	if !ok {
		return pool
	}
	hits := make(map[string]bool)
	for _, ws := range workspaces {
		ids, err := ts.FullTextSearch(ctx, ws, query, limit*5)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"workspace": ws,
				"error":     err,
			}).Warn("search: full-text index unavailable, matching in process")
			return pool
		}
		for _, id := range ids {
			hits[id] = true
		}
	}
	out := make([]candidate, 0, len(hits))
	for _, c := range pool {
		if hits[c.entity.EntityID()] {
			out = append(out, c)
		}
	}
	return out
}

// rank scores candidates under one pass and orders them best first, ties
// broken by recency.
func (e *Engine) rank(terms []string, candidates []candidate, pass Mode) []Result {
	params, _ := e.cfg.Params(pass)
	var out []Result
	for _, c := range candidates {
		score, matched := scoreTerms(terms, c.fields, params, e.cfg.Weights)
		if matched == 0 || !satisfies(params.Require, matched, len(terms)) {
			continue
		}
		out = append(out, Result{
			Entity:    c.entity,
			Workspace: c.entity.EntityWorkspace(),
			Kind:      c.entity.EntityKind(),
			Score:     score,
			Mode:      pass,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return newer(out[i].Entity, out[j].Entity)
	})
	return out
}

func newestFirst(pool []candidate, mode Mode, limit int) []Result {
	out := make([]Result, 0, len(pool))
	for _, c := range pool {
		out = append(out, Result{
			Entity:    c.entity,
			Workspace: c.entity.EntityWorkspace(),
			Kind:      c.entity.EntityKind(),
			Mode:      mode,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i].Entity, out[j].Entity) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newer(a, b types.Entity) bool {
	if !a.Created().Equal(b.Created()) {
		return a.Created().After(b.Created())
	}
	return a.EntityID() > b.EntityID()
}

// queryTerms splits the query into lower-case terms. A query made only of
// stop words is searched word for word.
func queryTerms(q string) []string {
	if terms := storage.QueryTerms(q); len(terms) > 0 {
		return terms
	}
	return strings.Fields(strings.ToLower(q))
}

type entityFields struct {
	fields
	tagList []string
}

func fieldsOf(e types.Entity) entityFields {
	doc := storage.DocumentOf(e)
	return entityFields{
		fields: fields{
			content:    strings.ToLower(doc.Body),
			highlights: strings.ToLower(strings.Join(doc.Highlights, "\n")),
			tags:       strings.ToLower(strings.Join(doc.Tags, "\n")),
			workspace:  strings.ToLower(e.EntityWorkspace()),
			kind:       string(e.EntityKind()),
		},
		tagList: doc.Tags,
	}
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Package service is the boundary the tool layer calls. It ties the record
// store, the search engine and the relationship index together, normalizes
// workspace names on entry and converts every failure into a
// *storage.Error with a machine-readable code.
package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/relations"
	"github.com/scrypster/goldfish/internal/search"
	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/workspace"
	"github.com/scrypster/goldfish/pkg/types"
)

// Syncer receives saved records for replication. Enqueue must not block.
type Syncer interface {
	Enqueue(e types.Entity) bool
}

// Service coordinates the memory components.
type Service struct {
	store  storage.RecordStore
	index  *relations.Index
	engine *search.Engine
	sync   Syncer
	log    logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithSyncer forwards every successful save to sy.
func WithSyncer(sy Syncer) Option {
	return func(s *Service) { s.sync = sy }
}

// New returns a Service over already constructed components.
func New(store storage.RecordStore, index *relations.Index, engine *search.Engine, opts ...Option) *Service {
	s := &Service{
		store:  store,
		index:  index,
		engine: engine,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying record store.
func (s *Service) Store() storage.RecordStore { return s.store }

// Index returns the relationship index.
func (s *Service) Index() *relations.Index { return s.index }

// Close releases the store.
func (s *Service) Close() error { return s.store.Close() }

// Save persists e and folds it into the relationship index. The entity's
// workspace is normalized; its ID and timestamps are filled in place.
func (s *Service) Save(ctx context.Context, e types.Entity) (err error) {
	defer s.guard("save", &err)
	if e == nil {
		return storage.InvalidInput("entity is required")
	}
	if err := s.store.Save(ctx, e); err != nil {
		return boundary(err)
	}

	ws := e.EntityWorkspace()
	if err := s.index.Update(ctx, e); err != nil {
		// The record is durable; drop the cached state so the next read
		// rebuilds it from the store.
		s.log.WithFields(logrus.Fields{
			"workspace": ws,
			"id":        e.EntityID(),
			"error":     err,
		}).Warn("service: relationship update failed")
		s.index.Reset(ws)
	}
	if s.sync != nil {
		s.sync.Enqueue(e)
	}
	s.log.WithFields(logrus.Fields{
		"workspace": ws,
		"kind":      e.EntityKind(),
		"id":        e.EntityID(),
	}).Debug("service: saved")
	return nil
}

// Load returns one entity.
func (s *Service) Load(ctx context.Context, ws string, kind types.Kind, id string) (e types.Entity, err error) {
	defer s.guard("load", &err)
	ws, err = s.target(ws, kind, id)
	if err != nil {
		return nil, err
	}
	e, err = s.store.Load(ctx, ws, kind, id)
	return e, boundary(err)
}

// LoadAll returns every readable entity of a workspace, newest first.
func (s *Service) LoadAll(ctx context.Context, ws string) (entities []types.Entity, err error) {
	defer s.guard("load_all", &err)
	if ws = workspace.Normalize(ws); ws == "" {
		return nil, storage.InvalidInput("workspace is required")
	}
	entities, err = s.store.LoadAll(ctx, ws)
	return entities, boundary(err)
}

// Delete removes one entity and its relationships.
func (s *Service) Delete(ctx context.Context, ws string, kind types.Kind, id string) (err error) {
	defer s.guard("delete", &err)
	ws, err = s.target(ws, kind, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ws, kind, id); err != nil {
		return boundary(err)
	}
	return boundary(s.index.Remove(ctx, ws, kind, id))
}

// Search runs a query. The requested workspace is normalized first.
func (s *Service) Search(ctx context.Context, opts search.Options) (results []search.Result, err error) {
	defer s.guard("search", &err)
	opts.Workspace = workspace.Normalize(opts.Workspace)
	results, err = s.engine.Search(ctx, opts)
	return results, boundary(err)
}

// Relationships returns the relationship records of every plan in ws,
// newest plan first.
func (s *Service) Relationships(ctx context.Context, ws string) (records []types.RelationshipRecord, err error) {
	defer s.guard("relationships", &err)
	if ws = workspace.Normalize(ws); ws == "" {
		return nil, storage.InvalidInput("workspace is required")
	}
	records, err = s.index.List(ctx, ws)
	return records, boundary(err)
}

// Relationship returns the record of one plan.
func (s *Service) Relationship(ctx context.Context, ws, planID string) (rec types.RelationshipRecord, err error) {
	defer s.guard("relationship", &err)
	ws, err = s.target(ws, types.KindPlan, planID)
	if err != nil {
		return rec, err
	}
	rec, err = s.index.Get(ctx, ws, planID)
	return rec, boundary(err)
}

// RebuildRelationships recomputes ws's relationships from the store.
func (s *Service) RebuildRelationships(ctx context.Context, ws string) (err error) {
	defer s.guard("rebuild_relationships", &err)
	if ws = workspace.Normalize(ws); ws == "" {
		return storage.InvalidInput("workspace is required")
	}
	return boundary(s.index.Rebuild(ctx, ws))
}

// CleanupExpired deletes expired memory items. Cached relationships are
// dropped when anything was removed.
func (s *Service) CleanupExpired(ctx context.Context) (removed int, err error) {
	defer s.guard("cleanup", &err)
	removed, err = s.store.CleanupExpired(ctx)
	if removed > 0 {
		s.index.ResetAll()
	}
	return removed, boundary(err)
}

// Workspaces lists the workspaces holding records; current is always
// included.
func (s *Service) Workspaces(ctx context.Context, current string) (names []string, err error) {
	defer s.guard("workspaces", &err)
	return s.store.DiscoverWorkspaces(ctx, workspace.Normalize(current)), nil
}

func (s *Service) target(ws string, kind types.Kind, id string) (string, error) {
	if ws = workspace.Normalize(ws); ws == "" {
		return "", storage.InvalidInput("workspace is required")
	}
	if !types.IsValidKind(kind) {
		return "", storage.InvalidInput("unknown kind %q", kind)
	}
	if id == "" {
		return "", storage.InvalidInput("id is required")
	}
	return ws, nil
}

// guard converts a panic in op into an internal error.
func (s *Service) guard(op string, err *error) {
	if r := recover(); r != nil {
		s.log.WithFields(logrus.Fields{
			"op":    op,
			"panic": r,
		}).Error("service: recovered from panic")
		*err = storage.NewError(storage.CodeInternal, op+" failed unexpectedly", fmt.Errorf("panic: %v", r))
	}
}

func boundary(err error) error {
	if err == nil {
		return nil
	}
	return storage.AsError(err)
}

// Package sqlstore implements storage.RecordStore over database/sql. It holds
// the queries shared by the SQLite and PostgreSQL stores; the driver packages
// open the connection, apply their migrations and provide full-text search.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/workspace"
	"github.com/scrypster/goldfish/pkg/types"
)

// FullTextFunc runs a driver-specific full-text query against the
// search_documents table and returns matching entity IDs, best first.
type FullTextFunc func(ctx context.Context, db *sql.DB, workspace, query string, limit int) ([]string, error)

// Store is a relational RecordStore.
type Store struct {
	db       *sql.DB
	bind     storage.Placeholder
	fullText FullTextFunc

	log logrus.FieldLogger
	now func() time.Time
	ids *storage.IDGenerator
}

var (
	_ storage.RecordStore  = (*Store)(nil)
	_ storage.TextSearcher = (*Store)(nil)
)

// New wraps an open database. fullText may be nil when the driver has no
// full-text support.
func New(db *sql.DB, bind storage.Placeholder, fullText FullTextFunc, opts ...storage.Option) *Store {
	o := storage.ApplyOptions(opts...)
	return &Store{db: db, bind: bind, fullText: fullText, log: o.Logger, now: o.Now, ids: o.IDs}
}

// Migrate applies the pending migrations found in fsys.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS) error {
	mgr, err := storage.NewMigrationManager(ctx, s.db, fsys, s.bind)
	if err != nil {
		return err
	}
	applied, err := mgr.Up(ctx)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.log.WithField("applied", applied).Debug("sqlstore: schema migrations applied")
	}
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Logger returns the store's logger.
func (s *Store) Logger() logrus.FieldLogger { return s.log }

// GenerateID returns a fresh record ID.
func (s *Store) GenerateID() string { return s.ids.Generate() }

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// q rebinds a query to the driver's placeholder style.
func (s *Store) q(query string) string { return s.bind.Rebind(query) }

// Save implements storage.RecordStore. The record, the demotion of any
// previously active record and the search document are written in one
// transaction.
func (s *Store) Save(ctx context.Context, e types.Entity) error {
	now := s.now().UTC()
	if err := storage.Prepare(e, s.ids, now); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WriteFailure("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.touchWorkspace(ctx, tx, e.EntityWorkspace(), now); err != nil {
		return storage.WriteFailure("register workspace", err)
	}
	if storage.ClaimsActive(e) {
		if err := s.demote(ctx, tx, e, now); err != nil {
			return storage.WriteFailure("demote active records", err)
		}
	}

	switch v := e.(type) {
	case *types.MemoryItem:
		err = s.upsertMemory(ctx, tx, v)
	case *types.Plan:
		err = s.upsertPlan(ctx, tx, v)
	case *types.TodoList:
		err = s.upsertTodoList(ctx, tx, v)
	case *types.ChronicleEntry:
		err = s.upsertChronicle(ctx, tx, v)
	default:
		err = fmt.Errorf("unsupported entity %T", e)
	}
	if err != nil {
		return storage.WriteFailure(fmt.Sprintf("write %s %s", e.EntityKind(), e.EntityID()), err)
	}

	if err := s.putDocument(ctx, tx, e); err != nil {
		return storage.WriteFailure("update search index", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.WriteFailure("commit", err)
	}
	return nil
}

func (s *Store) touchWorkspace(ctx context.Context, tx *sql.Tx, ws string, now time.Time) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO workspace_state (name, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET updated_at = excluded.updated_at`),
		ws, now, now)
	return err
}

func (s *Store) demote(ctx context.Context, tx *sql.Tx, e types.Entity, now time.Time) error {
	var err error
	switch e.(type) {
	case *types.TodoList:
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE todo_lists SET is_active = ?, updated_at = ?
			WHERE workspace = ? AND is_active = ? AND id <> ?`),
			false, now, e.EntityWorkspace(), true, e.EntityID())
	case *types.Plan:
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE plans SET status = ?, updated_at = ?
			WHERE workspace = ? AND status = ? AND id <> ?`),
			string(types.PlanComplete), now, e.EntityWorkspace(), string(types.PlanActive), e.EntityID())
	}
	return err
}

func (s *Store) putDocument(ctx context.Context, tx *sql.Tx, e types.Entity) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM search_documents WHERE entity_id = ?`), e.EntityID()); err != nil {
		return err
	}
	doc := storage.DocumentOf(e)
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO search_documents (entity_id, workspace, kind, body, highlights, tags)
		VALUES (?, ?, ?, ?, ?, ?)`),
		e.EntityID(), e.EntityWorkspace(), string(e.EntityKind()), doc.Body, joinText(doc.Highlights), joinText(doc.Tags))
	return err
}

// Load implements storage.RecordStore.
func (s *Store) Load(ctx context.Context, ws string, kind types.Kind, id string) (types.Entity, error) {
	ws = workspace.Normalize(ws)
	if err := storage.ValidateName("workspace", ws); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, storage.InvalidInput("id is required")
	}

	var (
		e   types.Entity
		err error
	)
	switch {
	case types.IsMemoryKind(kind):
		e, err = s.loadMemory(ctx, ws, kind, id)
	case kind == types.KindPlan:
		e, err = s.loadPlan(ctx, ws, id)
	case kind == types.KindTodoList:
		e, err = s.loadTodoList(ctx, ws, id)
	case kind == types.KindChronicle:
		e, err = s.loadChronicle(ctx, ws, id)
	default:
		return nil, storage.InvalidInput("unknown kind %q", kind)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFound(string(kind), id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load %s %s: %w", kind, id, err)
	}
	return e, nil
}

// LoadAll implements storage.RecordStore. Rows that fail to decode are
// skipped and logged.
func (s *Store) LoadAll(ctx context.Context, ws string) ([]types.Entity, error) {
	ws = workspace.Normalize(ws)
	if err := storage.ValidateName("workspace", ws); err != nil {
		return nil, err
	}

	all := []types.Entity{}
	loaders := []func(context.Context, string) ([]types.Entity, error){
		s.listMemories,
		s.listPlans,
		s.listTodoLists,
		s.listChronicle,
	}
	for _, load := range loaders {
		entities, err := load(ctx, ws)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: load workspace %s: %w", ws, err)
		}
		all = append(all, entities...)
	}
	storage.SortNewestFirst(all)
	return all, nil
}

// Delete implements storage.RecordStore.
func (s *Store) Delete(ctx context.Context, ws string, kind types.Kind, id string) error {
	ws = workspace.Normalize(ws)
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WriteFailure("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args := `DELETE FROM `+table+` WHERE id = ? AND workspace = ?`, []any{id, ws}
	if types.IsMemoryKind(kind) {
		query, args = query+` AND kind = ?`, append(args, string(kind))
	}
	res, err := tx.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return storage.WriteFailure(fmt.Sprintf("delete %s %s", kind, id), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.NotFound(string(kind), id)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM search_documents WHERE entity_id = ?`), id); err != nil {
		return storage.WriteFailure("update search index", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.WriteFailure("commit", err)
	}
	return nil
}

func tableFor(kind types.Kind) (string, error) {
	switch {
	case types.IsMemoryKind(kind):
		return "checkpoints", nil
	case kind == types.KindPlan:
		return "plans", nil
	case kind == types.KindTodoList:
		return "todo_lists", nil
	case kind == types.KindChronicle:
		return "chronicle_entries", nil
	}
	return "", storage.InvalidInput("unknown kind %q", kind)
}

// DiscoverWorkspaces implements storage.RecordStore. A workspace qualifies
// when at least one entity table holds a row for it.
func (s *Store) DiscoverWorkspaces(ctx context.Context, current string) []string {
	current = workspace.Normalize(current)
	found := make(map[string]struct{})
	if current != "" {
		found[current] = struct{}{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT w.name FROM workspace_state w
		WHERE EXISTS (SELECT 1 FROM checkpoints c WHERE c.workspace = w.name)
		   OR EXISTS (SELECT 1 FROM plans p WHERE p.workspace = w.name)
		   OR EXISTS (SELECT 1 FROM todo_lists t WHERE t.workspace = w.name)
		   OR EXISTS (SELECT 1 FROM chronicle_entries e WHERE e.workspace = w.name)`)
	if err != nil {
		s.log.WithField("error", storage.NewError(storage.CodeDiscoveryFailure, "query workspaces", err)).
			Warn("sqlstore: workspace discovery degraded to current workspace")
	} else {
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				continue
			}
			found[name] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			s.log.WithField("error", err).Warn("sqlstore: workspace discovery incomplete")
		}
	}

	out := make([]string, 0, len(found))
	for ws := range found {
		out = append(out, ws)
	}
	sort.Strings(out)
	return out
}

// CleanupExpired implements storage.RecordStore. Expiry is evaluated in Go
// so that both drivers compare instants the same way.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now()

	type candidate struct {
		id, workspace string
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, workspace, created_at, ttl_hours FROM checkpoints WHERE ttl_hours > 0`)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: query expiring records: %w", err)
	}
	var expired []candidate
	for rows.Next() {
		var (
			c       candidate
			created time.Time
			ttl     int
		)
		if err := rows.Scan(&c.id, &c.workspace, &created, &ttl); err != nil {
			s.log.WithField("error", err).Warn("sqlstore: skipping unreadable row during cleanup")
			continue
		}
		m := types.MemoryItem{CreatedAt: created, TTLHours: ttl}
		if m.Expired(now) {
			expired = append(expired, c)
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: scan expiring records: %w", err)
	}

	removed := 0
	for _, c := range expired {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		err := s.Delete(ctx, c.workspace, types.KindGeneral, c.id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.WithFields(logrus.Fields{
				"workspace": c.workspace,
				"id":        c.id,
				"error":     err,
			}).Warn("sqlstore: failed to remove expired record")
			continue
		}
		if err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("sqlstore: expired records cleaned up")
	}
	return removed, nil
}

// FullTextSearch implements storage.TextSearcher.
func (s *Store) FullTextSearch(ctx context.Context, ws, query string, limit int) ([]string, error) {
	if s.fullText == nil {
		return nil, storage.NewError(storage.CodeInternal, "full-text search not available", nil)
	}
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.fullText(ctx, s.db, workspace.Normalize(ws), query, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: full-text search: %w", err)
	}
	return ids, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/pkg/types"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Memory items (all four memory kinds live in the checkpoints table)

const memoryColumns = `id, workspace, kind, content, ttl_hours, tags, session_id, created_at`

func (s *Store) upsertMemory(ctx context.Context, tx *sql.Tx, m *types.MemoryItem) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	tags, err := encodeStrings(m.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO checkpoints (id, workspace, kind, content_kind, content, ttl_hours, tags, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workspace = excluded.workspace,
			kind = excluded.kind,
			content_kind = excluded.content_kind,
			content = excluded.content,
			ttl_hours = excluded.ttl_hours,
			tags = excluded.tags,
			session_id = excluded.session_id,
			created_at = excluded.created_at`),
		m.ID, m.Workspace, string(m.Kind), string(contentKind(m.Content)), string(content),
		m.TTLHours, tags, nullableString(m.SessionID), m.CreatedAt)
	return err
}

func contentKind(c types.Content) types.ContentKind {
	if c.Kind == "" {
		return types.ContentText
	}
	return c.Kind
}

func scanMemory(row rowScanner) (*types.MemoryItem, error) {
	var (
		m         types.MemoryItem
		kind      string
		content   string
		tags      string
		sessionID sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Workspace, &kind, &content, &m.TTLHours, &tags, &sessionID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Kind = types.Kind(kind)
	if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", m.ID, err)
	}
	var err error
	if m.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("decode tags of %s: %w", m.ID, err)
	}
	m.SessionID = sessionID.String
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (s *Store) loadMemory(ctx context.Context, ws string, kind types.Kind, id string) (types.Entity, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+memoryColumns+` FROM checkpoints WHERE id = ? AND workspace = ? AND kind = ?`), id, ws, string(kind))
	return scanMemory(row)
}

func (s *Store) listMemories(ctx context.Context, ws string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+memoryColumns+` FROM checkpoints WHERE workspace = ?`), ws)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entity
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			s.skipCorrupt("checkpoints", err)
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Plans

const planColumns = `id, workspace, title, description, items, discoveries, category, priority, status, created_at, updated_at`

func (s *Store) upsertPlan(ctx context.Context, tx *sql.Tx, p *types.Plan) error {
	items, err := encodeStrings(p.Items)
	if err != nil {
		return err
	}
	discoveries, err := encodeStrings(p.Discoveries)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workspace = excluded.workspace,
			title = excluded.title,
			description = excluded.description,
			items = excluded.items,
			discoveries = excluded.discoveries,
			category = excluded.category,
			priority = excluded.priority,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`),
		p.ID, p.Workspace, p.Title, p.Description, items, discoveries,
		p.Category, p.Priority, string(p.Status), p.CreatedAt, p.UpdatedAt)
	return err
}

func scanPlan(row rowScanner) (*types.Plan, error) {
	var (
		p                  types.Plan
		items, discoveries string
		status             string
	)
	if err := row.Scan(&p.ID, &p.Workspace, &p.Title, &p.Description, &items, &discoveries,
		&p.Category, &p.Priority, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = types.PlanStatus(status)
	var err error
	if p.Items, err = decodeStrings(items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", p.ID, err)
	}
	if p.Discoveries, err = decodeStrings(discoveries); err != nil {
		return nil, fmt.Errorf("decode discoveries of %s: %w", p.ID, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) loadPlan(ctx context.Context, ws, id string) (types.Entity, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+planColumns+` FROM plans WHERE id = ? AND workspace = ?`), id, ws)
	return scanPlan(row)
}

func (s *Store) listPlans(ctx context.Context, ws string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+planColumns+` FROM plans WHERE workspace = ?`), ws)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entity
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			s.skipCorrupt("plans", err)
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Todo lists

const todoListColumns = `id, workspace, title, is_active, source_plan_id, created_at, updated_at, completed_at`

func (s *Store) upsertTodoList(ctx context.Context, tx *sql.Tx, l *types.TodoList) error {
	// A dangling plan reference is stored as NULL.
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO todo_lists (id, workspace, title, is_active, source_plan_id, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, (SELECT id FROM plans WHERE id = ?), ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workspace = excluded.workspace,
			title = excluded.title,
			is_active = excluded.is_active,
			source_plan_id = excluded.source_plan_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`),
		l.ID, l.Workspace, l.Title, l.IsActive, l.SourcePlanID,
		l.CreatedAt, l.UpdatedAt, nullableTime(l.CompletedAt))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM todo_items WHERE list_id = ?`), l.ID); err != nil {
		return err
	}
	for i, it := range l.Items {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO todo_items (list_id, item_id, position, content, status, priority, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			l.ID, it.ID, i, it.Content, string(it.Status), it.Priority, it.CreatedAt, nullableTime(it.UpdatedAt))
		if err != nil {
			return err
		}
	}
	return nil
}

func scanTodoList(row rowScanner) (*types.TodoList, error) {
	var (
		l          types.TodoList
		sourcePlan sql.NullString
		completed  sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.Workspace, &l.Title, &l.IsActive, &sourcePlan,
		&l.CreatedAt, &l.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	l.SourcePlanID = sourcePlan.String
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	l.CompletedAt = timePtr(completed)
	l.Items = []types.TodoItem{}
	return &l, nil
}

func (s *Store) loadTodoList(ctx context.Context, ws, id string) (types.Entity, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+todoListColumns+` FROM todo_lists WHERE id = ? AND workspace = ?`), id, ws)
	l, err := scanTodoList(row)
	if err != nil {
		return nil, err
	}
	items, err := s.todoItems(ctx, `list_id = ?`, id)
	if err != nil {
		return nil, err
	}
	l.Items = append(l.Items, items[id]...)
	return l, nil
}

func (s *Store) listTodoLists(ctx context.Context, ws string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+todoListColumns+` FROM todo_lists WHERE workspace = ?`), ws)
	if err != nil {
		return nil, err
	}
	var lists []*types.TodoList
	for rows.Next() {
		l, err := scanTodoList(rows)
		if err != nil {
			s.skipCorrupt("todo_lists", err)
			continue
		}
		lists = append(lists, l)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	// Items are read after the list cursor is closed: SQLite runs on a
	// single connection.
	items, err := s.todoItems(ctx, `list_id IN (SELECT id FROM todo_lists WHERE workspace = ?)`, ws)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entity, 0, len(lists))
	for _, l := range lists {
		l.Items = append(l.Items, items[l.ID]...)
		out = append(out, l)
	}
	return out, nil
}

// todoItems returns items matching where, grouped by list ID in position order.
func (s *Store) todoItems(ctx context.Context, where string, args ...any) (map[string][]types.TodoItem, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT list_id, item_id, content, status, priority, created_at, updated_at
		FROM todo_items WHERE `+where+` ORDER BY list_id, position`), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]types.TodoItem)
	for rows.Next() {
		var (
			listID  string
			it      types.TodoItem
			status  string
			updated sql.NullTime
		)
		if err := rows.Scan(&listID, &it.ID, &it.Content, &status, &it.Priority, &it.CreatedAt, &updated); err != nil {
			s.skipCorrupt("todo_items", err)
			continue
		}
		it.Status = types.TodoStatus(status)
		it.CreatedAt = it.CreatedAt.UTC()
		it.UpdatedAt = timePtr(updated)
		out[listID] = append(out[listID], it)
	}
	return out, rows.Err()
}

// Chronicle entries

const chronicleColumns = `id, workspace, kind, description, related_plan_id, related_todo_id, created_at`

func (s *Store) upsertChronicle(ctx context.Context, tx *sql.Tx, c *types.ChronicleEntry) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO chronicle_entries (`+chronicleColumns+`)
		VALUES (?, ?, ?, ?, (SELECT id FROM plans WHERE id = ?), (SELECT id FROM todo_lists WHERE id = ?), ?)
		ON CONFLICT (id) DO UPDATE SET
			workspace = excluded.workspace,
			kind = excluded.kind,
			description = excluded.description,
			related_plan_id = excluded.related_plan_id,
			related_todo_id = excluded.related_todo_id,
			created_at = excluded.created_at`),
		c.ID, c.Workspace, string(c.Kind), c.Description, c.RelatedPlanID, c.RelatedTodoID, c.Timestamp)
	return err
}

func scanChronicle(row rowScanner) (*types.ChronicleEntry, error) {
	var (
		c                types.ChronicleEntry
		kind             string
		relPlan, relTodo sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Workspace, &kind, &c.Description, &relPlan, &relTodo, &c.Timestamp); err != nil {
		return nil, err
	}
	c.Kind = types.ChronicleKind(kind)
	c.RelatedPlanID = relPlan.String
	c.RelatedTodoID = relTodo.String
	c.Timestamp = c.Timestamp.UTC()
	return &c, nil
}

func (s *Store) loadChronicle(ctx context.Context, ws, id string) (types.Entity, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+chronicleColumns+` FROM chronicle_entries WHERE id = ? AND workspace = ?`), id, ws)
	return scanChronicle(row)
}

func (s *Store) listChronicle(ctx context.Context, ws string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+chronicleColumns+` FROM chronicle_entries WHERE workspace = ?`), ws)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entity
	for rows.Next() {
		c, err := scanChronicle(rows)
		if err != nil {
			s.skipCorrupt("chronicle_entries", err)
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// helpers

func (s *Store) skipCorrupt(table string, err error) {
	s.log.WithFields(logrus.Fields{
		"table": table,
		"error": err,
	}).Warn("sqlstore: skipping corrupt row")
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeStrings(s string) ([]string, error) {
	out := []string{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func joinText(v []string) string { return strings.Join(v, " ") }

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

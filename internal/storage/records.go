package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/workspace"
	"github.com/scrypster/goldfish/pkg/types"
)

// Options holds the collaborators shared by every RecordStore variant.
type Options struct {
	Logger logrus.FieldLogger
	Now    func() time.Time
	IDs    *IDGenerator
}

// Option configures a RecordStore.
type Option func(*Options)

// WithLogger sets the logger used for skipped records and sweep failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithClock sets the time source used for stamping and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithIDGenerator sets the ID generator.
func WithIDGenerator(g *IDGenerator) Option {
	return func(o *Options) { o.IDs = g }
}

// ApplyOptions resolves opts over the defaults.
func ApplyOptions(opts ...Option) Options {
	o := Options{
		Logger: logrus.StandardLogger(),
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.IDs == nil {
		o.IDs = NewProcessIDGenerator(os.Getpid(), o.Now)
	}
	return o
}

// NewEntity returns an empty entity value for kind.
func NewEntity(kind types.Kind) (types.Entity, error) {
	switch {
	case types.IsMemoryKind(kind):
		return &types.MemoryItem{Kind: kind}, nil
	case kind == types.KindTodoList:
		return &types.TodoList{}, nil
	case kind == types.KindPlan:
		return &types.Plan{}, nil
	case kind == types.KindChronicle:
		return &types.ChronicleEntry{}, nil
	default:
		return nil, InvalidInput("unknown kind %q", kind)
	}
}

// Decode parses a JSON record of the given kind. Undecodable data yields an
// error matching ErrCorrupt.
func Decode(kind types.Kind, data []byte) (types.Entity, error) {
	e, err := NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, NewError(CodeCorrupt, fmt.Sprintf("decode %s record", kind), err)
	}
	if e.EntityID() == "" {
		return nil, NewError(CodeCorrupt, fmt.Sprintf("%s record without id", kind), nil)
	}
	// Memory kinds share partitions, so the record's own kind wins.
	if m, ok := e.(*types.MemoryItem); ok {
		if m.Kind == "" {
			m.Kind = kind
		}
		if !types.IsMemoryKind(m.Kind) {
			return nil, NewError(CodeCorrupt, fmt.Sprintf("record has unknown kind %q", m.Kind), nil)
		}
	}
	return e, nil
}

// Prepare validates e and fills its identity fields before a write. The
// workspace is normalized to its canonical slug.
func Prepare(e types.Entity, ids *IDGenerator, now time.Time) error {
	if e == nil {
		return InvalidInput("entity is required")
	}
	ws := workspace.Normalize(e.EntityWorkspace())
	if ws == "" {
		return InvalidInput("workspace is required")
	}
	if !types.IsValidKind(e.EntityKind()) {
		return InvalidInput("unknown kind %q", e.EntityKind())
	}
	switch v := e.(type) {
	case *types.MemoryItem:
		if v.TTLHours < 0 {
			return InvalidInput("ttlHours must not be negative")
		}
	case *types.Plan:
		if !types.IsValidPlanStatus(v.Status) {
			return InvalidInput("invalid plan status %q", v.Status)
		}
	case *types.TodoList:
		for _, it := range v.Items {
			if it.Status != "" && !types.IsValidTodoStatus(it.Status) {
				return InvalidInput("invalid todo status %q", it.Status)
			}
		}
	case *types.ChronicleEntry:
		if v.Kind != "" && !types.IsValidChronicleKind(v.Kind) {
			return InvalidInput("invalid chronicle kind %q", v.Kind)
		}
	}
	id := e.EntityID()
	if id == "" {
		id = ids.Generate()
	}
	if err := ValidateName("id", id); err != nil {
		return err
	}
	e.Stamp(id, ws, now.UTC())
	return nil
}

// SortNewestFirst orders entities by creation time descending, then by ID
// descending.
func SortNewestFirst(entities []types.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		ci, cj := entities[i].Created(), entities[j].Created()
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return entities[i].EntityID() > entities[j].EntityID()
	})
}

// ClaimsActive reports whether saving e must demote other entities of the
// same kind: an active TodoList or an active Plan.
func ClaimsActive(e types.Entity) bool {
	switch v := e.(type) {
	case *types.TodoList:
		return v.IsActive
	case *types.Plan:
		return v.Status == types.PlanActive
	}
	return false
}

// Demote returns the entities among others that must be rewritten so that e
// is the only active entity of its kind: active lists become inactive and
// active plans become complete. The returned entities are modified in place.
func Demote(e types.Entity, others []types.Entity, now time.Time) []types.Entity {
	if !ClaimsActive(e) {
		return nil
	}
	var changed []types.Entity
	for _, o := range others {
		if o.EntityID() == e.EntityID() || o.EntityKind() != e.EntityKind() {
			continue
		}
		switch v := o.(type) {
		case *types.TodoList:
			if v.IsActive {
				v.IsActive = false
				v.UpdatedAt = now
				changed = append(changed, v)
			}
		case *types.Plan:
			if v.Status == types.PlanActive {
				v.Status = types.PlanComplete
				v.UpdatedAt = now
				changed = append(changed, v)
			}
		}
	}
	return changed
}

// ValidateName rejects identifiers that cannot safely be used as a file name
// or partition key.
func ValidateName(field, name string) error {
	if name == "" {
		return InvalidInput("%s is required", field)
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return InvalidInput("invalid %s %q", field, name)
	}
	return nil
}

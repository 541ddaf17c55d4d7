// Package file implements storage.RecordStore on the local filesystem.
//
// Layout under the root directory:
//
//	{workspace}/checkpoints/{YYYY-MM-DD}/<id>.json
//	{workspace}/tasks/<id>.json       todo-note, general and context items
//	{workspace}/todos/<id>.json
//	{workspace}/plans/<id>.json
//	{workspace}/chronicle/<id>.json
//
// Every write goes to a hidden temporary file in the destination directory
// and is renamed into place, so readers only ever see complete records.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/workspace"
	"github.com/scrypster/goldfish/pkg/types"
)

// Partition directory names.
const (
	PartitionCheckpoints = "checkpoints"
	PartitionTasks       = "tasks"
	PartitionTodos       = "todos"
	PartitionPlans       = "plans"
	PartitionChronicle   = "chronicle"
)

// Partitions lists every partition directory a workspace may contain.
var Partitions = []string{
	PartitionCheckpoints,
	PartitionTasks,
	PartitionTodos,
	PartitionPlans,
	PartitionChronicle,
}

const (
	recordExt  = ".json"
	dateLayout = "2006-01-02"
)

// rename is swapped in tests to simulate a crash between the temp write and
// the rename.
var rename = os.Rename

// Store is a filesystem RecordStore. It holds no locks: concurrent writers
// to the same record resolve last-writer-wins through rename.
type Store struct {
	root string
	log  logrus.FieldLogger
	now  func() time.Time
	ids  *storage.IDGenerator
}

var _ storage.RecordStore = (*Store)(nil)

// New creates the root directory if needed and returns a Store over it.
func New(root string, opts ...storage.Option) (*Store, error) {
	if root == "" {
		return nil, storage.InvalidInput("storage root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("file store: init root %s: %w", root, err)
	}
	o := storage.ApplyOptions(opts...)
	return &Store{root: root, log: o.Logger, now: o.Now, ids: o.IDs}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// GenerateID returns a fresh record ID.
func (s *Store) GenerateID() string { return s.ids.Generate() }

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error { return nil }

// PartitionFor returns the partition directory for kind.
func PartitionFor(kind types.Kind) (string, error) {
	switch kind {
	case types.KindCheckpoint:
		return PartitionCheckpoints, nil
	case types.KindTodoNote, types.KindGeneral, types.KindContext:
		return PartitionTasks, nil
	case types.KindTodoList:
		return PartitionTodos, nil
	case types.KindPlan:
		return PartitionPlans, nil
	case types.KindChronicle:
		return PartitionChronicle, nil
	}
	return "", storage.InvalidInput("unknown kind %q", kind)
}

// partitionKind is the kind used to decode records found in a partition.
// Records in the tasks partition carry their exact kind themselves.
func partitionKind(partition string) types.Kind {
	switch partition {
	case PartitionCheckpoints:
		return types.KindCheckpoint
	case PartitionTasks:
		return types.KindGeneral
	case PartitionTodos:
		return types.KindTodoList
	case PartitionPlans:
		return types.KindPlan
	case PartitionChronicle:
		return types.KindChronicle
	}
	return ""
}

func (s *Store) pathFor(e types.Entity) (string, error) {
	part, err := PartitionFor(e.EntityKind())
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, e.EntityWorkspace(), part)
	if part == PartitionCheckpoints {
		dir = filepath.Join(dir, e.Created().UTC().Format(dateLayout))
	}
	return filepath.Join(dir, e.EntityID()+recordExt), nil
}

// Save implements storage.RecordStore.
func (s *Store) Save(ctx context.Context, e types.Entity) error {
	if err := ctx.Err(); err != nil {
		return storage.WriteFailure("save cancelled", err)
	}
	now := s.now().UTC()
	if err := storage.Prepare(e, s.ids, now); err != nil {
		return err
	}

	path, err := s.pathFor(e)
	if err != nil {
		return err
	}

	// Demote before writing so a failure never leaves two active records.
	if storage.ClaimsActive(e) {
		if err := s.demoteOthers(ctx, e, now); err != nil {
			return err
		}
	}

	// A memory item whose kind or creation date changed moves to another
	// partition or date folder; earlier copies go once the new one is in place.
	var stale []string
	if types.IsMemoryKind(e.EntityKind()) {
		for _, old := range s.memoryFiles(e.EntityWorkspace(), e.EntityID()) {
			if old != path {
				stale = append(stale, old)
			}
		}
	}

	if err := s.writeRecord(path, e); err != nil {
		return err
	}
	for _, old := range stale {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithFields(logrus.Fields{
				"path":  old,
				"error": err,
			}).Warn("file store: failed to remove superseded record")
		}
	}
	return nil
}

// memoryFiles returns every existing file holding memory item id: the
// tasks partition and any checkpoint date folder.
func (s *Store) memoryFiles(ws, id string) []string {
	var out []string
	task := filepath.Join(s.root, ws, PartitionTasks, id+recordExt)
	if _, err := os.Stat(task); err == nil {
		out = append(out, task)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ws, PartitionCheckpoints, "*", id+recordExt))
	return append(out, matches...)
}

func (s *Store) demoteOthers(ctx context.Context, e types.Entity, now time.Time) error {
	part, _ := PartitionFor(e.EntityKind())
	others, err := s.loadPartition(ctx, e.EntityWorkspace(), part)
	if err != nil {
		return storage.WriteFailure("load records for demotion", err)
	}
	for _, o := range storage.Demote(e, others, now) {
		path, err := s.pathFor(o)
		if err != nil {
			return err
		}
		if err := s.writeRecord(path, o); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"workspace": o.EntityWorkspace(),
			"kind":      o.EntityKind(),
			"id":        o.EntityID(),
		}).Debug("file store: demoted previously active record")
	}
	return nil
}

func (s *Store) writeRecord(path string, e types.Entity) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return storage.WriteFailure(fmt.Sprintf("encode %s %s", e.EntityKind(), e.EntityID()), err)
	}
	if err := writeAtomic(path, data); err != nil {
		return storage.WriteFailure(fmt.Sprintf("write %s", path), err)
	}
	return nil
}

// writeAtomic writes data to a temporary file next to path, syncs it and
// renames it over path. The temporary file is removed on any failure.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Load implements storage.RecordStore.
func (s *Store) Load(ctx context.Context, ws string, kind types.Kind, id string) (types.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.locate(ws, kind, id)
	if err != nil {
		return nil, err
	}
	e, err := s.readRecord(path, kind)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.NotFound(string(kind), id)
	}
	if err != nil {
		return nil, err
	}
	// Memory kinds share the tasks partition.
	if e.EntityKind() != kind {
		return nil, storage.NotFound(string(kind), id)
	}
	return e, nil
}

// locate finds the file of one record. Checkpoints are looked up in the date
// folder encoded in their ID first, then in every date folder.
func (s *Store) locate(ws string, kind types.Kind, id string) (string, error) {
	ws = workspace.Normalize(ws)
	if err := storage.ValidateName("workspace", ws); err != nil {
		return "", err
	}
	if err := storage.ValidateName("id", id); err != nil {
		return "", err
	}
	part, err := PartitionFor(kind)
	if err != nil {
		return "", err
	}
	base := filepath.Join(s.root, ws, part)
	if part != PartitionCheckpoints {
		return filepath.Join(base, id+recordExt), nil
	}

	if t, ok := storage.IDTime(id); ok {
		p := filepath.Join(base, t.Format(dateLayout), id+recordExt)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	matches, _ := filepath.Glob(filepath.Join(base, "*", id+recordExt))
	if len(matches) == 0 {
		return "", storage.NotFound(string(kind), id)
	}
	sort.Strings(matches)
	return matches[0], nil
}

func (s *Store) readRecord(path string, kind types.Kind) (types.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return storage.Decode(kind, data)
}

// ReadFile decodes the record at path, which must lie inside the store.
// It is used by watchers that learn about records from filesystem events.
func (s *Store) ReadFile(path string) (types.Entity, error) {
	loc, ok := s.ParsePath(path)
	if !ok {
		return nil, storage.InvalidInput("%s is not a record path", path)
	}
	e, err := s.readRecord(path, loc.Kind)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.NotFound(string(loc.Kind), loc.ID)
	}
	return e, err
}

// Location identifies a record file inside the store.
type Location struct {
	Workspace string
	Partition string
	Kind      types.Kind
	ID        string
}

// ParsePath maps a record path back to its location. Temporary files,
// hidden files and paths outside the store are rejected.
func (s *Store) ParsePath(path string) (Location, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return Location{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return Location{}, false
	}
	name := parts[len(parts)-1]
	if !isRecordName(name) {
		return Location{}, false
	}
	part := parts[1]
	kind := partitionKind(part)
	if kind == "" {
		return Location{}, false
	}
	want := 3
	if part == PartitionCheckpoints {
		want = 4
	}
	if len(parts) != want {
		return Location{}, false
	}
	return Location{
		Workspace: parts[0],
		Partition: part,
		Kind:      kind,
		ID:        strings.TrimSuffix(name, recordExt),
	}, true
}

func isRecordName(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, recordExt) && len(name) > len(recordExt)
}

// LoadAll implements storage.RecordStore. A workspace without records
// yields an empty slice.
func (s *Store) LoadAll(ctx context.Context, ws string) ([]types.Entity, error) {
	ws = workspace.Normalize(ws)
	if err := storage.ValidateName("workspace", ws); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(s.root, ws)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []types.Entity{}, nil
		}
		return nil, fmt.Errorf("file store: stat workspace %s: %w", ws, err)
	}

	all := []types.Entity{}
	for _, part := range Partitions {
		entities, err := s.loadPartition(ctx, ws, part)
		if err != nil {
			return nil, err
		}
		all = append(all, entities...)
	}
	storage.SortNewestFirst(all)
	return all, nil
}

// loadPartition reads every record of one partition. Unreadable and corrupt
// files are skipped.
func (s *Store) loadPartition(ctx context.Context, ws, part string) ([]types.Entity, error) {
	var out []types.Entity
	err := s.walkPartition(ctx, ws, part, func(path string) {
		e, err := s.readRecord(path, partitionKind(part))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.log.WithFields(logrus.Fields{
					"path":  path,
					"error": err,
				}).Warn("file store: skipping unreadable record")
			}
			return
		}
		out = append(out, e)
	})
	return out, err
}

// walkPartition calls fn for every record file of a partition.
func (s *Store) walkPartition(ctx context.Context, ws, part string, fn func(path string)) error {
	dir := filepath.Join(s.root, ws, part)
	dirs := []string{dir}
	if part == PartitionCheckpoints {
		dirs = s.subdirs(dir)
	}
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.log.WithFields(logrus.Fields{"dir": d, "error": err}).Warn("file store: skipping unreadable directory")
			}
			continue
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.IsDir() || !isRecordName(entry.Name()) {
				continue
			}
			fn(filepath.Join(d, entry.Name()))
		}
	}
	return nil
}

func (s *Store) subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out
}

// Delete implements storage.RecordStore.
func (s *Store) Delete(ctx context.Context, ws string, kind types.Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.locate(ws, kind, id)
	if err != nil {
		return err
	}
	if types.IsMemoryKind(kind) {
		if e, err := s.readRecord(path, kind); err == nil && e.EntityKind() != kind {
			return storage.NotFound(string(kind), id)
		}
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.NotFound(string(kind), id)
		}
		return storage.WriteFailure(fmt.Sprintf("delete %s", path), err)
	}
	if kind == types.KindCheckpoint {
		// Fails harmlessly while the date folder still holds records.
		_ = os.Remove(filepath.Dir(path))
	}
	return nil
}

// DiscoverWorkspaces implements storage.RecordStore. A directory qualifies
// when it contains at least one partition directory.
func (s *Store) DiscoverWorkspaces(ctx context.Context, current string) []string {
	current = workspace.Normalize(current)
	found := make(map[string]struct{})
	if current != "" {
		found[current] = struct{}{}
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"root":  s.root,
			"error": storage.NewError(storage.CodeDiscoveryFailure, "read storage root", err),
		}).Warn("file store: workspace discovery degraded to current workspace")
		entries = nil
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if s.hasPartition(name) {
			found[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(found))
	for ws := range found {
		out = append(out, ws)
	}
	sort.Strings(out)
	return out
}

func (s *Store) hasPartition(ws string) bool {
	for _, part := range Partitions {
		info, err := os.Stat(filepath.Join(s.root, ws, part))
		if err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// CleanupExpired implements storage.RecordStore.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0
	for _, ws := range s.DiscoverWorkspaces(ctx, "") {
		for _, part := range []string{PartitionCheckpoints, PartitionTasks} {
			err := s.walkPartition(ctx, ws, part, func(path string) {
				e, err := s.readRecord(path, partitionKind(part))
				if err != nil {
					return
				}
				m, ok := e.(*types.MemoryItem)
				if !ok || !m.Expired(now) {
					return
				}
				if err := os.Remove(path); err != nil {
					if !errors.Is(err, os.ErrNotExist) {
						s.log.WithFields(logrus.Fields{
							"path":  path,
							"error": err,
						}).Warn("file store: failed to remove expired record")
					}
					return
				}
				removed++
			})
			if err != nil {
				return removed, err
			}
		}
		s.pruneEmptyDateDirs(ws)
	}
	if removed > 0 {
		s.log.WithField("removed", removed).Info("file store: expired records cleaned up")
	}
	return removed, nil
}

func (s *Store) pruneEmptyDateDirs(ws string) {
	for _, d := range s.subdirs(filepath.Join(s.root, ws, PartitionCheckpoints)) {
		entries, err := os.ReadDir(d)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(d)
		}
	}
}

// Package watch folds records written by other processes into the
// relationship index by watching the file store with fsnotify.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/storage/file"
	"github.com/scrypster/goldfish/pkg/types"
)

// Index receives the changes the watcher observes. *relations.Index
// satisfies it.
type Index interface {
	Update(ctx context.Context, e types.Entity) error
	Remove(ctx context.Context, workspace string, kind types.Kind, id string) error
}

// Watcher watches every directory of a file store.
type Watcher struct {
	store *file.Store
	index Index
	log   logrus.FieldLogger

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Watcher) { w.log = l }
}

// New creates a watcher over store's root that reports to index.
func New(store *file.Store, index Index, opts ...Option) *Watcher {
	w := &Watcher{
		store: store,
		index: index,
		log:   logrus.StandardLogger(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches the root and every directory below it, then processes
// events until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addTree(w.store.Root()); err != nil {
		_ = fw.Close()
		return err
	}

	go w.loop(ctx)
	w.log.WithField("root", w.store.Root()).Info("watch: watching store")
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	w.close()
	<-w.done
}

func (w *Watcher) close() {
	w.closeOnce.Do(func() { _ = w.watcher.Close() })
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.close()
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, evt)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch: watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, evt fsnotify.Event) {
	switch {
	case evt.Has(fsnotify.Create):
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			// Records may land before the directory is watched.
			if err := w.addTree(evt.Name); err != nil {
				w.log.WithError(err).WithField("dir", evt.Name).Warn("watch: failed to watch directory")
			}
			w.scan(ctx, evt.Name)
			return
		}
		w.fold(ctx, evt.Name)
	case evt.Has(fsnotify.Write):
		w.fold(ctx, evt.Name)
	case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
		w.drop(ctx, evt.Name)
	}
}

// fold loads the record at path into the index.
func (w *Watcher) fold(ctx context.Context, path string) {
	if _, ok := w.store.ParsePath(path); !ok {
		return
	}
	e, err := w.store.ReadFile(path)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			w.log.WithError(err).WithField("path", path).Warn("watch: skipping unreadable record")
		}
		return
	}
	if err := w.index.Update(ctx, e); err != nil {
		w.log.WithError(err).WithField("id", e.EntityID()).Warn("watch: index update failed")
	}
}

// drop removes the record at path from the index unless it still exists
// elsewhere, as a checkpoint moved to a new date folder does.
func (w *Watcher) drop(ctx context.Context, path string) {
	loc, ok := w.store.ParsePath(path)
	if !ok {
		return
	}
	if e, err := w.store.Load(ctx, loc.Workspace, loc.Kind, loc.ID); err == nil {
		if err := w.index.Update(ctx, e); err != nil {
			w.log.WithError(err).WithField("id", loc.ID).Warn("watch: index update failed")
		}
		return
	}
	if err := w.index.Remove(ctx, loc.Workspace, loc.Kind, loc.ID); err != nil {
		w.log.WithError(err).WithField("id", loc.ID).Warn("watch: index remove failed")
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // vanished while walking
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) scan(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			w.fold(ctx, path)
		}
		return nil
	})
}

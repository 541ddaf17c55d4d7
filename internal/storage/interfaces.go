// Package storage provides the persistence contract for the goldfish memory
// system.
//
// RecordStore is implemented by a file-backed store (storage/file) and by
// relational stores (storage/sqlite, storage/postgres). All variants share
// the ID format, the error taxonomy and the single-active rules defined here.
package storage

import (
	"context"

	"github.com/scrypster/goldfish/pkg/types"
)

// RecordStore persists entities partitioned by workspace.
type RecordStore interface {
	// Save writes e, assigning an ID and creation time when absent.
	// Saving an active TodoList or Plan demotes the previously active one in
	// the same workspace. Failures are returned as *Error with code
	// write_failure and are safe to retry.
	Save(ctx context.Context, e types.Entity) error

	// GenerateID returns a fresh chronologically sortable identifier.
	GenerateID() string

	// Load returns one entity. Returns ErrNotFound if it does not exist,
	// including when it was removed concurrently.
	Load(ctx context.Context, workspace string, kind types.Kind, id string) (types.Entity, error)

	// LoadAll returns every readable entity of a workspace, newest first.
	// Corrupt records are skipped and logged.
	LoadAll(ctx context.Context, workspace string) ([]types.Entity, error)

	// Delete removes one entity. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, workspace string, kind types.Kind, id string) error

	// DiscoverWorkspaces lists the workspaces that hold records, sorted.
	// It never fails: when the store cannot be enumerated it returns only
	// current.
	DiscoverWorkspaces(ctx context.Context, current string) []string

	// CleanupExpired deletes memory items whose TTL has elapsed and returns
	// how many were removed. Individual deletion failures are logged.
	CleanupExpired(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// TextSearcher is implemented by stores that maintain a full-text index.
// The search engine may draw strict-mode candidates from it.
type TextSearcher interface {
	// FullTextSearch returns the IDs of entities in workspace matching
	// query, best match first, at most limit of them.
	FullTextSearch(ctx context.Context, workspace, query string, limit int) ([]string, error)
}

// Package sqlite provides a SQLite RecordStore (modernc.org/sqlite, no cgo)
// with an FTS5 full-text index.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/storage/sqlstore"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema migrations applied by Open.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store is a SQLite-backed RecordStore.
type Store struct {
	*sqlstore.Store
}

var (
	_ storage.RecordStore  = (*Store)(nil)
	_ storage.TextSearcher = (*Store)(nil)
)

// Open opens (creating if needed) the database at dsn and applies the
// schema. If the first open fails because of stale WAL files left behind by
// a crashed process, it verifies no other process holds them and retries
// once after removing them.
func Open(ctx context.Context, dsn string, opts ...storage.Option) (*Store, error) {
	o := storage.ApplyOptions(opts...)

	store, err := open(ctx, dsn, opts...)
	if err == nil {
		return store, nil
	}
	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(o.Logger, dbPath)

	store, retryErr := open(ctx, dsn, opts...)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	o.Logger.WithField("path", dbPath).Warn("sqlite: recovered from stale WAL files")
	return store, nil
}

func open(ctx context.Context, dsn string, opts ...storage.Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite supports one writer; a single connection serialises writes and
	// avoids SQLITE_BUSY under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	s := &Store{Store: sqlstore.New(db, storage.Question, fullTextSearch, opts...)}
	if err := s.Migrate(ctx, Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}
	return s, nil
}

// fullTextSearch queries the FTS5 index. Highlights weigh more than body
// text, tags less.
func fullTextSearch(ctx context.Context, db *sql.DB, workspace, query string, limit int) ([]string, error) {
	match := sanitiseFTSQuery(query)
	if match == "" {
		return []string{}, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT entity_id FROM search_documents
		WHERE search_documents MATCH ? AND workspace = ?
		ORDER BY bm25(search_documents, 0.0, 0.0, 0.0, 1.0, 1.5, 0.8)
		LIMIT ?`, match, workspace, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sanitiseFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression: operators are stripped, stop words dropped and every remaining
// term prefix-matched.
//
// Example: "What is the cache?" → `"cache"*`
// Example: "JWT rotation bug" → `"jwt"* OR "rotation"* OR "bug"*`
func sanitiseFTSQuery(query string) string {
	terms := storage.QueryTerms(query)
	for i, t := range terms {
		terms[i] = `"` + t + `"*`
	}
	return strings.Join(terms, " OR ")
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths ("/path/to/db.sqlite") and file: URIs ("file:/path/to/db.sqlite?mode=rwc").
// Returns empty string for in-memory databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// and no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	output, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when no process has the files open.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(log logrus.FieldLogger, dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.WithFields(logrus.Fields{"path": path, "error": err}).Warn("sqlite: failed to remove stale WAL file")
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

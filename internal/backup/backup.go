// Package backup snapshots the SQLite record store with VACUUM INTO,
// verifies the snapshots and prunes them with a tiered retention policy.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	filePrefix = "goldfish-"
	fileExt    = ".db"
	fileLayout = "20060102-150405.000000"
)

// Config locates the database and its snapshots.
type Config struct {
	DBPath    string
	Dir       string
	Verify    bool
	Retention RetentionPolicy
}

// Info describes one snapshot on disk.
type Info struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Result describes a completed snapshot.
type Result struct {
	Path     string
	Duration time.Duration
	Size     int64
	Verified bool
	Pruned   int
}

// Manager takes, lists, prunes and restores snapshots.
type Manager struct {
	cfg Config
	log logrus.FieldLogger
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock sets the time source used for snapshot names and retention.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New validates cfg and creates the snapshot directory.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetention()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}
	m := &Manager{cfg: cfg, log: logrus.StandardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// BackupNow snapshots the database, verifies the snapshot when configured
// and applies the retention policy. Retention failures are logged, not
// returned.
func (m *Manager) BackupNow(ctx context.Context) (Result, error) {
	start := time.Now()
	if _, err := os.Stat(m.cfg.DBPath); err != nil {
		return Result{}, fmt.Errorf("backup: database not found: %w", err)
	}

	name := filePrefix + m.now().UTC().Format(fileLayout) + fileExt
	path := filepath.Join(m.cfg.Dir, name)
	if err := snapshot(ctx, m.cfg.DBPath, path); err != nil {
		return Result{Path: path}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{Path: path}, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}
	res := Result{Path: path, Size: info.Size()}

	if m.cfg.Verify {
		if err := verify(ctx, path); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("backup: verification failed: %w", err)
		}
		res.Verified = true
	}

	pruned, err := m.Prune()
	if err != nil {
		m.log.WithError(err).Warn("backup: failed to apply retention policy")
	}
	res.Pruned = pruned
	res.Duration = time.Since(start)

	m.log.WithFields(logrus.Fields{
		"path":     res.Path,
		"size":     res.Size,
		"verified": res.Verified,
		"pruned":   res.Pruned,
	}).Info("backup: snapshot complete")
	return res, nil
}

// Restore replaces the database with the snapshot at path. The database
// must not be open. On failure the previous database is put back.
func (m *Manager) Restore(ctx context.Context, path string) error {
	if err := verify(ctx, path); err != nil {
		return fmt.Errorf("backup: snapshot %s is not usable: %w", path, err)
	}

	preRestore := m.cfg.DBPath + ".pre-restore"
	_ = os.Remove(preRestore)
	hadDB := false
	if _, err := os.Stat(m.cfg.DBPath); err == nil {
		hadDB = true
		if err := snapshot(ctx, m.cfg.DBPath, preRestore); err != nil {
			return fmt.Errorf("backup: failed to save current database: %w", err)
		}
	}

	if err := install(ctx, path, m.cfg.DBPath); err != nil {
		if hadDB {
			if rbErr := install(ctx, preRestore, m.cfg.DBPath); rbErr != nil {
				return fmt.Errorf("backup: restore failed and rollback failed: %v (restore error: %w)", rbErr, err)
			}
			_ = os.Remove(preRestore)
			return fmt.Errorf("backup: restore failed, rolled back: %w", err)
		}
		return err
	}
	_ = os.Remove(preRestore)

	m.log.WithField("path", path).Info("backup: database restored")
	return nil
}

// snapshot writes a consistent copy of src to dest. VACUUM INTO reads
// through the WAL, so the copy includes committed but uncheckpointed data.
func snapshot(ctx context.Context, src, dest string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", src))
	if err != nil {
		return fmt.Errorf("backup: failed to open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("backup: failed to open source database: %w", err)
	}
	quoted := strings.ReplaceAll(dest, "'", "''")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return fmt.Errorf("backup: VACUUM INTO failed: %w", err)
	}
	return nil
}

// verify runs SQLite's integrity check against path.
func verify(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// install copies src over dest through a temporary file and verifies the
// result. Stale WAL files of the old database are removed first so they
// are not replayed into the restored one.
func install(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".restore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("backup: failed to copy snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	_ = os.Remove(dest + "-wal")
	_ = os.Remove(dest + "-shm")
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	return verify(ctx, dest)
}

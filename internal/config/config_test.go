package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/goldfish/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goldfish.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.BackendFile, cfg.Storage.Backend)
	assert.NotEmpty(t, cfg.Storage.Root)
	assert.Equal(t, filepath.Join(cfg.Storage.Root, "goldfish.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, 2, cfg.Search.MinResults)
	assert.Equal(t, 0.3, cfg.Search.MinFuzzyScore)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.Equal(t, 0.1, cfg.Search.Strict.Tolerance)
	assert.Equal(t, 16, cfg.Search.Fuzzy.Distance)
	assert.Equal(t, 30*time.Minute, cfg.Relations.IdleTTL)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.False(t, cfg.Sync.Enabled)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, filepath.Join(cfg.Storage.Root, "backups"), cfg.Backup.Dir)
	assert.Equal(t, 24, cfg.Backup.Retention.Hourly)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, `
storage:
  backend: sqlite
  root: /srv/goldfish
search:
  min_results: 3
  delegate_full_text: true
  fuzzy:
    tolerance: 0.4
    distance: 8
    subsequence: true
    require: any
relations:
  idle_ttl: 5m
cleanup:
  schedule: "*/15 * * * *"
sync:
  enabled: true
  url: ws://sync.local/records
  timeout: 2s
backup:
  enabled: true
  schedule: "@daily"
  retention:
    daily: 3
log:
  level: debug
  format: json
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join("/srv/goldfish", "goldfish.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, 3, cfg.Search.MinResults)
	assert.True(t, cfg.Search.DelegateFullText)
	assert.Equal(t, 0.4, cfg.Search.Fuzzy.Tolerance)
	assert.Equal(t, 0.1, cfg.Search.Strict.Tolerance, "unset keys keep their defaults")
	assert.Equal(t, 5*time.Minute, cfg.Relations.IdleTTL)
	assert.Equal(t, "*/15 * * * *", cfg.Cleanup.Schedule)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, 256, cfg.Sync.QueueSize)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "/srv/goldfish/backups", filepath.ToSlash(cfg.Backup.Dir))
	assert.Equal(t, 3, cfg.Backup.Retention.Daily)
	assert.Equal(t, 12, cfg.Backup.Retention.Monthly)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "storage:\n  backend: sqlite\nsearch:\n  min_results: 3\n")
	t.Setenv("GOLDFISH_STORAGE_BACKEND", "file")
	t.Setenv("GOLDFISH_STORAGE_ROOT", "/tmp/gf")
	t.Setenv("GOLDFISH_SEARCH_MIN_RESULTS", "4")
	t.Setenv("GOLDFISH_SEARCH_MIN_FUZZY_SCORE", "0.5")
	t.Setenv("GOLDFISH_RELATIONS_IDLE_TTL", "90s")
	t.Setenv("GOLDFISH_CLEANUP_ENABLED", "No")
	t.Setenv("GOLDFISH_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/gf", cfg.Storage.Root)
	assert.Equal(t, 4, cfg.Search.MinResults)
	assert.Equal(t, 0.5, cfg.Search.MinFuzzyScore)
	assert.Equal(t, 90*time.Second, cfg.Relations.IdleTTL)
	assert.False(t, cfg.Cleanup.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_UnparseableEnvKeepsValue(t *testing.T) {
	t.Setenv("GOLDFISH_SEARCH_MIN_RESULTS", "lots")
	t.Setenv("GOLDFISH_SYNC_ENABLED", "maybe")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Search.MinResults)
	assert.False(t, cfg.Sync.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "storage: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown backend":   func(c *config.Config) { c.Storage.Backend = "redis" },
		"postgres w/o dsn":  func(c *config.Config) { c.Storage.Backend = config.BackendPostgres },
		"bad schedule":      func(c *config.Config) { c.Cleanup.Schedule = "every hour" },
		"bad sync url":      func(c *config.Config) { c.Sync.Enabled = true; c.Sync.URL = "http://x" },
		"bad log level":     func(c *config.Config) { c.Log.Level = "loud" },
		"bad log format":    func(c *config.Config) { c.Log.Format = "xml" },
		"bad search limits": func(c *config.Config) { c.Search.DefaultLimit = 0 },
		"zero idle ttl":     func(c *config.Config) { c.Relations.IdleTTL = 0 },
		"backup on file":    func(c *config.Config) { c.Backup.Enabled = true },
		"negative keep": func(c *config.Config) {
			c.Storage.Backend = config.BackendSQLite
			c.Storage.SQLitePath = "/tmp/goldfish.db"
			c.Backup.Enabled = true
			c.Backup.Retention.Daily = -1
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := config.Default()
	cfg.Cleanup.Enabled = false
	cfg.Cleanup.Schedule = "ignored when disabled"
	assert.NoError(t, cfg.Validate())
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := config.LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("workspace", "demo").Debug("hello")
	assert.Contains(t, buf.String(), `"workspace":"demo"`)

	_, err = config.LogConfig{Level: "loud"}.NewLogger(&buf)
	assert.Error(t, err)
}

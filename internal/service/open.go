package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/goldfish/internal/config"
	"github.com/scrypster/goldfish/internal/relations"
	"github.com/scrypster/goldfish/internal/search"
	"github.com/scrypster/goldfish/internal/storage"
	"github.com/scrypster/goldfish/internal/storage/file"
	"github.com/scrypster/goldfish/internal/storage/postgres"
	"github.com/scrypster/goldfish/internal/storage/sqlite"
)

// OpenStore opens the record store selected by cfg.Storage.Backend.
func OpenStore(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger, opts ...storage.Option) (storage.RecordStore, error) {
	opts = append([]storage.Option{storage.WithLogger(log)}, opts...)
	switch cfg.Backend {
	case config.BackendFile, "":
		s, err := file.New(cfg.Root, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("service: create sqlite directory: %w", err)
			}
		}
		s, err := sqlite.Open(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		pool := postgres.PoolConfig{
			MaxOpenConns:    cfg.PostgresMaxOpenConns,
			MaxIdleConns:    cfg.PostgresMaxIdleConns,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		}
		s, err := postgres.Open(ctx, cfg.PostgresDSN, pool, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, storage.InvalidInput("unknown storage backend %q", cfg.Backend)
	}
}

// Open builds a Service from cfg: the configured store, a relationship index
// and a search engine over it.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, opts ...Option) (*Service, error) {
	store, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	index := relations.New(store,
		relations.WithIdleTTL(cfg.Relations.IdleTTL),
		relations.WithLogger(log),
	)
	engine := search.New(store, cfg.Search, search.WithLogger(log))

	log.WithFields(logrus.Fields{
		"backend": cfg.Storage.Backend,
	}).Info("service: store opened")
	return New(store, index, engine, append([]Option{WithLogger(log)}, opts...)...), nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/platform/db"
	"github.com/groupspend/groupspend/internal/receipts"
	"github.com/groupspend/groupspend/internal/storage/sqlite"
)

// Storage bundles the repositories of the configured backend.
type Storage struct {
	Receipts receipts.Repository
	Groups   groups.Repository
	Expenses allocation.Repository

	ping  func(context.Context) error
	close func()
}

// Ping reports whether the backend is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases backend resources.
func (s *Storage) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// OpenStorage migrates and opens the backend selected by DATA_BACKEND.
func OpenStorage(ctx context.Context, cfg *Config, logger *slog.Logger) (*Storage, error) {
	switch cfg.DataBackend {
	case BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("storage ready", slog.String("backend", BackendSQLite), slog.String("path", cfg.SQLitePath))
		return &Storage{
			Receipts: store.Receipts(),
			Groups:   store.Groups(),
			Expenses: store.Expenses(),
			ping:     store.Ping,
			close: func() {
				if err := store.Close(); err != nil {
					logger.Warn("sqlite close", slog.Any("error", err))
				}
			},
		}, nil
	case BackendPostgres:
		if err := db.MigratePostgres(cfg.PGDSN); err != nil {
			return nil, err
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 10, AppName: "groupspend"})
		if err != nil {
			return nil, err
		}
		logger.Info("storage ready", slog.String("backend", BackendPostgres))
		return &Storage{
			Receipts: receipts.NewRepository(pool),
			Groups:   groups.NewRepository(pool),
			Expenses: allocation.NewRepository(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("app: unsupported backend %q", cfg.DataBackend)
	}
}

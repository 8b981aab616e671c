package app

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/bulkmail-engine/internal/config"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
	"github.com/kursadbilgin/bulkmail-engine/internal/infra/migrations"
	"github.com/kursadbilgin/bulkmail-engine/internal/infra/mysql"
	"github.com/kursadbilgin/bulkmail-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/bulkmail-engine/internal/infra/redis"
	"github.com/kursadbilgin/bulkmail-engine/internal/infra/sqlite"
	"github.com/kursadbilgin/bulkmail-engine/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreStatus describes an opened record store.
type StoreStatus struct {
	Backend string
	LastID  domain.Identifier
	HasLast bool
}

// OpenRecordStore connects the configured backend and prepares its schema.
// When the backend cannot be reached and STORE_FALLBACK is set, the local
// sqlite file is used instead. The returned name is the backend in use.
func OpenRecordStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.RecordStore, string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := openBackend(ctx, cfg, cfg.StoreBackend)
	if err == nil {
		return store, cfg.StoreBackend, nil
	}
	if !cfg.StoreFallback || !isRemoteBackend(cfg.StoreBackend) {
		return nil, "", fmt.Errorf("%w: open %s store: %w", domain.ErrStore, cfg.StoreBackend, err)
	}

	logger.Warn("record store unavailable, falling back to sqlite",
		zap.String("backend", cfg.StoreBackend),
		zap.String("path", cfg.SQLitePath),
		zap.Error(err),
	)

	store, fallbackErr := openBackend(ctx, cfg, config.BackendSQLite)
	if fallbackErr != nil {
		return nil, "", fmt.Errorf("%w: open sqlite fallback after %s failed (%v): %w", domain.ErrStore, cfg.StoreBackend, err, fallbackErr)
	}
	return store, config.BackendSQLite, nil
}

func isRemoteBackend(backend string) bool {
	switch backend {
	case config.BackendPostgres, config.BackendMySQL, config.BackendRedis:
		return true
	}
	return false
}

func openBackend(ctx context.Context, cfg *config.Config, backend string) (repository.RecordStore, error) {
	var store repository.RecordStore

	switch backend {
	case config.BackendSQLite:
		db, err := sqlite.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = repository.NewSQLiteRecordStore(db)
	case config.BackendPostgres:
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if store, err = migratedGormStore(db); err != nil {
			return nil, err
		}
	case config.BackendMySQL:
		db, err := mysql.NewMySQL(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if store, err = migratedGormStore(db); err != nil {
			return nil, err
		}
	case config.BackendRedis:
		client, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisStore, err := repository.NewRedisRecordStore(client, cfg.RedisKeyPrefix)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		store = redisStore
	case config.BackendNone:
		return repository.NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping %s store: %w", backend, err)
	}
	return store, nil
}

func migratedGormStore(db *gorm.DB) (repository.RecordStore, error) {
	store := repository.NewGormRecordRepo(db)
	if err := migrations.Migrate(db); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}
	return store, nil
}

// CheckStore opens the store, reads the resume cursor and closes it again.
// Opening also creates the schema, so this doubles as the init-db step.
func CheckStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (StoreStatus, error) {
	store, backend, err := OpenRecordStore(ctx, cfg, logger)
	if err != nil {
		return StoreStatus{}, err
	}
	defer store.Close() //nolint:errcheck

	last, ok, err := store.LastIdentifier(ctx)
	if err != nil {
		return StoreStatus{}, fmt.Errorf("%w: read last identifier: %w", domain.ErrStore, err)
	}

	return StoreStatus{Backend: backend, LastID: last, HasLast: ok}, nil
}

// Package app wires the ASCEND processes (API server and background worker)
// from configuration: logging, storage, Redis and the quest catalog.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ascend-app/ascend/config"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/infrastructure/catalog"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/memory"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/postgres"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/redis"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/sqlite"
	"github.com/ascend-app/ascend/pkg/logger"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// NewLogger builds the process logger. LOG_FORMAT=console (or text) switches
// to the human-readable encoder.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.App.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	switch strings.ToLower(cfg.App.LogFormat) {
	case "console", "text":
		opts.Development = true
	}
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)
}

// NewCalendar returns the calendar every day boundary is computed in.
func NewCalendar(cfg *config.Config) *timeutil.Calendar {
	return timeutil.NewCalendarIn(cfg.App.Location)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// Storage is the opened persistence backend behind the domain interfaces.
type Storage struct {
	Driver string
	Store  progression.Store
	Users  progression.UserRepository
	Quests progression.QuestRepository
	Pinger progression.Pinger

	close func() error
}

// Close releases the backend.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage opens the backend selected by STORE_DRIVER. Postgres
// migrations run first when DB_AUTO_MIGRATE is set; SQLite always migrates
// on open.
func OpenStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Storage, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Store.AutoMigrate {
			if err := postgres.Migrate(cfg.Store.DatabaseURL, "up"); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			log.Info("postgres migrations applied")
		}

		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Store.DatabaseURL
		pgCfg.MaxConns = cfg.Store.MaxConns
		pgCfg.MinConns = cfg.Store.MinConns
		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := postgres.NewStore(conn)
		log.Info("connected to postgres", logger.Int("max_conns", int(pgCfg.MaxConns)))
		return &Storage{
			Driver: config.DriverPostgres,
			Store:  store,
			Users:  store,
			Quests: postgres.NewQuestRepository(conn),
			Pinger: store,
			close: func() error {
				conn.Close()
				return nil
			},
		}, nil

	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info("opened sqlite store", logger.String("path", cfg.Store.SQLitePath))
		return &Storage{
			Driver: config.DriverSQLite,
			Store:  store,
			Users:  store,
			Quests: store,
			Pinger: store,
			close:  store.Close,
		}, nil

	case config.DriverMemory:
		store := memory.New()
		log.Warn("using in-memory store, data is lost on exit")
		return &Storage{
			Driver: config.DriverMemory,
			Store:  store,
			Users:  store,
			Quests: store,
			Pinger: store,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG & REDIS
// ══════════════════════════════════════════════════════════════════════════════

// LoadCatalog reads CATALOG_PATH (or the built-in seed) and upserts it into
// the store when CATALOG_SYNC is set.
func LoadCatalog(ctx context.Context, cfg *config.Config, repo progression.QuestRepository, log *logger.Logger) error {
	var (
		quests []progression.QuestDefinition
		err    error
	)
	if cfg.Catalog.Path != "" {
		quests, err = catalog.LoadFile(cfg.Catalog.Path)
	} else {
		quests, err = catalog.Default()
	}
	if err != nil {
		return fmt.Errorf("load quest catalog: %w", err)
	}
	if !cfg.Catalog.SyncOnStart {
		log.Info("quest catalog sync disabled", logger.Int("quests", len(quests)))
		return nil
	}
	return catalog.Sync(ctx, repo, quests, log)
}

// OpenRedis connects when REDIS_ENABLED is set and returns nil otherwise.
func OpenRedis(ctx context.Context, cfg *config.Config, log *logger.Logger) (*redis.Cache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.PoolSize = cfg.Redis.PoolSize
	rc.KeyPrefix = cfg.Redis.KeyPrefix

	cache, err := redis.NewCache(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("connected to redis", logger.String("prefix", rc.KeyPrefix))
	return cache, nil
}

// closeAll runs closers in reverse order and joins their errors.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Migrate applies schema migrations for the configured driver. SQLite only
// migrates up; the in-memory store has no schema.
func Migrate(ctx context.Context, cfg *config.Config, direction string, log *logger.Logger) error {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if err := postgres.Migrate(cfg.Store.DatabaseURL, direction); err != nil {
			return err
		}
	case config.DriverSQLite:
		if direction != "up" {
			return fmt.Errorf("sqlite supports only up migrations, got %q", direction)
		}
		storage, err := OpenStorage(ctx, cfg, log)
		if err != nil {
			return err
		}
		if err := storage.Close(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store driver %q has no migrations", cfg.Store.Driver)
	}
	log.Info("migrations applied",
		logger.String("driver", cfg.Store.Driver),
		logger.String("direction", direction),
	)
	return nil
}

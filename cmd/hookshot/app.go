package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/shohag/hookshot/internal/config"
	"github.com/shohag/hookshot/internal/queue"
	"github.com/shohag/hookshot/internal/storage"
)

// app holds what every command needs: config, logger, a migrated store
// and the configured queue.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   storage.Storage
	queue   queue.Queue
	closers []func()
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	rt := &app{cfg: cfg, log: setupLogger(cfg.Logging)}

	store, err := setupStorage(ctx, cfg.Storage, rt.log)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, func() { store.Close() })

	if err := store.Migrate(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	rt.log.Debug().Msg("database migrations completed")

	q, closeQueue, err := setupQueue(ctx, cfg, store, rt.log)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to setup queue: %w", err)
	}
	rt.queue = q
	rt.closers = append(rt.closers, closeQueue)

	return rt, nil
}

func (rt *app) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setupStorage(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "postgres":
		if cfg.Postgres.URL == "" {
			return nil, fmt.Errorf("storage.postgres.url is required for the postgres driver")
		}
		log.Info().Int("max_conns", cfg.Postgres.MaxConns).Msg("using PostgreSQL storage")
		return storage.NewPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupQueue(ctx context.Context, cfg *config.Config, store storage.Storage, log zerolog.Logger) (queue.Queue, func(), error) {
	switch cfg.Queue.Driver {
	case "", "store":
		log.Info().Dur("lease", cfg.Lease()).Msg("using store-backed queue")
		return queue.NewStoreQueue(store, cfg.Lease()), func() {}, nil
	case "redis":
		rc := cfg.Queue.Redis
		client, err := queue.DialRedis(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", rc.Addr).Str("key", rc.Key).Msg("using Redis queue")
		return queue.NewRedisQueue(client, rc.Key, cfg.Lease()), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
}

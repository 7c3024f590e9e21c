package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"agentpass/internal/approval"
	httpapi "agentpass/internal/http"
	"agentpass/internal/platform/config"
	"agentpass/internal/platform/kv"
	"agentpass/internal/platform/postgres"
	"agentpass/internal/platform/redis"
	"agentpass/internal/ratelimit"
)

const redisNamespace = "agentpass"

// backend is the storage selected by AGENTPASS_STORAGE.
type backend struct {
	kv        kv.Store
	approvals approval.Store
	limits    ratelimit.Store
	health    []httpapi.HealthCheck
	close     func()
}

func openBackend(ctx context.Context, cfg config.Server, log *slog.Logger) (*backend, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		store := kv.NewMemory()
		return &backend{
			kv:        store,
			approvals: approval.NewKVStore(store),
			limits:    ratelimit.NewMemoryStore(nil),
			close:     func() {},
		}, nil

	case config.StorageRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, fmt.Errorf("REDIS_URL is required for redis storage")
		}
		store := kv.NewRedisStore(client.Client, redisNamespace)
		log.InfoContext(ctx, "using redis storage")
		return &backend{
			kv:        store,
			approvals: approval.NewKVStore(store),
			limits:    ratelimit.NewRedisStore(client.Client, redisNamespace),
			health:    []httpapi.HealthCheck{{Name: "redis", Probe: client.Health}},
			close:     func() { _ = client.Close() },
		}, nil

	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.InfoContext(ctx, "using postgres storage")
		return &backend{
			kv:        kv.NewPostgresStore(db),
			approvals: approval.NewPostgresStore(db),
			limits:    ratelimit.NewMemoryStore(nil),
			health:    []httpapi.HealthCheck{{Name: "postgres", Probe: pinger(db)}},
			close:     func() { _ = db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}

func pinger(db *sql.DB) func(context.Context) error {
	return db.PingContext
}

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecgard/pantry/internal/account"
	"github.com/alecgard/pantry/internal/api"
	"github.com/alecgard/pantry/internal/config"
	"github.com/alecgard/pantry/internal/device"
	"github.com/alecgard/pantry/internal/quota"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// accountStore is what both the tracker and the signup route need.
type accountStore interface {
	quota.IdentityStore
	api.AccountCreator
}

// backends holds the opened storage layers for a command.
type backends struct {
	pool     *pgxpool.Pool
	accounts accountStore
	devices  device.Store
	pingers  map[string]api.Pinger
	closers  []func()
}

// openBackends connects the account and device stores selected by cfg.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{pingers: make(map[string]api.Pinger)}

	if cfg.NeedsDatabase() {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("creating database pool: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		slog.Info("connected to database")
		b.pool = pool
		b.pingers["database"] = pool
	}

	switch cfg.Accounts.Backend {
	case config.BackendPostgres:
		b.accounts = account.NewStore(b.pool)
	default:
		slog.Warn("using in-memory account store; usage records are lost on restart")
		b.accounts = account.NewMemoryStore()
	}

	switch cfg.Devices.Backend {
	case config.BackendSQLite:
		s, err := device.OpenSQLite(cfg.Devices.SQLitePath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		b.devices = s
		b.pingers["devices"] = s
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Devices.Redis.Addr,
			Password: cfg.Devices.Redis.Password,
			DB:       cfg.Devices.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		s := device.NewRedisStore(client, cfg.Devices.Redis.Prefix)
		if err := s.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		b.devices = s
		b.pingers["devices"] = s
	default:
		b.devices = device.NewMemoryStore()
	}

	return b, nil
}

// Close releases every opened backend in reverse order.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// newTracker builds a tracker over b with the configured limits and zone.
func newTracker(cfg *config.Config, b *backends) *quota.Tracker {
	return quota.NewTracker(b.accounts, b.devices, quota.NewSystemClock(cfg.Location()), quota.Limits{
		WeeklyCap:          cfg.Quota.WeeklyCap,
		AnonymousWeeklyCap: cfg.Quota.AnonymousWeeklyCap,
	})
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

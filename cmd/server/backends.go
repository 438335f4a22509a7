package main

import (
	"context"
	"fmt"

	"github.com/pilab-dev/shadow-auth/cache"
	boltstore "github.com/pilab-dev/shadow-auth/cache/bolt"
	redisstore "github.com/pilab-dev/shadow-auth/cache/redis"
	"github.com/pilab-dev/shadow-auth/config"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/auth/rbac"
	"github.com/pilab-dev/shadow-auth/internal/federation"
	"github.com/pilab-dev/shadow-auth/internal/memstore"
	"github.com/pilab-dev/shadow-auth/internal/server"
	"github.com/pilab-dev/shadow-auth/log"
	"github.com/pilab-dev/shadow-auth/mongodb"
	"github.com/redis/go-redis/v9"
)

// backends are the stores selected by configuration.
type backends struct {
	accounts domain.AccountRepository
	bindings domain.OAuthBindingRepository
	logins   domain.OAuthLoginRepository
	groups   domain.GroupPermissionRepository
	kv       cache.Store

	checks  map[string]server.HealthCheck
	closers []func(ctx context.Context)
}

func (b *backends) close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i](ctx)
	}
}

func openBackends(ctx context.Context, cfg *config.ServerConfig, appLogger log.Logger) (*backends, error) {
	b := &backends{checks: map[string]server.HealthCheck{}}

	if err := b.openKV(cfg, appLogger); err != nil {
		b.close(ctx)
		return nil, err
	}
	if err := b.openDurable(ctx, cfg); err != nil {
		b.close(ctx)
		return nil, err
	}

	appLogger.Info(ctx, "Stores initialized", log.Fields{"kv": cfg.Store.KV, "durable": cfg.Store.Durable})
	return b, nil
}

func (b *backends) openKV(cfg *config.ServerConfig, appLogger log.Logger) error {
	switch cfg.Store.KV {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.kv = redisstore.NewStore(client, cfg.Redis.Prefix)
		b.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

	case config.BackendBolt:
		store, err := boltstore.NewStore(cfg.Bolt.Path, cfg.Bolt.CleanupInterval)
		if err != nil {
			return fmt.Errorf("open bolt store: %w", err)
		}
		b.kv = store

	default:
		appLogger.Warn(context.Background(), "Using the in-memory kv store; state is lost on restart and not shared between instances.")
		b.kv = cache.NewMemoryStore()
	}

	kv := b.kv
	b.closers = append(b.closers, func(ctx context.Context) {
		if err := kv.Close(); err != nil {
			appLogger.Error(ctx, "Closing kv store failed", err)
		}
	})
	return nil
}

func (b *backends) openDurable(ctx context.Context, cfg *config.ServerConfig) error {
	if cfg.Store.Durable != config.BackendMongo {
		groups := memstore.NewGroupPermissionRepository()
		for group, perms := range rbac.DefaultGroupPermissions {
			groups.Grant(group, perms...)
		}
		b.accounts = memstore.NewAccountRepository()
		b.bindings = memstore.NewOAuthBindingRepository()
		b.logins = memstore.NewOAuthLoginRepository()
		b.groups = groups
		return nil
	}

	if err := mongodb.InitMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database); err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	b.closers = append(b.closers, mongodb.CloseMongoDB)
	b.checks["mongo"] = mongodb.Ping

	db, err := mongodb.GetDB()
	if err != nil {
		return err
	}

	if b.accounts, err = mongodb.NewAccountRepositoryMongo(ctx, db); err != nil {
		return fmt.Errorf("init account repository: %w", err)
	}
	if b.bindings, err = mongodb.NewOAuthBindingRepositoryMongo(ctx, db); err != nil {
		return fmt.Errorf("init binding repository: %w", err)
	}
	if b.logins, err = mongodb.NewOAuthLoginRepositoryMongo(ctx, db, cfg.Mongo.OAuthLoginRetention); err != nil {
		return fmt.Errorf("init oauth login repository: %w", err)
	}

	groups, err := mongodb.NewGroupPermissionRepositoryMongo(ctx, db)
	if err != nil {
		return fmt.Errorf("init group permission repository: %w", err)
	}
	for group, perms := range rbac.DefaultGroupPermissions {
		if err := groups.Grant(ctx, group, perms...); err != nil {
			return fmt.Errorf("seed permissions of %s: %w", group, err)
		}
	}
	b.groups = groups
	return nil
}

// buildProviders registers every provider that has client credentials.
func buildProviders(cfg *config.ServerConfig, appLogger log.Logger) (*federation.Registry, error) {
	httpClient := federation.NewHTTPClient(cfg.HTTPOptions())
	retry := cfg.RetryPolicy()

	var exchangers []federation.IdentityExchanger
	for _, code := range config.KnownProviders {
		pc, ok := cfg.Providers[code]
		if !ok || pc.ClientID == "" || pc.ClientSecret == "" {
			appLogger.Info(context.Background(), "OAuth provider disabled, no client credentials", log.Fields{"provider": code})
			continue
		}
		switch code {
		case federation.GitHubCode:
			exchangers = append(exchangers, federation.NewGitHubProvider(pc, httpClient, retry))
		case federation.LinuxDoCode:
			exchangers = append(exchangers, federation.NewLinuxDoProvider(pc, httpClient, retry))
		}
	}

	return federation.NewRegistry(exchangers...)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/cache"
	"github.com/BaSui01/flowcanvas/internal/database"
	"github.com/BaSui01/flowcanvas/types"
)

const connectTimeout = 5 * time.Second

// Recorder is the metrics surface the assembled store reports to.
// *metrics.Collector satisfies it.
type Recorder interface {
	OperationRecorder
	CacheRecorder
	RecordDBConnections(database string, open, idle int)
}

// New builds the store selected by cfg.Store.Type, optionally fronted by the
// redis cache, and wraps it with instrumentation. recorder may be nil.
func New(cfg *config.Config, recorder Recorder, logger *zap.Logger) (*InstrumentedStore, error) {
	var (
		backend DocumentStore
		client  *redis.Client
		err     error
	)

	switch cfg.Store.Type {
	case BackendMemory, "":
		backend = NewMemoryStore()
	case BackendFile:
		backend, err = NewFileStore(cfg.Store.Dir, cfg.Store.Format, logger)
	case BackendRedis:
		client, err = dialRedis(cfg.Redis)
		if err == nil {
			backend = NewRedisStore(client, cfg.Store.KeyPrefix, true, logger)
		}
	case BackendDatabase:
		backend, err = openDatabase(cfg.Database, recorder, logger)
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown store type %q", cfg.Store.Type)
	}
	if err != nil {
		return nil, types.Errorf(types.ErrStoreUnavailable, "open %s store", cfg.Store.Type).WithCause(err)
	}

	if cfg.Store.Cache.Enabled {
		cached, err := withCache(backend, client, cfg, recorder, logger)
		if err != nil {
			_ = backend.Close()
			return nil, types.Errorf(types.ErrStoreUnavailable, "open store cache").WithCause(err)
		}
		backend = cached
	}

	backendName := cfg.Store.Type
	if backendName == "" {
		backendName = BackendMemory
	}
	logger.Info("workflow store ready",
		zap.String("backend", backendName),
		zap.Bool("cache", cfg.Store.Cache.Enabled),
	)

	var ops OperationRecorder
	if recorder != nil {
		ops = recorder
	}
	return NewInstrumentedStore(backend, backendName, cfg.Store.Timeout, ops), nil
}

func dialRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func openDatabase(cfg config.DatabaseConfig, recorder Recorder, logger *zap.Logger) (*DatabaseStore, error) {
	db, err := database.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}

	poolCfg := database.DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = cfg.MaxIdleConns
	}
	if poolCfg.MaxIdleConns > poolCfg.MaxOpenConns {
		poolCfg.MaxIdleConns = poolCfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = cfg.ConnMaxLifetime
	}

	var opts []database.PoolOption
	if recorder != nil {
		driver := cfg.Driver
		opts = append(opts, database.WithStatsReporter(func(open, idle int) {
			recorder.RecordDBConnections(driver, open, idle)
		}))
	}

	pool, err := database.NewPool(db, poolCfg, logger, opts...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping %s: %w", cfg.Driver, err), pool.Close())
	}

	st, err := NewDatabaseStore(pool, cfg.AutoMigrate, logger)
	if err != nil {
		return nil, errors.Join(err, pool.Close())
	}
	return st, nil
}

// withCache fronts backend with a cache manager. A redis backend shares its
// client with the cache; any other backend gets a dedicated connection.
func withCache(backend DocumentStore, client *redis.Client, cfg *config.Config, recorder Recorder, logger *zap.Logger) (*CachedStore, error) {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = cfg.Redis.Addr
	cacheCfg.Password = cfg.Redis.Password
	cacheCfg.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		cacheCfg.PoolSize = cfg.Redis.PoolSize
	}
	cacheCfg.MinIdleConns = cfg.Redis.MinIdleConns
	cacheCfg.TTL = cfg.Store.Cache.TTL

	var (
		mgr *cache.Manager
		err error
	)
	if client != nil {
		cacheCfg.HealthCheckInterval = 0
		mgr = cache.NewManagerWithClient(client, cacheCfg, logger)
	} else {
		mgr, err = cache.NewManager(cacheCfg, logger)
		if err != nil {
			return nil, err
		}
	}

	var rec CacheRecorder
	if recorder != nil {
		rec = recorder
	}
	return NewCachedStore(backend, mgr, rec, logger), nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 缓存未命中
	ErrCacheMiss = errors.New("cache miss")
	// ErrCorruptEntry 缓存条目无法解析，调用方应当 Invalidate
	ErrCorruptEntry = errors.New("corrupt cache entry")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// =============================================================================
// 💾 版本化快照缓存
// =============================================================================

// Entry 一条缓存的快照。每个键对应一个 hash：v 为版本号，d 为编码后的内容。
type Entry struct {
	Version uint64
	Data    []byte
}

// putIfNewer 只在缓存中没有更高版本时写入，避免慢读回填覆盖新保存的快照。
var putIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Config 缓存配置
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// 所有键自动加前缀
	KeyPrefix string
	// 0 表示永不过期
	TTL time.Duration
	// 0 表示不做后台健康检查
	HealthCheckInterval time.Duration
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		KeyPrefix:           "flowcanvas:cache:",
		TTL:                 10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager 基于 Redis 的版本化缓存
type Manager struct {
	client *redis.Client
	owned  bool
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewManager 建立专用 Redis 连接，连接失败时返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := newManager(client, cfg, logger)
	m.owned = true
	return m, nil
}

// NewManagerWithClient 复用已有客户端；Close 不会关闭它
func NewManagerWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *Manager {
	return newManager(client, cfg, logger)
}

func newManager(client *redis.Client, cfg Config, logger *zap.Logger) *Manager {
	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.watch()
	}
	m.logger.Info("cache manager initialized",
		zap.String("addr", client.Options().Addr),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.Duration("ttl", cfg.TTL),
	)
	return m
}

func (m *Manager) key(k string) string { return m.cfg.KeyPrefix + k }

// guard 在读锁下执行 fn，管理器关闭后返回 ErrClosed
func (m *Manager) guard(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn()
}

// Get 读取一条缓存
func (m *Manager) Get(ctx context.Context, key string) (Entry, error) {
	var entry Entry
	err := m.guard(func() error {
		vals, err := m.client.HMGet(ctx, m.key(key), "v", "d").Result()
		if err != nil {
			return fmt.Errorf("cache get failed: %w", err)
		}
		if vals[0] == nil && vals[1] == nil {
			return ErrCacheMiss
		}
		rawVersion, ok1 := vals[0].(string)
		data, ok2 := vals[1].(string)
		if !ok1 || !ok2 {
			return ErrCorruptEntry
		}
		v, err := strconv.ParseUint(rawVersion, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: version %q", ErrCorruptEntry, rawVersion)
		}
		entry = Entry{Version: v, Data: []byte(data)}
		return nil
	})
	return entry, err
}

// Put 写入 version 版本的内容；缓存中已有更高版本时不写入并返回 false
func (m *Manager) Put(ctx context.Context, key string, version uint64, data []byte) (bool, error) {
	var stored bool
	err := m.guard(func() error {
		n, err := putIfNewer.Run(ctx, m.client,
			[]string{m.key(key)},
			version, data, m.cfg.TTL.Milliseconds(),
		).Int()
		if err != nil {
			return fmt.Errorf("cache put failed: %w", err)
		}
		stored = n == 1
		return nil
	})
	return stored, err
}

// Invalidate 删除若干键
func (m *Manager) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return m.guard(func() error {
		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = m.key(k)
		}
		if err := m.client.Del(ctx, full...).Err(); err != nil {
			return fmt.Errorf("cache invalidate failed: %w", err)
		}
		return nil
	})
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	return m.guard(func() error { return m.client.Ping(ctx).Err() })
}

// Close 停止健康检查；仅关闭自己建立的连接
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	if m.owned {
		return m.client.Close()
	}
	return nil
}

func (m *Manager) watch() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.Ping(ctx)
		cancel()

		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil && healthy:
			m.logger.Warn("cache unreachable, reads fall through to the store", zap.Error(err))
			healthy = false
		case err == nil && !healthy:
			m.logger.Info("cache reachable again")
			healthy = true
		}
	}
}

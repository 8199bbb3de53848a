package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("database pool is closed")

// Dialector 按驱动名返回 GORM 方言；sqlite 使用纯 Go 实现，无需 cgo
func Dialector(driverName, dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty for driver %q", driverName)
	}
	switch driverName {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driverName)
}

// Open 打开 GORM 连接，SQL 日志静默
func Open(driverName, dsn string) (*gorm.DB, error) {
	dialector, err := Dialector(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// =============================================================================
// 🗄️ 连接池
// =============================================================================

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// 0 表示不做后台探活
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate 拒绝非正连接数与空闲数大于最大连接数的配置
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	case c.MaxIdleConns <= 0:
		return fmt.Errorf("max_idle_conns must be positive, got %d", c.MaxIdleConns)
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// StatsReporter 接收每次探活成功后的连接数
type StatsReporter func(open, idle int)

// PoolOption 连接池选项
type PoolOption func(*Pool)

// WithStatsReporter 设置连接数回调
func WithStatsReporter(r StatsReporter) PoolOption {
	return func(p *Pool) { p.reporter = r }
}

// Pool 持有 GORM 连接与底层 sql.DB
type Pool struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	cfg      PoolConfig
	logger   *zap.Logger
	reporter StatsReporter

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewPool 应用连接池参数；HealthCheckInterval > 0 时启动后台探活
func NewPool(db *gorm.DB, cfg PoolConfig, logger *zap.Logger, opts ...PoolOption) (*Pool, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "db_pool"), zap.String("dialect", db.Dialector.Name())),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.HealthCheckInterval > 0 {
		go p.probeLoop()
	}
	p.logger.Info("database pool initialized",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return p, nil
}

// DB 返回 GORM 实例
func (p *Pool) DB() *gorm.DB { return p.db }

// Ping 检查数据库连接
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Close 停止探活并关闭连接；可重复调用
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)
	p.logger.Info("closing database pool")
	return p.sqlDB.Close()
}

func (p *Pool) probeLoop() {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *Pool) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		if !errors.Is(err, ErrPoolClosed) {
			p.logger.Error("database probe failed", zap.Error(err))
		}
		return
	}
	st := p.sqlDB.Stats()
	if p.reporter != nil {
		p.reporter(st.OpenConnections, st.Idle)
	}
	p.logger.Debug("database probe passed",
		zap.Int("open", st.OpenConnections),
		zap.Int("in_use", st.InUse),
		zap.Int("idle", st.Idle),
		zap.Int64("wait_count", st.WaitCount),
	)
}

// =============================================================================
// 🔄 事务
// =============================================================================

// InTx 在一个事务中执行 fn，fn 返回错误时回滚
func (p *Pool) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

// InTxRetry 最多执行 attempts 次事务，仅对 Retryable 错误按指数退避重试
func (p *Pool) InTxRetry(ctx context.Context, attempts int, fn func(tx *gorm.DB) error) error {
	attempts = max(attempts, 1)
	backoff := 50 * time.Millisecond

	var err error
	for i := 1; ; i++ {
		if err = p.InTx(ctx, fn); err == nil || !Retryable(err) {
			return err
		}
		if i == attempts {
			return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
		}

		p.logger.Warn("transaction conflict, retrying",
			zap.Int("attempt", i),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// Retryable 判断错误是否为可重试的瞬时冲突：
// postgres 的序列化失败、死锁与锁等待（40001/40P01/55P03），
// mysql 的锁等待超时与死锁（1205/1213），连接失效，以及 sqlite 忙。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1205 || myErr.Number == 1213
	}

	// sqlite 驱动与网络层错误没有可断言的类型
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"database is locked",
	"sqlite_busy",
	"deadlock",
	"connection reset",
	"broken pipe",
}

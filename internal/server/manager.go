package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// ErrServerClosed Start 在 Shutdown 之后调用
var ErrServerClosed = errors.New("server is closed")

// Config 服务器配置
type Config struct {
	// 仅用于日志
	Name string
	Addr string

	ReadTimeout time.Duration
	// 升级后的 WebSocket 连接不受此限制
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Manager 管理一个 http.Server 的启动与关闭。
//
// 所有请求的 context 都派生自 Manager 的基础 context，Shutdown 在排空普通
// 请求后取消它，并等待已升级的长连接（WebSocket）退出，然后才执行
// OnShutdown 钩子。
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	base       context.Context
	cancelBase context.CancelFunc
	streams    sync.WaitGroup
	active     atomic.Int64

	errCh chan error

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	hooks    []func(context.Context)
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name)),
		errCh:  make(chan error, 1),
	}
	m.base, m.cancelBase = context.WithCancel(context.Background())
	m.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           m.trackStreams(handler),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return m.base },
	}
	return m
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// trackStreams 统计升级请求，Shutdown 需要等待它们结束
func (m *Manager) trackStreams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		m.streams.Add(1)
		m.active.Add(1)
		defer func() {
			m.active.Add(-1)
			m.streams.Done()
		}()
		next.ServeHTTP(w, r)
	})
}

// Start 监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrServerClosed
	case m.listener != nil:
		return fmt.Errorf("server %s already started", m.cfg.Name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.listener = ln
	m.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// OnShutdown 注册关闭钩子，在长连接退出后按注册顺序执行
func (m *Manager) OnShutdown(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Shutdown 优雅关闭，整个过程受 ShutdownTimeout 约束；可重复调用
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	hooks := append([]func(context.Context){}, m.hooks...)
	m.mu.Unlock()

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	m.logger.Info("shutting down HTTP server", zap.Int64("open_streams", m.active.Load()))

	err := m.srv.Shutdown(ctx)
	m.cancelBase()
	if werr := m.waitStreams(ctx); werr != nil {
		err = errors.Join(err, werr)
	}

	for _, hook := range hooks {
		hook(ctx)
	}

	if err != nil {
		m.logger.Error("HTTP server shutdown incomplete", zap.Error(err))
		return err
	}
	m.logger.Info("HTTP server stopped")
	return nil
}

func (m *Manager) waitStreams(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d streams still open: %w", m.active.Load(), ctx.Err())
	}
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM、ctx 取消或服务器异常退出，然后关闭服务器
func (m *Manager) WaitForShutdown(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		if ctx.Err() != nil {
			m.logger.Info("shutdown requested", zap.Error(ctx.Err()))
		} else {
			m.logger.Info("received shutdown signal")
		}
	case err := <-m.errCh:
		m.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors 返回后台 Serve 的异常退出错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// ListenAddr 返回实际绑定地址；未启动时为空
func (m *Manager) ListenAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// ActiveStreams 当前仍在服务的升级连接数
func (m *Manager) ActiveStreams() int64 {
	return m.active.Load()
}

// IsRunning 是否尚未关闭
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

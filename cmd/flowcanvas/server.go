package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowcanvas/api/handlers"
	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/metrics"
	"github.com/BaSui01/flowcanvas/internal/server"
	"github.com/BaSui01/flowcanvas/internal/session"
	"github.com/BaSui01/flowcanvas/internal/store"
	"github.com/BaSui01/flowcanvas/internal/telemetry"
	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 FlowCanvas 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	telemetry *telemetry.Providers
	collector *metrics.Collector
	store     *store.InstrumentedStore
	sessions  *session.Manager

	// 限流器清理 goroutine 的生命周期
	cancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并启动 API 与 Metrics 服务器（非阻塞）
func (s *Server) Start() error {
	// 1. OpenTelemetry；失败时降级为 noop
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	// 2. 指标收集器
	s.collector = metrics.NewCollector("flowcanvas", s.logger)

	// 3. 节点注册表
	registry, err := buildRegistry(s.cfg.Editor.Palette)
	if err != nil {
		return fmt.Errorf("failed to build palette: %w", err)
	}

	// 4. 文档存储
	s.store, err = store.New(s.cfg, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	// 5. 编辑会话
	s.sessions = session.NewManager(s.store, registry, s.cfg.Editor, s.collector, s.logger)

	// 6. HTTP 服务器
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if err := s.startHTTPServer(ctx, registry); err != nil {
		cancel()
		s.closeComponents(context.Background())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		cancel()
		_ = s.httpManager.Shutdown(context.Background())
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.store.Backend()),
		zap.Int("palette_kinds", len(registry.Kinds())),
	)
	return nil
}

// buildRegistry 将配置中的调色板转换为注册表；未配置时使用内置调色板
func buildRegistry(palette []config.PaletteCategory) (*workflow.Registry, error) {
	if len(palette) == 0 {
		return workflow.DefaultRegistry(), nil
	}
	categories := make([]workflow.Category, len(palette))
	for i, pc := range palette {
		items := make([]workflow.KindSpec, len(pc.Items))
		for j, it := range pc.Items {
			items[j] = workflow.KindSpec{
				Name:    it.Name,
				Variant: workflow.Variant(it.Variant),
				Role:    workflow.Role(it.Role),
				Handles: it.Handles,
				Model:   it.Model,
			}
		}
		categories[i] = workflow.Category{Name: pc.Name, Icon: pc.Icon, Items: items}
	}
	return workflow.NewRegistry(categories, workflow.BuiltinKinds())
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// apiDeps 构建 API 路由所需的依赖
type apiDeps struct {
	cfg      config.ServerConfig
	registry *workflow.Registry
	sessions *session.Manager
	store    store.DocumentStore
	recorder interface {
		HTTPRecorder
		handlers.SocketMetrics
	}
	version handlers.VersionInfo
	logger  *zap.Logger
}

// newAPIHandler 注册路由并构建中间件链
func newAPIHandler(ctx context.Context, d apiDeps) http.Handler {
	health := handlers.NewHealthHandler(d.logger)
	health.RegisterCheck(handlers.NewPingCheck("store", d.store.Ping))
	health.RegisterGauge("active_sessions", d.sessions.Active)

	palette := handlers.NewPaletteHandler(d.registry)
	workflows := handlers.NewWorkflowHandler(d.sessions, d.logger)
	editor := handlers.NewEditorSocketHandler(d.sessions, handlers.SocketConfig{
		IntentRPS:      d.cfg.WSIntentRPS,
		IntentBurst:    d.cfg.WSIntentBurst,
		OriginPatterns: d.cfg.CORSAllowedOrigins,
	}, d.recorder, d.logger)

	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(d.version))

	// 编辑器 API
	mux.HandleFunc("GET /api/v1/palette", palette.HandlePalette)
	mux.HandleFunc("GET /api/v1/workflows", workflows.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", workflows.HandleGet)
	mux.HandleFunc("PUT /api/v1/workflows/{id}", workflows.HandleReplace)
	mux.HandleFunc("DELETE /api/v1/workflows/{id}", workflows.HandleDelete)
	mux.HandleFunc("POST /api/v1/workflows/{id}/intents", workflows.HandleIntent)
	mux.HandleFunc("POST /api/v1/workflows/{id}/save", workflows.HandleSave)
	mux.HandleFunc("GET /api/v1/workflows/{id}/export", workflows.HandleExport)
	mux.HandleFunc("GET /api/v1/workflows/{id}/ws", editor.HandleSocket)

	return Chain(mux,
		Recovery(d.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(d.logger),
		CORS(d.cfg.CORSAllowedOrigins),
		RateLimiter(ctx, d.cfg.RateLimitRPS, d.cfg.RateLimitBurst, d.logger),
		Metrics(d.recorder),
	)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer(ctx context.Context, registry *workflow.Registry) error {
	handler := newAPIHandler(ctx, apiDeps{
		cfg:      s.cfg.Server,
		registry: registry,
		sessions: s.sessions,
		store:    s.store,
		recorder: s.collector,
		version:  handlers.VersionInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit},
		logger:   s.logger,
	})

	s.httpManager = server.NewManager(handler, s.serverConfig("api", s.cfg.Server.HTTPPort), s.logger)

	// 连接排空后保存脏文档并关闭存储
	s.httpManager.OnShutdown(s.closeComponents)

	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.ListenAddr()))
	return nil
}

// serverConfig 以默认值为底，覆盖配置中的端口与超时
func (s *Server) serverConfig(name string, port int) server.Config {
	cfg := server.DefaultConfig()
	cfg.Name = name
	cfg.Addr = fmt.Sprintf(":%d", port)
	cfg.ReadTimeout = s.cfg.Server.ReadTimeout
	cfg.WriteTimeout = s.cfg.Server.WriteTimeout
	cfg.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	return cfg
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, s.serverConfig("metrics", s.cfg.Server.MetricsPort), s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.ListenAddr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到收到关闭信号、ctx 取消或任一服务器异常退出，然后优雅关闭
func (s *Server) Wait(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case err := <-s.metricsManager.Errors():
			s.logger.Error("metrics server exited unexpectedly", zap.Error(err))
			cancel()
		case <-ctx.Done():
		}
	}()

	s.httpManager.WaitForShutdown(ctx)
	return s.Shutdown(context.Background())
}

// Shutdown 并发关闭两个服务器，随后关闭遥测；可重复调用
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Starting graceful shutdown...")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.httpManager.Shutdown(gctx) })
		g.Go(func() error { return s.metricsManager.Shutdown(gctx) })
		err := g.Wait()

		if s.cancel != nil {
			s.cancel()
		}
		if terr := s.telemetry.Shutdown(ctx); terr != nil {
			err = errors.Join(err, terr)
		}

		s.shutdownErr = err
		s.logger.Info("Graceful shutdown completed")
	})
	return s.shutdownErr
}

// closeComponents 保存所有脏文档后关闭存储
func (s *Server) closeComponents(ctx context.Context) {
	if s.sessions != nil {
		if err := s.sessions.Close(ctx); err != nil {
			s.logger.Error("failed to flush editing sessions", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close store", zap.Error(err))
		}
	}
}

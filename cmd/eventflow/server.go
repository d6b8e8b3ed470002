package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/eventflow/api/handlers"
	"github.com/BaSui01/eventflow/config"
	"github.com/BaSui01/eventflow/internal/metrics"
	"github.com/BaSui01/eventflow/internal/server"
	"github.com/BaSui01/eventflow/internal/telemetry"
	"github.com/BaSui01/eventflow/node"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 EventFlow 节点进程的顶层对象
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	nodeOpts []node.Option

	node      *node.Node
	collector *metrics.Collector
	telemetry *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *handlers.HealthHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例。opts 追加在默认节点选项之后。
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...node.Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		nodeOpts: opts,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 组装节点并启动 HTTP 与 Metrics 服务器
func (s *Server) Start(ctx context.Context) error {
	if err := s.initNode(ctx); err != nil {
		return fmt.Errorf("failed to init node: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("mesh_enabled", s.node.MeshHandler() != nil),
		zap.Strings("chain", s.node.Runtime().Chain()),
	)
	return nil
}

// initNode 创建并启动节点（恢复已激活的远程 cartridge）
func (s *Server) initNode(ctx context.Context) error {
	if s.collector == nil {
		s.collector = metrics.NewCollector("eventflow", s.logger)
	}

	opts := append([]node.Option{
		node.WithLogger(s.logger),
		node.WithMetrics(s.collector),
	}, s.nodeOpts...)

	n, err := node.New(s.cfg, opts...)
	if err != nil {
		return err
	}
	s.node = n

	return n.Start(ctx)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册所有路由并返回带中间件的处理器
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	n := s.node

	// ========================================
	// 健康检查端点
	// ========================================
	s.healthHandler = handlers.NewHealthHandler(n.ID(), n.Cluster(), s.logger)
	if db := n.DB(); db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return err
			}
			stats := sqlDB.Stats()
			s.collector.RecordDBConnections(db.Dialector.Name(), stats.OpenConnections, stats.Idle)
			return nil
		}))
	}
	if c := n.Cache(); c != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", c.Ping))
	}

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	handlers.NewEventHandler(n, s.logger).Register(mux)
	handlers.NewNotificationHandler(n.Store(), s.logger).Register(mux)
	handlers.NewQuarantineHandler(n.Store(), s.logger).Register(mux)
	handlers.NewCartridgeHandler(n.Store(), n.Installer(), n.Runtime(), s.logger).Register(mux)

	// ========================================
	// 网格端点（对等令牌自行认证，跳过 API Key）
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	if h := n.MeshHandler(); h != nil {
		mux.Handle("GET "+s.cfg.Mesh.ListenPath, h)
		skipAuthPaths = append(skipAuthPaths, s.cfg.Mesh.ListenPath)
		s.logger.Info("Mesh endpoint registered", zap.String("path", s.cfg.Mesh.ListenPath))
	}

	// ========================================
	// 构建中间件链
	// ========================================
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKey, skipAuthPaths, s.logger),
	)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(s.routes(rateLimiterCtx), serverConfig, s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.httpManager != nil {
		if err := s.httpManager.WaitForShutdown(ctx); err != nil {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}
	s.Shutdown(ctx)
}

// Shutdown 按顺序关闭：先停止接入，再排空流水线，最后释放存储
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 停止 HTTP 接入（包括网格入站）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 排空并关闭节点
	if s.node != nil {
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		closeCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := s.node.Close(closeCtx); err != nil {
			s.logger.Error("Node shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 刷新遥测
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// Package http 提供分类服务的HTTP接口
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"issuetriage/config"
	"issuetriage/ml"
	"issuetriage/monitoring"
)

// ShutdownTimeout 优雅关闭的最长等待时间
const ShutdownTimeout = 5 * time.Second

// Deps 服务依赖，由 cmd 注入
type Deps struct {
	Handle  *ml.ModelHandle
	Store   Store // 可选，为 nil 时不持久化分类记录
	Metrics *monitoring.ClassifierMetrics
	Hub     *monitoring.Hub // 可选
	Logger  *zap.Logger
}

// Server HTTP服务器
type Server struct {
	server *http.Server
	config config.HTTPConfig
	logger *zap.Logger
}

// NewServer 创建HTTP服务器
func NewServer(cfg config.HTTPConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewClassifierMetrics(nil)
	}

	return &Server{
		server: &http.Server{
			Addr:    cfg.Addr(),
			Handler: NewHandler(cfg, deps),
			// WebSocket 连接是长连接，不设置 WriteTimeout，由 TimeoutMiddleware 约束普通请求
			ReadTimeout:       cfg.Timeout,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: cfg,
		logger: deps.Logger,
	}
}

// NewHandler 组装路由和中间件链，测试直接使用
func NewHandler(cfg config.HTTPConfig, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewClassifierMetrics(nil)
	}

	mux := http.NewServeMux()
	api := newAPI(deps)

	// 普通接口套用超时和限流
	limited := Chain(
		RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst),
		TimeoutMiddleware(cfg.Timeout),
		RequestSizeMiddleware(cfg.MaxBodyBytes),
	)

	mux.Handle("POST /classify", limited(http.HandlerFunc(api.handleClassify)))
	mux.Handle("POST /reload", limited(AuthMiddleware(cfg.AdminToken)(http.HandlerFunc(api.handleReload))))
	mux.Handle("GET /stats", limited(http.HandlerFunc(api.handleStats)))
	mux.Handle("GET /classifications", limited(http.HandlerFunc(api.handleClassifications)))
	mux.Handle("GET /classifications/{id}/verify", limited(http.HandlerFunc(api.handleVerify)))
	// 探活和指标不限流，健康检查必须始终返回 200
	mux.Handle("GET /health", http.HandlerFunc(api.handleHealth))
	mux.Handle("GET /metrics", deps.Metrics.Collector().Handler())
	if deps.Hub != nil {
		mux.Handle("GET /ws/events", deps.Hub)
	}

	// 创建中间件链
	chain := Chain(
		RecoveryMiddleware(deps.Logger),    // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(deps.Logger),      // 2. 日志中间件
		SecurityHeadersMiddleware,          // 3. 安全头中间件
		CORSMiddleware(cfg.AllowedOrigins), // 4. CORS中间件
	)
	return chain(mux)
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.String("events", fmt.Sprintf("ws://localhost%s/ws/events", s.server.Addr)))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}

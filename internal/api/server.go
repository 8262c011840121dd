package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"AgentKernel/internal/agent"
	"AgentKernel/internal/auth"
	"AgentKernel/internal/kernel"
	"AgentKernel/internal/memory"
	"AgentKernel/internal/observability"
	"AgentKernel/internal/observability/metrics"
	"AgentKernel/internal/webextract"
	"AgentKernel/pkg/logger"
)

// TraceReader 提供内存中的运行轨迹与聚合指标。
type TraceReader interface {
	Last() (observability.RunTrace, bool)
	List(limit int) []observability.RunTrace
	Metrics() observability.Metrics
}

// TraceHistory 提供持久化的运行轨迹查询。
type TraceHistory interface {
	Get(ctx context.Context, runID string) (observability.RunTrace, error)
}

// MemoryAdmin 提供记忆统计与清理。
type MemoryAdmin interface {
	Stats() memory.Stats
	Clear(ctx context.Context) error
}

// Deps 汇总 API 依赖的服务对象。Kernel 与 Executor 必填。
type Deps struct {
	Kernel    *agent.Kernel
	Executor  agent.Executor
	Dynamic   webextract.DynamicExtractor
	Traces    TraceReader
	History   TraceHistory
	Memory    MemoryAdmin
	Extractor agent.Extractor
	// Auth 为空或没有令牌时不做认证。
	Auth *auth.Guard
}

// Options 控制 HTTP 服务参数。
type Options struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server 负责暴露 REST 接口，供外部驱动编排内核。
type Server struct {
	opts Options
	deps Deps
	log  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options, deps Deps) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{opts: opts, deps: deps, log: logger.Named("api")}
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))
	r.Use(s.observe)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware(auth.DefaultMiddlewareConfig()))
		r.Post("/runs", s.handleRun)
		r.Get("/traces", s.handleListTraces)
		r.Get("/traces/last", s.handleLastTrace)
		r.Get("/traces/{runID}", s.handleGetTrace)
		r.Get("/metrics/agent", s.handleAgentMetrics)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Get("/memory/stats", s.handleMemoryStats)
		r.Delete("/memory", s.handleClearMemory)
		r.Post("/extract", s.handleExtract)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务启动", slog.String("address", s.opts.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// observe 记录每个路由的请求数与耗时。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) settings() *kernel.Settings {
	if s.deps.Kernel == nil {
		return nil
	}
	return s.deps.Kernel.Settings()
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"golang.org/x/time/rate"

	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// maxBodyBytes 限制提交的工作流定义大小。
const maxBodyBytes = 1 << 20

// Service 是 REST 层依赖的编排能力，workflow.Executor 实现了该接口。
type Service interface {
	Execute(ctx context.Context, def workflow.Definition) (*workflow.Result, error)
	Submit(ctx context.Context, def workflow.Definition) (string, error)
	Status(ctx context.Context, workflowID string) (*workflow.StatusReport, error)
	Result(ctx context.Context, workflowID string) (*workflow.Result, error)
	Cancel(ctx context.Context, workflowID string) (bool, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	svc     Service
	metrics http.Handler
	limiter *rate.Limiter
	origins []string
	wraps   []Middleware
	logger  *slog.Logger
}

// Middleware 包装单个路由，route 是稳定的路由名而不是原始路径。
type Middleware func(route string, next http.Handler) http.Handler

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithMetricsHandler 在 /metrics 上挂载指标处理器。
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRateLimit 限制工作流提交速率，perSecond <= 0 时不限流。
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithAllowedOrigins 为浏览器端（HUD）开启跨域访问。
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = append([]string(nil), origins...)
	}
}

// WithMiddleware 为每个路由追加中间件，例如请求指标与鉴权。
// 先登记的中间件位于最外层。
func WithMiddleware(m Middleware) Option {
	return func(s *Server) {
		if m != nil {
			s.wraps = append(s.wraps, m)
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc Service, opts ...Option) *Server {
	s := &Server{addr: addr, svc: svc, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由，便于测试直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		var handler http.Handler = h
		for i := len(s.wraps) - 1; i >= 0; i-- {
			handler = s.wraps[i](name, handler)
		}
		mux.Handle(pattern, handler)
	}
	route("POST /api/v1/workflows", "submit", s.handleSubmit)
	route("GET /api/v1/workflows/{id}", "status", s.handleStatus)
	route("GET /api/v1/workflows/{id}/result", "result", s.handleResult)
	route("POST /api/v1/workflows/{id}/cancel", "cancel", s.handleCancel)
	route("GET /healthz", "healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	var h http.Handler = mux
	if len(s.origins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(h)
	}
	return h
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", "address", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleSubmit 校验并执行工作流。默认同步返回最终结果；
// ?async=true 时后台执行并立即返回 202 与 workflow_id。
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "提交过于频繁，请稍后重试"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "请求体读取失败"})
		return
	}
	def, err := workflow.DecodeDefinition(raw)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		id, err := s.svc.Submit(context.WithoutCancel(r.Context()), *def)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id, "status": string(workflow.StatusRunning)})
		return
	}

	result, err := s.svc.Execute(r.Context(), *def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.svc.Cancel(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "workflow " + id + " is not running", Code: string(workflow.CodeNotFound)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_id": id, "cancelled": true})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError 按错误码映射 HTTP 状态。
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case workflow.CodeValidationFailed, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case workflow.CodeConflict:
		status = http.StatusConflict
	case workflow.CodeNotFound:
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("请求处理失败", "code", code, "error", err)
	}
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeJSON(w, status, errorBody{Error: msg, Code: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "服务已关闭"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

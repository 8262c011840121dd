// Package auth guards the kernel's HTTP API with static bearer tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"AgentKernel/pkg/logger"
)

// 认证错误。
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// 内置权限。
const (
	PermissionRead  = "read"
	PermissionRun   = "run"
	PermissionAdmin = "admin"
)

// Token 是一枚静态访问令牌。Permissions 为空时授予全部权限。
type Token struct {
	Name        string   `yaml:"name"`
	Value       string   `yaml:"value"`
	Permissions []string `yaml:"permissions"`
}

// Config 描述 API 访问控制。没有令牌时不做认证。
type Config struct {
	Tokens []Token `yaml:"tokens"`
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions map[string]struct{}
}

// HasPermission 判断调用方是否具有指定权限。admin 隐含全部权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.Permissions[PermissionAdmin]; ok {
		return true
	}
	_, ok := s.Permissions[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 校验调用方具有全部权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Guard 根据配置的令牌认证请求。
type Guard struct {
	tokens []Token
	audit  *slog.Logger
}

// NewGuard 创建 Guard，跳过值为空的令牌。
func NewGuard(cfg Config) *Guard {
	g := &Guard{audit: logger.Audit()}
	for _, t := range cfg.Tokens {
		if strings.TrimSpace(t.Value) == "" {
			continue
		}
		g.tokens = append(g.tokens, t)
	}
	return g
}

// Enabled 报告是否需要认证。
func (g *Guard) Enabled() bool {
	return g != nil && len(g.tokens) > 0
}

// Authenticate 解析 Authorization 头并匹配令牌。
func (g *Guard) Authenticate(header string) (*Subject, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
		return nil, ErrMissingToken
	}
	value = strings.TrimSpace(value)

	for _, t := range g.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Value), []byte(value)) != 1 {
			continue
		}
		subject := &Subject{Name: t.Name, Permissions: make(map[string]struct{})}
		if len(t.Permissions) == 0 {
			subject.Permissions[PermissionAdmin] = struct{}{}
		}
		for _, p := range t.Permissions {
			subject.Permissions[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
		}
		return subject, nil
	}
	return nil, ErrInvalidToken
}

// MiddlewareConfig 配置每个 HTTP 方法所需的权限。"*" 匹配其余方法。
type MiddlewareConfig struct {
	RequiredPermissions map[string][]string
}

// DefaultMiddlewareConfig 让读取只需 read，POST 需要 run，修改与删除需要 admin。
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{RequiredPermissions: map[string][]string{
		http.MethodGet:    {PermissionRead},
		http.MethodPost:   {PermissionRun},
		http.MethodPut:    {PermissionAdmin},
		http.MethodDelete: {PermissionAdmin},
		"*":               {PermissionAdmin},
	}}
}

// Middleware 返回认证与授权中间件。Guard 未启用时直接放行。
func (g *Guard) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := g.Authenticate(r.Header.Get("Authorization"))
			if err == nil {
				perms := cfg.RequiredPermissions[r.Method]
				if len(perms) == 0 {
					perms = cfg.RequiredPermissions["*"]
				}
				err = subject.Authorize(perms...)
			}
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrPermissionDenied) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				g.audit.Warn("access_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Int("status", status),
					slog.String("error", err.Error()),
				)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			g.audit.Info("api_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("user", subject.Name),
			)
		})
	}
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

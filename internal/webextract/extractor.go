// Package webextract turns user-supplied links into readable page text.
//
// A Service first fetches pages statically; when the static body is too thin
// (or the host is known to render client side) it falls back to a
// DynamicExtractor, typically the headless browser queue in package render.
package webextract

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "AgentKernel/internal/errors"
	"AgentKernel/pkg/logger"
)

// 默认提取参数。
const (
	DefaultTimeout  = 20 * time.Second
	DefaultMaxChars = 30000
	DefaultMinChars = 800
)

// DynamicRequest 是一次动态渲染请求。
type DynamicRequest struct {
	URL      string
	Timeout  time.Duration
	MaxChars int
}

// DynamicResult 是渲染后的页面内容。
type DynamicResult struct {
	Title    string
	Text     string
	FinalURL string
}

// DynamicExtractor 通过浏览器渲染页面并返回正文。
type DynamicExtractor interface {
	Extract(ctx context.Context, req DynamicRequest) (*DynamicResult, error)
}

// Options 控制单次提取。零值字段使用服务默认值。
type Options struct {
	PreferDynamic bool
	Timeout       time.Duration
	MaxChars      int
	// MinChars 是静态结果被直接采用的最少字符数。
	MinChars int
	Dynamic  DynamicExtractor
}

// Config 描述服务默认值。
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxChars     int           `yaml:"max_chars"`
	MinChars     int           `yaml:"min_chars"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// Service 执行"静态优先、动态兜底"的提取策略。
type Service struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	defaults     Options
	blocked      func(string) bool
	log          *slog.Logger
}

// ServiceOption 定义 Service 的可选配置。
type ServiceOption func(*Service)

// WithHTTPClient 替换静态抓取使用的 HTTP 客户端。
func WithHTTPClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

// WithBlockPolicy 替换访问控制判断，默认为 IsBlocked。
func WithBlockPolicy(blocked func(string) bool) ServiceOption {
	return func(s *Service) {
		if blocked != nil {
			s.blocked = blocked
		}
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService 创建提取服务。
func NewService(cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
		defaults: Options{
			Timeout:  cfg.Timeout,
			MaxChars: cfg.MaxChars,
			MinChars: cfg.MinChars,
		},
		blocked: IsBlocked,
		log:     logger.Named("webextract"),
	}
	if s.userAgent == "" {
		s.userAgent = defaultUserAgent
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodySize
	}
	if s.defaults.Timeout <= 0 {
		s.defaults.Timeout = DefaultTimeout
	}
	if s.defaults.MaxChars <= 0 {
		s.defaults.MaxChars = DefaultMaxChars
	}
	if s.defaults.MinChars <= 0 {
		s.defaults.MinChars = DefaultMinChars
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.client == nil {
		s.client = newHTTPClient(s.blocked)
	}
	return s
}

func (s *Service) withDefaults(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = s.defaults.Timeout
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = s.defaults.MaxChars
	}
	if opts.MinChars <= 0 {
		opts.MinChars = s.defaults.MinChars
	}
	return opts
}

// Extract 提取单个链接。失败以 Result 的 ErrorCode 表示，不返回 error。
func (s *Service) Extract(ctx context.Context, rawURL string, opts Options) Result {
	opts = s.withDefaults(opts)

	target, ok := NormalizeCandidate(rawURL)
	if !ok {
		return failure(CodeInvalidURL, "URL 格式不正确", rawURL, ModeStatic)
	}
	if s.blocked(target) {
		return failure(CodeBlockedURL, "当前 URL 不允许访问", target, ModeStatic)
	}

	start := time.Now()
	result := s.extract(ctx, target, opts)
	attrs := []any{
		slog.String("url", target),
		slog.String("mode", string(result.Mode)),
		slog.Duration("elapsed", time.Since(start)),
	}
	if result.OK {
		s.log.Debug("网页提取成功", append(attrs, slog.Int("chars", runeLen(result.Text)))...)
	} else {
		s.log.Warn("网页提取失败", append(attrs, slog.String("code", string(result.ErrorCode)), slog.String("message", result.Message))...)
	}
	return result
}

func (s *Service) extract(ctx context.Context, target string, opts Options) Result {
	if opts.PreferDynamic && opts.Dynamic != nil {
		if dynamic := s.tryDynamic(ctx, target, opts); dynamic.OK {
			return dynamic
		}
	}

	static := s.fetchStatic(ctx, target, opts.Timeout, opts.MaxChars)
	if static.OK && isGoodEnough(static.Text, opts.MinChars) {
		return static
	}
	if opts.Dynamic == nil {
		return static
	}

	dynamic := s.tryDynamic(ctx, target, opts)
	if dynamic.OK {
		return dynamic
	}
	if static.OK {
		return static
	}
	return dynamic
}

func (s *Service) tryDynamic(ctx context.Context, target string, opts Options) Result {
	res, err := opts.Dynamic.Extract(ctx, DynamicRequest{URL: target, Timeout: opts.Timeout, MaxChars: opts.MaxChars})
	if err != nil {
		msg := err.Error()
		if e, ok := xerrors.From(err); ok {
			msg = e.Message()
		}
		if xerrors.CodeOf(err) == xerrors.CodeTimeout || strings.Contains(strings.ToLower(msg), "timeout") {
			return failure(CodeTimeout, "动态提取超时: "+msg, target, ModeDynamic)
		}
		return failure(CodeUnknown, "动态提取失败: "+msg, target, ModeDynamic)
	}
	if res == nil {
		return failure(CodeEmptyContent, "动态渲染后未提取到正文", target, ModeDynamic)
	}
	text := NormalizeText(res.Text, opts.MaxChars)
	if text == "" {
		return failure(CodeEmptyContent, "动态渲染后未提取到正文", target, ModeDynamic)
	}
	return success(target, res.FinalURL, ModeDynamic, strings.TrimSpace(res.Title), text)
}

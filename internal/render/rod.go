package render

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	xerrors "AgentKernel/internal/errors"
	"AgentKernel/internal/webextract"
	"AgentKernel/pkg/logger"
)

// 公众号文章中"展开全文"一类的按钮。
var wechatExpandSelectors = []string{
	"#js_read_area3",
	".js_show_more_link",
	".weui-loadmore",
	".more_read",
	`[class*="more"]`,
}

// 正文候选节点，取文本最长者。
var mainContentSelectors = []string{
	"#js_content",
	".rich_media_content",
	"#img-content",
	"article",
	"main",
	`[role="main"]`,
	"body",
}

const mainTextJS = `(selectors) => {
	let best = '';
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			const text = (el.innerText || el.textContent || '').trim();
			if (text.length > best.length) best = text;
		}
	}
	return best;
}`

const expandJS = `(selectors) => {
	let clicked = 0;
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			try { el.click(); clicked++; } catch (e) {}
		}
	}
	return clicked;
}`

// BrowserConfig 描述浏览器的启动或连接方式。
type BrowserConfig struct {
	// ControlURL 非空时连接已有的 DevTools 端点，否则本地启动浏览器。
	ControlURL string          `yaml:"control_url"`
	Bin        string          `yaml:"bin"`
	Headless   *bool           `yaml:"headless"`
	UserAgent  string          `yaml:"user_agent"`
	Stability  StabilityConfig `yaml:"stability"`
}

func (c BrowserConfig) headless() bool {
	return c.Headless == nil || *c.Headless
}

// RodRenderer 使用 go-rod 驱动无头浏览器渲染页面。
// 浏览器按需启动，断开后在下一次渲染时重连。
type RodRenderer struct {
	cfg      BrowserConfig
	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	log      *slog.Logger
}

// NewRodRenderer 创建渲染器，不会立即启动浏览器。
func NewRodRenderer(cfg BrowserConfig) *RodRenderer {
	cfg.Stability = cfg.Stability.withDefaults()
	return &RodRenderer{cfg: cfg, log: logger.Named("render.rod")}
}

func (r *RodRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return r.browser, nil
		}
		r.log.Warn("浏览器连接失效，重新连接")
		r.closeLocked()
	}

	controlURL := r.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(r.cfg.headless())
		if r.cfg.Bin != "" {
			l = l.Bin(r.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "启动浏览器失败")
		}
		r.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		r.closeLocked()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接浏览器失败")
	}
	r.browser = browser
	r.log.Info("浏览器已就绪", slog.Bool("headless", r.cfg.headless()), slog.Bool("remote", r.cfg.ControlURL != ""))
	return browser, nil
}

// Render 在独立的无痕上下文中打开页面，等待正文稳定后返回。
func (r *RodRenderer) Render(ctx context.Context, req webextract.DynamicRequest) (*webextract.DynamicResult, error) {
	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	defer func() { _ = incognito.Close() }()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	page = page.Context(ctx)
	defer func() { _ = page.Close() }()

	if r.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
			r.log.Debug("设置 UserAgent 失败", slog.Any("error", err))
		}
	}

	nav := page.Timeout(req.Timeout)
	if err := nav.Navigate(req.URL); err != nil {
		return nil, r.navigationError(ctx, err)
	}
	_ = nav.WaitLoad()
	nav.CancelTimeout()

	if webextract.IsWeChatURL(req.URL) {
		if res, err := page.Evaluate(rod.Eval(expandJS, wechatExpandSelectors)); err == nil && res != nil {
			r.log.Debug("展开公众号正文", slog.Int("clicked", res.Value.Int()))
		}
	}

	text, err := waitStable(ctx, r.cfg.Stability, r.cfg.Stability.ceiling(req.Timeout), func(context.Context) (string, error) {
		res, err := page.Evaluate(rod.Eval(mainTextJS, mainContentSelectors))
		if err != nil {
			return "", err
		}
		return res.Value.Str(), nil
	})
	if err != nil && text == "" {
		return nil, r.navigationError(ctx, err)
	}

	result := &webextract.DynamicResult{Text: text, FinalURL: req.URL}
	if info, err := page.Info(); err == nil && info != nil {
		result.Title = strings.TrimSpace(info.Title)
		if info.URL != "" {
			result.FinalURL = info.URL
		}
	}
	return result, nil
}

func (r *RodRenderer) navigationError(ctx context.Context, err error) error {
	if ctx.Err() != nil || strings.Contains(strings.ToLower(err.Error()), "deadline") {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "页面渲染超时")
	}
	return fmt.Errorf("navigate: %w", err)
}

// Close 关闭浏览器并清理本地启动的进程。
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RodRenderer) closeLocked() error {
	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		r.launcher.Cleanup()
		r.launcher = nil
	}
	return err
}

// WarmUp 提前启动浏览器。失败不影响后续按需启动。
func (r *RodRenderer) WarmUp() error {
	_, err := r.ensureBrowser()
	return err
}

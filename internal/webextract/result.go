package webextract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	xerrors "AgentKernel/internal/errors"
)

// Mode 表示内容来自静态抓取还是动态渲染。
type Mode string

const (
	ModeStatic  Mode = "static"
	ModeDynamic Mode = "dynamic"
)

// 提取失败的错误码。TIMEOUT 与 UNKNOWN 复用全局错误码。
const (
	CodeInvalidURL   xerrors.Code = "INVALID_URL"
	CodeBlockedURL   xerrors.Code = "BLOCKED_URL"
	CodeNetwork      xerrors.Code = "NETWORK"
	CodeTimeout                   = xerrors.CodeTimeout
	CodeEmptyContent xerrors.Code = "EMPTY_CONTENT"
	CodeUnknown                   = xerrors.CodeUnknown
)

func init() {
	xerrors.Register(CodeInvalidURL, xerrors.Attributes{Message: "URL 格式不正确", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeBlockedURL, xerrors.Attributes{Message: "当前 URL 不允许访问", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeNetwork, xerrors.Attributes{Message: "网络请求失败", Severity: xerrors.SeverityWarning, Retryable: true})
	xerrors.Register(CodeEmptyContent, xerrors.Attributes{Message: "未提取到有效正文内容", Severity: xerrors.SeverityInfo})
}

const excerptRunes = 240

// Result 是一次提取的完整结果。
type Result struct {
	OK        bool         `json:"ok"`
	SourceURL string       `json:"sourceUrl"`
	FinalURL  string       `json:"finalUrl,omitempty"`
	Mode      Mode         `json:"mode"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Excerpt   string       `json:"excerpt"`
	ErrorCode xerrors.Code `json:"errorCode,omitempty"`
	Message   string       `json:"message,omitempty"`
}

func success(source, final string, mode Mode, title, text string) Result {
	if final == "" {
		final = source
	}
	return Result{
		OK:        true,
		SourceURL: source,
		FinalURL:  final,
		Mode:      mode,
		Title:     title,
		Text:      text,
		Excerpt:   truncateRunes(text, excerptRunes),
	}
}

func failure(code xerrors.Code, message, source string, mode Mode) Result {
	return Result{SourceURL: source, Mode: mode, ErrorCode: code, Message: message}
}

// Err 将失败结果转换为统一错误，成功时返回 nil。
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return xerrors.New(r.ErrorCode, r.Message, xerrors.WithMetadata("url", r.SourceURL), xerrors.WithMetadata("mode", string(r.Mode)))
}

// Outcome 是写入运行轨迹的单个链接提取记录。
type Outcome struct {
	URL        string       `json:"url"`
	OK         bool         `json:"ok"`
	Mode       Mode         `json:"mode,omitempty"`
	TextLength int          `json:"textLength"`
	FinalURL   string       `json:"finalUrl,omitempty"`
	ErrorCode  xerrors.Code `json:"errorCode,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// Outcome 以 url 为键生成轨迹记录。
func (r Result) Outcome(url string) Outcome {
	if r.OK && r.Text != "" {
		return Outcome{
			URL:        url,
			OK:         true,
			Mode:       r.Mode,
			TextLength: utf8.RuneCountInString(r.Text),
			FinalURL:   r.FinalURL,
		}
	}
	code := r.ErrorCode
	if code == "" {
		code = CodeEmptyContent
	}
	return Outcome{
		URL:       url,
		Mode:      r.Mode,
		FinalURL:  r.FinalURL,
		ErrorCode: code,
		Message:   r.Message,
	}
}

// Summarize 生成形如 "OK(static,len=400) | FAIL(NETWORK)" 的摘要，没有记录时返回空串。
func Summarize(outcomes []Outcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.OK {
			mode := string(o.Mode)
			if mode == "" {
				mode = "n/a"
			}
			parts = append(parts, fmt.Sprintf("OK(%s,len=%d)", mode, o.TextLength))
			continue
		}
		code := o.ErrorCode
		if code == "" {
			code = CodeUnknown
		}
		parts = append(parts, fmt.Sprintf("FAIL(%s)", code))
	}
	return strings.Join(parts, " | ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

package webextract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 AgentKernel/1.0"
	defaultMaxBodySize = 5 << 20
	maxRedirects       = 5
)

var (
	horizontalSpace = regexp.MustCompile(`[ \t]+`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// 整棵子树都不参与正文的标签。
var skippedSubtrees = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Svg: true, atom.Canvas: true,
	atom.Header: true, atom.Footer: true, atom.Nav: true, atom.Aside: true, atom.Form: true,
	atom.Button: true, atom.Select: true, atom.Textarea: true,
}

// 结束时换行的块级标签。
var blockClosers = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Article: true, atom.Section: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// NormalizeText 合并空白、压缩空行并按字符数截断。
func NormalizeText(text string, maxChars int) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return truncateRunes(strings.TrimSpace(text), maxChars)
}

// ParseHTML 提取页面标题与可读正文。
func ParseHTML(r io.Reader, maxChars int) (title, text string) {
	z := html.NewTokenizer(r)
	var (
		body      strings.Builder
		titleBuf  strings.Builder
		skipStack []atom.Atom
		inTitle   bool
		inHead    bool
		seenTitle bool
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(titleBuf.String()), NormalizeText(body.String(), maxChars)
		case html.TextToken:
			if inTitle {
				titleBuf.Write(z.Text())
				continue
			}
			if len(skipStack) > 0 || inHead {
				continue
			}
			body.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Title:
				if tt == html.StartTagToken && !seenTitle {
					inTitle = true
				}
			case a == atom.Head:
				inHead = tt == html.StartTagToken
			case a == atom.Body:
				inHead = false
			case skippedSubtrees[a]:
				if tt == html.StartTagToken {
					skipStack = append(skipStack, a)
				}
			case a == atom.Br:
				if len(skipStack) == 0 {
					body.WriteByte('\n')
				}
			default:
				if len(skipStack) == 0 && !inHead {
					body.WriteByte(' ')
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Title:
				if inTitle {
					inTitle, seenTitle = false, true
				}
			case a == atom.Head:
				inHead = false
			case skippedSubtrees[a]:
				skipStack = popUntil(skipStack, a)
			case len(skipStack) > 0 || inHead:
			case blockClosers[a] || a == atom.Br:
				body.WriteByte('\n')
			default:
				body.WriteByte(' ')
			}
		}
	}
}

func popUntil(stack []atom.Atom, a atom.Atom) []atom.Atom {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == a {
			return stack[:i]
		}
	}
	return stack
}

// 正文过短或出现要求开启脚本的提示时，静态结果视为不可用。
func isGoodEnough(text string, minChars int) bool {
	if runeLen(text) < minChars {
		return false
	}
	lower := strings.ToLower(text)
	return !strings.Contains(lower, "enable javascript") && !strings.Contains(lower, "please turn javascript on")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func newHTTPClient(blocked func(string) bool) *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if blocked(req.URL.String()) {
				return fmt.Errorf("redirect to blocked host %s", req.URL.Hostname())
			}
			return nil
		},
	}
}

func (s *Service) fetchStatic(ctx context.Context, target string, timeout time.Duration, maxChars int) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return failure(CodeNetwork, "静态提取失败: "+err.Error(), target, ModeStatic)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return failure(CodeTimeout, "静态提取超时", target, ModeStatic)
		}
		return failure(CodeNetwork, "静态提取失败: "+err.Error(), target, ModeStatic)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(CodeNetwork, fmt.Sprintf("页面请求失败: HTTP %d", resp.StatusCode), target, ModeStatic)
	}

	title, text := ParseHTML(io.LimitReader(resp.Body, s.maxBodyBytes), maxChars)
	if ctx.Err() != nil && text == "" {
		return failure(CodeTimeout, "静态提取超时", target, ModeStatic)
	}
	if text == "" {
		return failure(CodeEmptyContent, "静态页面未提取到正文", target, ModeStatic)
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return success(target, final, ModeStatic, title, text)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

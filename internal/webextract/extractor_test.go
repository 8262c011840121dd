package webextract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentKernel/internal/errors"
)

type fakeDynamic struct {
	result *DynamicResult
	err    error
	calls  atomic.Int32
}

func (f *fakeDynamic) Extract(_ context.Context, req DynamicRequest) (*DynamicResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	if res.FinalURL == "" {
		res.FinalURL = req.URL
	}
	return &res, nil
}

func allowAll(string) bool { return false }

func newTestService() *Service {
	return NewService(Config{}, WithBlockPolicy(allowAll))
}

func pageServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "text/html,application/xhtml+xml", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func article(n int) string {
	return "<html><head><title>文章</title></head><body><article><p>" + strings.Repeat("内容", n) + "</p></article></body></html>"
}

func TestExtractStaticSuccess(t *testing.T) {
	srv, _ := pageServer(t, http.StatusOK, article(500))

	res := newTestService().Extract(context.Background(), srv.URL+"/post", Options{})

	require.True(t, res.OK, res.Message)
	assert.Equal(t, ModeStatic, res.Mode)
	assert.Equal(t, "文章", res.Title)
	assert.Equal(t, srv.URL+"/post", res.FinalURL)
	assert.Equal(t, 1000, runeLen(res.Text))
	assert.Equal(t, 240, runeLen(res.Excerpt))
}

func TestExtractFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, article(500))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestService().Extract(context.Background(), srv.URL+"/old", Options{})

	require.True(t, res.OK, res.Message)
	assert.Equal(t, srv.URL+"/old", res.SourceURL)
	assert.Equal(t, srv.URL+"/new", res.FinalURL)
}

func TestExtractRejectsInvalidAndBlocked(t *testing.T) {
	svc := NewService(Config{})

	res := svc.Extract(context.Background(), "not a url at all", Options{})
	assert.False(t, res.OK)
	assert.Equal(t, CodeInvalidURL, res.ErrorCode)
	assert.Equal(t, "URL 格式不正确", res.Message)

	res = svc.Extract(context.Background(), "http://127.0.0.1:9/x", Options{})
	assert.False(t, res.OK)
	assert.Equal(t, CodeBlockedURL, res.ErrorCode)
	assert.Equal(t, "当前 URL 不允许访问", res.Message)
	assert.Equal(t, CodeBlockedURL, xerrors.CodeOf(res.Err()))
}

func TestExtractHTTPErrorWithoutDynamic(t *testing.T) {
	srv, _ := pageServer(t, http.StatusNotFound, "missing")

	res := newTestService().Extract(context.Background(), srv.URL, Options{})

	assert.False(t, res.OK)
	assert.Equal(t, CodeNetwork, res.ErrorCode)
	assert.Equal(t, "页面请求失败: HTTP 404", res.Message)
}

func TestExtractEmptyStaticBody(t *testing.T) {
	srv, _ := pageServer(t, http.StatusOK, "<html><body><script>render()</script></body></html>")

	res := newTestService().Extract(context.Background(), srv.URL, Options{})

	assert.False(t, res.OK)
	assert.Equal(t, CodeEmptyContent, res.ErrorCode)
	assert.Equal(t, "静态页面未提取到正文", res.Message)
}

func TestExtractThinStaticWithoutDynamicIsReturned(t *testing.T) {
	srv, _ := pageServer(t, http.StatusOK, article(10))

	res := newTestService().Extract(context.Background(), srv.URL, Options{})

	require.True(t, res.OK)
	assert.Equal(t, ModeStatic, res.Mode)
	assert.Equal(t, 20, runeLen(res.Text))
}

func TestExtractStaticTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := newTestService().Extract(context.Background(), srv.URL, Options{Timeout: 50 * time.Millisecond})

	assert.False(t, res.OK)
	assert.Equal(t, CodeTimeout, res.ErrorCode)
	assert.Equal(t, "静态提取超时", res.Message)
}

func TestExtractFallsBackToDynamic(t *testing.T) {
	srv, _ := pageServer(t, http.StatusOK, article(10))
	dyn := &fakeDynamic{result: &DynamicResult{Title: " 渲染标题 ", Text: strings.Repeat("渲染", 400)}}

	res := newTestService().Extract(context.Background(), srv.URL, Options{Dynamic: dyn})

	require.True(t, res.OK)
	assert.Equal(t, ModeDynamic, res.Mode)
	assert.Equal(t, "渲染标题", res.Title)
	assert.Equal(t, int32(1), dyn.calls.Load())
}

func TestExtractJavascriptWallTriggersDynamic(t *testing.T) {
	body := "<p>" + strings.Repeat("x", 900) + " Please enable JavaScript</p>"
	srv, _ := pageServer(t, http.StatusOK, body)
	dyn := &fakeDynamic{result: &DynamicResult{Text: "rendered body"}}

	res := newTestService().Extract(context.Background(), srv.URL, Options{Dynamic: dyn})

	require.True(t, res.OK)
	assert.Equal(t, ModeDynamic, res.Mode)
}

func TestExtractKeepsThinStaticWhenDynamicFails(t *testing.T) {
	srv, _ := pageServer(t, http.StatusOK, article(10))
	dyn := &fakeDynamic{err: errors.New("browser crashed")}

	res := newTestService().Extract(context.Background(), srv.URL, Options{Dynamic: dyn})

	require.True(t, res.OK)
	assert.Equal(t, ModeStatic, res.Mode)
}

func TestExtractReturnsDynamicErrorWhenBothFail(t *testing.T) {
	srv, _ := pageServer(t, http.StatusInternalServerError, "boom")
	dyn := &fakeDynamic{err: errors.New("Dynamic extraction timeout")}

	res := newTestService().Extract(context.Background(), srv.URL, Options{Dynamic: dyn})

	assert.False(t, res.OK)
	assert.Equal(t, ModeDynamic, res.Mode)
	assert.Equal(t, CodeTimeout, res.ErrorCode)
	assert.Equal(t, "动态提取超时: Dynamic extraction timeout", res.Message)
}

func TestExtractDynamicUnknownAndEmpty(t *testing.T) {
	srv, _ := pageServer(t, http.StatusBadGateway, "")

	res := newTestService().Extract(context.Background(), srv.URL, Options{Dynamic: &fakeDynamic{err: errors.New("navigation failed")}})
	assert.Equal(t, CodeUnknown, res.ErrorCode)
	assert.Equal(t, "动态提取失败: navigation failed", res.Message)

	res = newTestService().Extract(context.Background(), srv.URL, Options{Dynamic: &fakeDynamic{result: &DynamicResult{Text: "  \n "}}})
	assert.Equal(t, CodeEmptyContent, res.ErrorCode)
	assert.Equal(t, "动态渲染后未提取到正文", res.Message)
}

func TestExtractPreferDynamicSkipsStatic(t *testing.T) {
	srv, hits := pageServer(t, http.StatusOK, article(500))
	dyn := &fakeDynamic{result: &DynamicResult{Text: "rendered"}}

	res := newTestService().Extract(context.Background(), srv.URL, Options{PreferDynamic: true, Dynamic: dyn})

	require.True(t, res.OK)
	assert.Equal(t, ModeDynamic, res.Mode)
	assert.Equal(t, int32(0), hits.Load())
}

func TestExtractPreferDynamicFallsBackToStatic(t *testing.T) {
	srv, hits := pageServer(t, http.StatusOK, article(500))
	dyn := &fakeDynamic{err: errors.New("boom")}

	res := newTestService().Extract(context.Background(), srv.URL, Options{PreferDynamic: true, Dynamic: dyn})

	require.True(t, res.OK)
	assert.Equal(t, ModeStatic, res.Mode)
	assert.Equal(t, int32(1), hits.Load())
}

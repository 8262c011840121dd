// Package metrics exposes kernel and HTTP counters in the Prometheus text
// exposition format without pulling in a client library.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	httpBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	runBuckets  = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60}
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type routeKey struct {
	handler string
	method  string
}

type runKey struct {
	stage string
	mode  string
}

type extractionKey struct {
	mode   string
	result string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

// observe 累积计数；超过最大桶的值只计入 +Inf（即 count）。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

type collector struct {
	mu           sync.Mutex
	requests     map[requestKey]uint64
	errors       map[routeKey]uint64
	httpLatency  map[routeKey]*histogram
	runs         map[runKey]uint64
	runLatency   map[string]*histogram
	extractions  map[extractionKey]uint64
	toolCalls    uint64
	toolLoops    uint64
	safetyBlocks uint64
}

func newCollector() *collector {
	return &collector{
		requests:    make(map[requestKey]uint64),
		errors:      make(map[routeKey]uint64),
		httpLatency: make(map[routeKey]*histogram),
		runs:        make(map[runKey]uint64),
		runLatency:  make(map[string]*histogram),
		extractions: make(map[extractionKey]uint64),
	}
}

var defaultCollector = newCollector()

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	key := routeKey{handler: handler, method: method}
	if status >= 500 {
		c.errors[key]++
	}
	hist := c.httpLatency[key]
	if hist == nil {
		hist = newHistogram(httpBuckets)
		c.httpLatency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// ExtractionSample 描述一次网页提取的结果，Result 为 ok 或错误码。
type ExtractionSample struct {
	Mode   string
	Result string
}

// RunSample 描述一次内核运行。
type RunSample struct {
	Stage         int
	Mode          string
	ToolCalls     int
	SafetyBlocked bool
	ToolLoopUsed  bool
	Extractions   []ExtractionSample
	Duration      time.Duration
}

// ObserveRun 记录一次内核运行。
func ObserveRun(s RunSample) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runs[runKey{stage: strconv.Itoa(s.Stage), mode: s.Mode}]++
	if s.ToolCalls > 0 {
		c.toolCalls += uint64(s.ToolCalls)
	}
	if s.SafetyBlocked {
		c.safetyBlocks++
	}
	if s.ToolLoopUsed {
		c.toolLoops++
	}
	for _, e := range s.Extractions {
		mode := e.Mode
		if mode == "" {
			mode = "none"
		}
		c.extractions[extractionKey{mode: mode, result: e.Result}]++
	}
	hist := c.runLatency[s.Mode]
	if hist == nil {
		hist = newHistogram(runBuckets)
		c.runLatency[s.Mode] = hist
	}
	hist.observe(s.Duration.Seconds())
}

// Handler 以 Prometheus 文本格式输出全部指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func sortedKeys[K comparable](m map[K]uint64, less func(a, b K) bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	header(&b, "agentkernel_runs_total", "Total number of kernel runs.", "counter")
	for _, k := range sortedKeys(c.runs, func(x, y runKey) bool {
		if x.stage == y.stage {
			return x.mode < y.mode
		}
		return x.stage < y.stage
	}) {
		fmt.Fprintf(&b, "agentkernel_runs_total{stage=\"%s\",mode=\"%s\"} %d\n", escape(k.stage), escape(k.mode), c.runs[k])
	}

	header(&b, "agentkernel_tool_calls_total", "Total number of tool invocations across runs.", "counter")
	fmt.Fprintf(&b, "agentkernel_tool_calls_total %d\n", c.toolCalls)
	header(&b, "agentkernel_tool_loops_total", "Runs in which the model requested a tool call.", "counter")
	fmt.Fprintf(&b, "agentkernel_tool_loops_total %d\n", c.toolLoops)
	header(&b, "agentkernel_safety_blocks_total", "Runs refused by the safety filter.", "counter")
	fmt.Fprintf(&b, "agentkernel_safety_blocks_total %d\n", c.safetyBlocks)

	header(&b, "agentkernel_web_extractions_total", "Web extraction outcomes by mode and result.", "counter")
	for _, k := range sortedKeys(c.extractions, func(x, y extractionKey) bool {
		if x.mode == y.mode {
			return x.result < y.result
		}
		return x.mode < y.mode
	}) {
		fmt.Fprintf(&b, "agentkernel_web_extractions_total{mode=\"%s\",result=\"%s\"} %d\n", escape(k.mode), escape(k.result), c.extractions[k])
	}

	header(&b, "agentkernel_run_duration_seconds", "Kernel run duration in seconds.", "histogram")
	modes := make([]string, 0, len(c.runLatency))
	for mode := range c.runLatency {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	for _, mode := range modes {
		writeHistogram(&b, "agentkernel_run_duration_seconds", fmt.Sprintf("mode=\"%s\"", escape(mode)), c.runLatency[mode])
	}

	header(&b, "agentkernel_http_requests_total", "Total number of HTTP requests processed.", "counter")
	for _, k := range sortedKeys(c.requests, func(x, y requestKey) bool {
		if x.handler == y.handler {
			if x.method == y.method {
				return x.code < y.code
			}
			return x.method < y.method
		}
		return x.handler < y.handler
	}) {
		fmt.Fprintf(&b, "agentkernel_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), escape(k.code), c.requests[k])
	}

	routeLess := func(x, y routeKey) bool {
		if x.handler == y.handler {
			return x.method < y.method
		}
		return x.handler < y.handler
	}
	header(&b, "agentkernel_http_request_errors_total", "Total number of HTTP requests that resulted in a server error.", "counter")
	for _, k := range sortedKeys(c.errors, routeLess) {
		fmt.Fprintf(&b, "agentkernel_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n", escape(k.handler), escape(k.method), c.errors[k])
	}

	header(&b, "agentkernel_http_request_duration_seconds", "HTTP request duration in seconds.", "histogram")
	routes := make([]routeKey, 0, len(c.httpLatency))
	for k := range c.httpLatency {
		routes = append(routes, k)
	}
	sort.Slice(routes, func(i, j int) bool { return routeLess(routes[i], routes[j]) })
	for _, k := range routes {
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(k.handler), escape(k.method))
		writeHistogram(&b, "agentkernel_http_request_duration_seconds", labels, c.httpLatency[k])
	}

	return b.String()
}

func header(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	for idx, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.count)
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer 启动独立的 /metrics 服务，ctx 结束时关闭。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentKernel/internal/agent"
	"AgentKernel/internal/auth"
	xerrors "AgentKernel/internal/errors"
	"AgentKernel/internal/kernel"
	"AgentKernel/internal/llm"
	"AgentKernel/internal/memory"
	"AgentKernel/internal/observability"
	"AgentKernel/internal/webextract"
)

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, rawURL string, opts webextract.Options) webextract.Result {
	return webextract.Result{
		OK:        true,
		SourceURL: rawURL,
		FinalURL:  rawURL,
		Mode:      webextract.ModeStatic,
		Title:     "Stub",
		Text:      "stub body for " + rawURL,
	}
}

type stubHistory struct {
	traces map[string]observability.RunTrace
}

func (h stubHistory) Get(_ context.Context, runID string) (observability.RunTrace, error) {
	if t, ok := h.traces[runID]; ok {
		return t, nil
	}
	return observability.RunTrace{}, xerrors.New(xerrors.CodeNotFound, "运行轨迹不存在")
}

func echoExecutor(_ context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: "echo: " + req.LastMessage()}, nil
}

func newTestServer(t *testing.T, stage kernel.Stage, executor agent.Executor) (*Server, *observability.Recorder, *memory.Memory) {
	t.Helper()
	settings, err := kernel.NewSettings(kernel.StageConfig{Enabled: true, Stage: stage, MaxPlanSteps: 6})
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	recorder := observability.NewRecorder()
	mem := memory.New(nil)
	k := agent.New(
		agent.WithSettings(settings),
		agent.WithMemory(mem),
		agent.WithExtractor(stubExtractor{}),
		agent.WithRecorder(recorder),
	)
	server := NewServer(Options{Address: ":0"}, Deps{
		Kernel:    k,
		Executor:  executor,
		Traces:    recorder,
		History:   stubHistory{traces: map[string]observability.RunTrace{"archived": {RunID: "archived"}}},
		Memory:    mem,
		Extractor: stubExtractor{},
	})
	return server, recorder, mem
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunReturnsResponseTraceAndSummary(t *testing.T) {
	server, recorder, _ := newTestServer(t, kernel.StageToolProtocol, echoExecutor)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"conversationId":"c1","messages":[{"role":"user","content":"read https://docs.site/a"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var payload RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Response.Content != "echo: read https://docs.site/a" {
		t.Fatalf("unexpected content: %q", payload.Response.Content)
	}
	if payload.Trace.ConversationID != "c1" {
		t.Fatalf("unexpected conversation id: %q", payload.Trace.ConversationID)
	}
	if payload.WebExtractionSummary != "OK(static,len=33)" {
		t.Fatalf("unexpected summary: %q", payload.WebExtractionSummary)
	}
	if _, ok := recorder.Last(); !ok {
		t.Fatalf("expected trace to be recorded")
	}
}

func TestRunRejectsEmptyMessages(t *testing.T) {
	server, _, _ := newTestServer(t, kernel.MaxStage, echoExecutor)

	for _, body := range []string{`{"messages":[]}`, `{"messages":[{"role":"user","content":"  "}]}`, `not json`} {
		rec := do(t, server.Handler(), http.MethodPost, "/api/v1/runs", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: got status %d want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestRunMapsExecutorFailure(t *testing.T) {
	failing := func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("upstream down")
	}
	server, _, _ := newTestServer(t, kernel.MaxStage, failing)

	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/runs", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadGateway)
	}
	if !strings.Contains(rec.Body.String(), "upstream down") {
		t.Fatalf("expected executor error in body, got %s", rec.Body.String())
	}
}

func TestTraceEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t, kernel.MaxStage, echoExecutor)
	h := server.Handler()

	if rec := do(t, h, http.MethodGet, "/api/v1/traces/last", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any run, got %d", rec.Code)
	}

	for i := 0; i < 3; i++ {
		if rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"messages":[{"role":"user","content":"hello"}]}`); rec.Code != http.StatusOK {
			t.Fatalf("run %d failed: %d", i, rec.Code)
		}
	}

	rec := do(t, h, http.MethodGet, "/api/v1/traces?limit=2", "")
	var traces []observability.RunTrace
	if err := json.Unmarshal(rec.Body.Bytes(), &traces); err != nil {
		t.Fatalf("decode traces: %v", err)
	}
	if len(traces) != 2 {
		t.Fatalf("unexpected trace count: got %d want 2", len(traces))
	}

	rec = do(t, h, http.MethodGet, "/api/v1/traces/last", "")
	var last observability.RunTrace
	if err := json.Unmarshal(rec.Body.Bytes(), &last); err != nil {
		t.Fatalf("decode last: %v", err)
	}
	if last.RunID != traces[0].RunID {
		t.Fatalf("last trace mismatch: %s vs %s", last.RunID, traces[0].RunID)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/traces/"+last.RunID, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected buffered trace lookup to succeed, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/traces/archived", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected history lookup to succeed, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/traces/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown trace, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/metrics/agent", "")
	var m observability.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if m.TotalRuns != 3 {
		t.Fatalf("unexpected total runs: %d", m.TotalRuns)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	server, _, _ := newTestServer(t, kernel.MaxStage, echoExecutor)
	h := server.Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/settings", `{"stage":2,"safetyMode":"strict"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update settings: got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/v1/settings", "")
	var cfg kernel.StageConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if cfg.Stage != 2 || cfg.SafetyMode != kernel.SafetyStrict || !cfg.Enabled || cfg.MaxPlanSteps != 6 {
		t.Fatalf("unexpected settings: %+v", cfg)
	}

	if rec := do(t, h, http.MethodPut, "/api/v1/settings", `{"stage":9}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid stage, got %d", rec.Code)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	server, _, mem := newTestServer(t, kernel.StageMemory, echoExecutor)
	h := server.Handler()

	if rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"messages":[{"role":"user","content":"remember tomatoes"}]}`); rec.Code != http.StatusOK {
		t.Fatalf("run failed: %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/memory/stats", "")
	var stats memory.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalMemories != 2 {
		t.Fatalf("unexpected memory count: %d", stats.TotalMemories)
	}

	if rec := do(t, h, http.MethodDelete, "/api/v1/memory", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear memory: got %d", rec.Code)
	}
	if mem.Stats().TotalMemories != 0 {
		t.Fatalf("memory not cleared")
	}
}

func TestExtractEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, kernel.MaxStage, echoExecutor)

	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/extract", `{"url":"https://docs.site/b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("extract: got %d", rec.Code)
	}
	var result webextract.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.OK || result.Title != "Stub" {
		t.Fatalf("unexpected result: %+v", result)
	}

	if rec := do(t, server.Handler(), http.MethodPost, "/api/v1/extract", `{"url":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty url, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	server, _, _ := newTestServer(t, kernel.MaxStage, echoExecutor)
	h := server.Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}
	do(t, h, http.MethodGet, "/api/v1/settings", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "agentkernel_") {
		t.Fatalf("expected agentkernel metrics, got %s", rec.Body.String())
	}
}

func TestUnconfiguredServer(t *testing.T) {
	server := NewServer(Options{}, Deps{})
	rec := do(t, server.Handler(), http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAPIRequiresTokenWhenConfigured(t *testing.T) {
	server, _, _ := newTestServer(t, kernel.MaxStage, echoExecutor)
	server.deps.Auth = auth.NewGuard(auth.Config{Tokens: []auth.Token{
		{Name: "viewer", Value: "look", Permissions: []string{auth.PermissionRead}},
	}})
	h := server.Handler()

	if rec := do(t, h, http.MethodGet, "/api/v1/settings", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Header.Set("Authorization", "Bearer look")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with read token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader(`{"stage":1}`))
	req.Header.Set("Authorization", "Bearer look")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for settings update, got %d", rec.Code)
	}
}

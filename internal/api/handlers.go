package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"AgentKernel/internal/agent"
	xerrors "AgentKernel/internal/errors"
	"AgentKernel/internal/kernel"
	"AgentKernel/internal/llm"
	"AgentKernel/internal/observability"
	"AgentKernel/internal/webextract"
)

const defaultTraceLimit = 20

var errNotConfigured = xerrors.New(xerrors.CodeInitializationFailure, "服务未初始化")

// RunRequest 是 POST /runs 的请求体。
type RunRequest struct {
	ConversationID string        `json:"conversationId,omitempty"`
	Model          string        `json:"model,omitempty"`
	Messages       []llm.Message `json:"messages"`
}

// RunResponse 是 POST /runs 的响应体。
type RunResponse struct {
	Response             llm.Response           `json:"response"`
	Trace                observability.RunTrace `json:"trace"`
	WebExtractionSummary string                 `json:"webExtractionSummary"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Kernel == nil || s.deps.Executor == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}

	var req RunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Messages) == 0 || strings.TrimSpace(req.Messages[len(req.Messages)-1].Content) == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "messages 不能为空"))
		return
	}

	result, err := s.deps.Kernel.Run(r.Context(), agent.Input{
		Request:        llm.Request{Model: req.Model, Messages: req.Messages},
		ConversationID: req.ConversationID,
		Dynamic:        s.deps.Dynamic,
		Execute:        s.deps.Executor,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		Response:             result.Response,
		Trace:                result.Trace,
		WebExtractionSummary: result.Trace.ExtractionSummary(),
	})
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if s.deps.Traces == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	limit := defaultTraceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	traces := s.deps.Traces.List(limit)
	if traces == nil {
		traces = []observability.RunTrace{}
	}
	writeJSON(w, http.StatusOK, traces)
}

func (s *Server) handleLastTrace(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Traces == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	last, ok := s.deps.Traces.Last()
	if !ok {
		writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "暂无运行记录"))
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// handleGetTrace 先查内存缓冲区，未命中时查持久化仓库。
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if s.deps.Traces != nil {
		for _, t := range s.deps.Traces.List(0) {
			if t.RunID == runID {
				writeJSON(w, http.StatusOK, t)
				return
			}
		}
	}
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "运行轨迹不存在"))
		return
	}
	trace, err := s.deps.History.Get(r.Context(), runID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleAgentMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Traces == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Traces.Metrics())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	settings := s.settings()
	if settings == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, settings.Snapshot())
}

// SettingsPatch 是 PUT /settings 的请求体，缺省字段保持不变。
type SettingsPatch struct {
	Enabled      *bool              `json:"enabled,omitempty"`
	Stage        *kernel.Stage      `json:"stage,omitempty"`
	MaxPlanSteps *int               `json:"maxPlanSteps,omitempty"`
	SafetyMode   *kernel.SafetyMode `json:"safetyMode,omitempty"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.settings()
	if settings == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	var patch SettingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	next := settings.Snapshot()
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.Stage != nil {
		next.Stage = *patch.Stage
	}
	if patch.MaxPlanSteps != nil {
		next.MaxPlanSteps = *patch.MaxPlanSteps
	}
	if patch.SafetyMode != nil {
		next.SafetyMode = *patch.SafetyMode
	}
	if err := settings.Replace(next); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.Wrap(xerrors.CodeInvalidArgument, err, err.Error()))
		return
	}
	s.log.Info("阶段配置已更新",
		slog.Int("stage", int(next.Stage)),
		slog.Bool("enabled", next.Enabled),
		slog.String("safety_mode", string(next.SafetyMode)),
	)
	writeJSON(w, http.StatusOK, settings.Snapshot())
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Memory == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Memory.Stats())
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	if err := s.deps.Memory.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExtractRequest 是 POST /extract 的请求体。
type ExtractRequest struct {
	URL           string `json:"url"`
	PreferDynamic bool   `json:"preferDynamic,omitempty"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		writeError(w, http.StatusServiceUnavailable, errNotConfigured)
		return
	}
	var req ExtractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "url 不能为空"))
		return
	}
	result := s.deps.Extractor.Extract(r.Context(), req.URL, webextract.Options{
		PreferDynamic: req.PreferDynamic,
		Dynamic:       s.deps.Dynamic,
	})
	writeJSON(w, http.StatusOK, result)
}

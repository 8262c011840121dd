package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sink 接收每一条完成的运行轨迹。
type Sink interface {
	Name() string
	Record(ctx context.Context, trace RunTrace) error
}

// Fanout 将轨迹投递给多个 Sink，同名 Sink 只保留最后一个。
type Fanout struct {
	sinks []Sink
}

// NewFanout 创建一个新的 Fanout。
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add 注册 Sink。
func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	for i, existing := range f.sinks {
		if existing.Name() == s.Name() {
			f.sinks[i] = s
			return
		}
	}
	f.sinks = append(f.sinks, s)
}

// Names 返回已注册 Sink 的名称。
func (f *Fanout) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Record 将轨迹广播至所有 Sink，返回合并后的错误。
func (f *Fanout) Record(ctx context.Context, trace RunTrace) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Record(ctx, trace); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// AuditSink 为每次运行写一条审计日志。
type AuditSink struct {
	Logger *slog.Logger
}

// Name 返回 audit。
func (s *AuditSink) Name() string { return "audit" }

// Record 写入审计日志。
func (s *AuditSink) Record(ctx context.Context, t RunTrace) error {
	if s == nil || s.Logger == nil {
		return nil
	}
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "agent run",
		slog.String("run_id", t.RunID),
		slog.String("conversation_id", t.ConversationID),
		slog.Int("stage", int(t.Stage)),
		slog.String("mode", string(t.Mode)),
		slog.String("intent", t.Perception.Intent),
		slog.Int("memory_hits", t.MemoryHits),
		slog.Int("plan_steps", t.PlanSteps),
		slog.Int("tool_calls", t.ToolCalls),
		slog.Bool("safety_blocked", t.SafetyBlocked),
		slog.Bool("tool_loop_used", t.ToolLoopUsed),
		slog.String("web_extractions", t.ExtractionSummary()),
		slog.Duration("duration", t.Duration()),
	)
	return nil
}

package observability

import (
	"context"
	"log/slog"

	"AgentKernel/internal/observability/metrics"
	"AgentKernel/pkg/logger"
)

// Recorder 汇集运行轨迹：写入环形缓冲区、更新指标并投递给 Sink。
type Recorder struct {
	buffer *Buffer
	fanout *Fanout
	log    *slog.Logger
}

// Option 定义 Recorder 的可选配置。
type Option func(*Recorder)

// WithCapacity 设置缓冲区容量。
func WithCapacity(capacity int) Option {
	return func(r *Recorder) {
		r.buffer = NewBuffer(capacity)
	}
}

// WithSinks 追加 Sink。
func WithSinks(sinks ...Sink) Option {
	return func(r *Recorder) {
		for _, s := range sinks {
			r.fanout.Add(s)
		}
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRecorder 创建 Recorder。
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		buffer: NewBuffer(DefaultCapacity),
		fanout: NewFanout(),
		log:    logger.Named("observability"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Push 记录一条轨迹。Sink 失败只记录日志。
func (r *Recorder) Push(ctx context.Context, trace RunTrace) {
	r.buffer.Push(trace)
	metrics.ObserveRun(sample(trace))
	if err := r.fanout.Record(ctx, trace); err != nil {
		r.log.Warn("运行轨迹投递失败", slog.String("run_id", trace.RunID), slog.Any("error", err))
	}
}

// Last 返回最新的轨迹。
func (r *Recorder) Last() (RunTrace, bool) { return r.buffer.Last() }

// List 按从新到旧返回最多 limit 条轨迹。
func (r *Recorder) List(limit int) []RunTrace { return r.buffer.List(limit) }

// Metrics 返回聚合指标。
func (r *Recorder) Metrics() Metrics { return r.buffer.Metrics() }

// Sinks 返回已注册 Sink 的名称。
func (r *Recorder) Sinks() []string { return r.fanout.Names() }

func sample(t RunTrace) metrics.RunSample {
	s := metrics.RunSample{
		Stage:         int(t.Stage),
		Mode:          string(t.Mode),
		ToolCalls:     t.ToolCalls,
		SafetyBlocked: t.SafetyBlocked,
		ToolLoopUsed:  t.ToolLoopUsed,
		Duration:      t.Duration(),
	}
	for _, o := range t.WebExtractions {
		result := "ok"
		if !o.OK {
			result = string(o.ErrorCode)
		}
		s.Extractions = append(s.Extractions, metrics.ExtractionSample{Mode: string(o.Mode), Result: result})
	}
	return s
}

// Package render serialises headless browser rendering behind a FIFO queue
// and provides the go-rod backed renderer used for dynamic page extraction.
package render

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	xerrors "AgentKernel/internal/errors"
	"AgentKernel/internal/webextract"
	"AgentKernel/pkg/logger"
)

const (
	// DefaultGrace 是调用方在渲染上限之外额外等待的时间。
	DefaultGrace   = 1500 * time.Millisecond
	defaultTimeout = 25 * time.Second
)

// TimeoutMessage 是排队或渲染超出等待上限时返回的错误信息。
const TimeoutMessage = "Dynamic extraction timeout"

// Renderer 渲染单个页面。
type Renderer interface {
	Render(ctx context.Context, req webextract.DynamicRequest) (*webextract.DynamicResult, error)
}

// Queue 保证同一时刻只有一个渲染任务运行，等待者按到达顺序获得执行权。
// 调用方超时返回后，已开始的渲染继续在后台完成并释放执行权，
// 后台渲染的硬上限为 2*Timeout + grace。
type Queue struct {
	renderer Renderer
	sem      *semaphore.Weighted
	grace    time.Duration
	pending  atomic.Int64
	wg       sync.WaitGroup
	log      *slog.Logger
}

// QueueOption 定义队列的可选配置。
type QueueOption func(*Queue)

// WithGrace 设置调用方的额外等待时间。
func WithGrace(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d >= 0 {
			q.grace = d
		}
	}
}

// NewQueue 创建渲染队列。
func NewQueue(renderer Renderer, opts ...QueueOption) *Queue {
	q := &Queue{
		renderer: renderer,
		sem:      semaphore.NewWeighted(1),
		grace:    DefaultGrace,
		log:      logger.Named("render"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

type outcome struct {
	result *webextract.DynamicResult
	err    error
}

// Extract 实现 webextract.DynamicExtractor。调用方最多等待 Timeout + grace，
// 其中包含排队时间。
func (q *Queue) Extract(ctx context.Context, req webextract.DynamicRequest) (*webextract.DynamicResult, error) {
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}
	budget := req.Timeout + q.grace
	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	q.pending.Add(1)
	err := q.sem.Acquire(waitCtx, 1)
	q.pending.Add(-1)
	if err != nil {
		q.log.Debug("渲染排队超时", slog.String("url", req.URL))
		return nil, q.waitError(ctx)
	}

	done := make(chan outcome, 1)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.sem.Release(1)

		renderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*req.Timeout+q.grace)
		defer cancel()

		start := time.Now()
		res, err := q.renderer.Render(renderCtx, req)
		q.log.Debug("渲染完成", slog.String("url", req.URL), slog.Duration("elapsed", time.Since(start)), slog.Bool("ok", err == nil))
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-waitCtx.Done():
		q.log.Warn("渲染超时，后台任务继续执行", slog.String("url", req.URL), slog.Duration("budget", budget))
		return nil, q.waitError(ctx)
	}
}

func (q *Queue) waitError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return xerrors.New(xerrors.CodeTimeout, TimeoutMessage)
}

// Pending 返回正在排队等待的请求数。
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Wait 阻塞直到所有后台渲染结束或 ctx 结束。
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

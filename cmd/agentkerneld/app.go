package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"AgentKernel/internal/agent"
	"AgentKernel/internal/config"
	"AgentKernel/internal/events"
	"AgentKernel/internal/kernel"
	"AgentKernel/internal/llm"
	"AgentKernel/internal/llm/echo"
	"AgentKernel/internal/llm/openai"
	"AgentKernel/internal/memory"
	"AgentKernel/internal/observability"
	"AgentKernel/internal/render"
	"AgentKernel/internal/storage/sqlstore"
	"AgentKernel/internal/webextract"
	"AgentKernel/pkg/logger"
)

const memoryPublisherLimit = 1000

// app 持有一次进程生命周期内装配好的组件。
type app struct {
	kernel    *agent.Kernel
	executor  agent.Executor
	extractor *webextract.Service
	dynamic   webextract.DynamicExtractor
	queue     *render.Queue
	recorder  *observability.Recorder
	memory    *memory.Memory
	history   *sqlstore.SQLTraceRepository
	closers   []io.Closer
	log       *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{log: logger.Named("agentkerneld")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	settings, err := kernel.NewSettings(cfg.Kernel)
	if err != nil {
		return nil, err
	}

	client, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	a.executor = agent.ClientExecutor(client)

	if a.memory, err = a.createMemory(ctx, cfg); err != nil {
		return nil, err
	}

	sinks, err := a.createSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.recorder = observability.NewRecorder(
		observability.WithCapacity(cfg.Trace.Capacity),
		observability.WithSinks(sinks...),
	)

	a.extractor = webextract.NewService(cfg.Extraction.Fetch)
	if cfg.Render.Enabled {
		renderer := render.NewRodRenderer(cfg.Render.Browser)
		a.closers = append(a.closers, renderer)
		a.queue = render.NewQueue(renderer, render.WithGrace(cfg.Render.QueueGrace))
		a.dynamic = a.queue
	}

	a.kernel = agent.New(
		agent.WithSettings(settings),
		agent.WithMemory(a.memory),
		agent.WithExtractor(a.extractor),
		agent.WithRecorder(a.recorder),
		agent.WithExtractionPolicy(cfg.Extraction.ExtractionPolicy),
	)

	a.log.Info("内核装配完成",
		slog.String("provider", cfg.LLM.Provider),
		slog.Int("stage", int(cfg.Kernel.Stage)),
		slog.Bool("render", cfg.Render.Enabled),
		slog.Any("sinks", a.recorder.Sinks()),
	)
	return a, nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		client, err := openai.NewClient(cfg.LLM.OpenAI)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderEcho, "":
		return echo.New(cfg.LLM.EchoPrefix), nil
	default:
		return nil, fmt.Errorf("未知的模型提供方: %s", cfg.LLM.Provider)
	}
}

func (a *app) createMemory(ctx context.Context, cfg *config.Config) (*memory.Memory, error) {
	var store memory.Store
	switch cfg.Memory.Driver {
	case config.DriverFile:
		fs, err := memory.NewFileStore(cfg.Memory.DataDir)
		if err != nil {
			return nil, err
		}
		store = fs
	case config.DriverRedis:
		rs, err := memory.NewRedisStore(ctx, cfg.Memory.Redis)
		if err != nil {
			return nil, err
		}
		store = rs
	}

	opts := []memory.Option{memory.WithWorkingLimit(cfg.Memory.WorkingLimit)}
	if store != nil {
		a.closers = append(a.closers, store)
		opts = append(opts, memory.WithStore(store))
	}
	mem := memory.New(nil, opts...)

	n, err := mem.Warm(ctx)
	if err != nil {
		a.log.Warn("记忆预热失败，以空索引启动", slog.Any("error", err))
	} else if n > 0 {
		a.log.Info("记忆预热完成", slog.Int("records", n))
	}
	return mem, nil
}

func (a *app) createSinks(ctx context.Context, cfg *config.Config) ([]observability.Sink, error) {
	var sinks []observability.Sink
	if cfg.Trace.Audit {
		sinks = append(sinks, &observability.AuditSink{Logger: logger.Audit()})
	}

	if cfg.Trace.Repository.Driver != "" && cfg.Trace.Repository.Driver != config.DriverNone {
		repo, err := sqlstore.NewSQLTraceRepository(ctx, cfg.Trace.Repository)
		if err != nil {
			return nil, err
		}
		a.history = repo
		a.closers = append(a.closers, repo)
		sinks = append(sinks, sqlstore.Sink(repo))
	}

	var publisher events.Publisher
	switch cfg.Trace.Publisher.Driver {
	case config.DriverMemory:
		publisher = events.NewMemoryPublisher(memoryPublisherLimit)
	case config.DriverRabbitMQ:
		p, err := events.NewRabbitMQPublisher(cfg.Trace.Publisher.RabbitMQ)
		if err != nil {
			return nil, err
		}
		publisher = p
	}
	if publisher != nil {
		a.closers = append(a.closers, publisher)
		sinks = append(sinks, events.Sink(publisher))
	}
	return sinks, nil
}

// drain 等待后台渲染结束，最多 timeout。
func (a *app) drain(timeout time.Duration) {
	if a.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.queue.Wait(ctx); err != nil {
		a.log.Warn("等待渲染任务结束超时", slog.Int("pending", a.queue.Pending()))
	}
}

// Close 逆序关闭所有资源。
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

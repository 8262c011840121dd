package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xerrors "AgentKernel/internal/errors"
	"AgentKernel/internal/kernel"
	"AgentKernel/internal/llm"
	"AgentKernel/internal/memory"
	"AgentKernel/internal/observability"
	"AgentKernel/internal/planner"
	"AgentKernel/internal/safety"
	"AgentKernel/internal/tools"
	"AgentKernel/internal/webextract"
	"AgentKernel/pkg/logger"
)

const (
	defaultConversation = "global"
	memoryRecallLimit   = 5
)

// Executor 执行一次大模型调用。
type Executor func(ctx context.Context, req llm.Request) (*llm.Response, error)

// ClientExecutor 将 llm.Client 适配为 Executor。
func ClientExecutor(c llm.Client) Executor {
	return func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return c.Generate(ctx, req)
	}
}

// Input 是一次运行的输入。
type Input struct {
	Request        llm.Request
	ConversationID string
	// Dynamic 为空时只做静态提取。
	Dynamic webextract.DynamicExtractor
	Execute Executor
}

// Result 是一次运行的输出。
type Result struct {
	Response llm.Response           `json:"response"`
	Trace    observability.RunTrace `json:"trace"`
}

// Memory 是内核依赖的记忆能力。
type Memory interface {
	Retrieve(ctx context.Context, conversationID, query string, limit int) []memory.Record
	Write(ctx context.Context, conversationID, content string, important bool) memory.Record
}

// Extractor 是内核依赖的网页提取能力。
type Extractor interface {
	Extract(ctx context.Context, rawURL string, opts webextract.Options) webextract.Result
}

// Recorder 接收完成的运行轨迹。
type Recorder interface {
	Push(ctx context.Context, trace observability.RunTrace)
}

// ExtractionPolicy 控制用户链接的提取参数。
type ExtractionPolicy struct {
	MaxLinks        int           `yaml:"max_links"`
	MaxCharsPerLink int           `yaml:"max_chars_per_link"`
	MinChars        int           `yaml:"min_chars"`
	Timeout         time.Duration `yaml:"timeout"`
	WeChatTimeout   time.Duration `yaml:"wechat_timeout"`
}

// DefaultExtractionPolicy 返回默认提取参数。
func DefaultExtractionPolicy() ExtractionPolicy {
	return ExtractionPolicy{
		MaxLinks:        webextract.MaxLinksPerMessage,
		MaxCharsPerLink: 6000,
		MinChars:        300,
		Timeout:         25 * time.Second,
		WeChatTimeout:   35 * time.Second,
	}
}

func (p ExtractionPolicy) withDefaults() ExtractionPolicy {
	def := DefaultExtractionPolicy()
	if p.MaxLinks <= 0 {
		p.MaxLinks = def.MaxLinks
	}
	if p.MaxCharsPerLink <= 0 {
		p.MaxCharsPerLink = def.MaxCharsPerLink
	}
	if p.MinChars <= 0 {
		p.MinChars = def.MinChars
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.WeChatTimeout <= 0 {
		p.WeChatTimeout = def.WeChatTimeout
	}
	return p
}

func (p ExtractionPolicy) options(target string, dynamic webextract.DynamicExtractor) webextract.Options {
	wechat := webextract.IsWeChatURL(target)
	timeout := p.Timeout
	if wechat {
		timeout = p.WeChatTimeout
	}
	return webextract.Options{
		PreferDynamic: wechat,
		Timeout:       timeout,
		MaxChars:      p.MaxCharsPerLink,
		MinChars:      p.MinChars,
		Dynamic:       dynamic,
	}
}

// Kernel 是编排内核，所有依赖在构造时注入。
type Kernel struct {
	settings  *kernel.Settings
	memory    Memory
	tools     *tools.Registry
	extractor Extractor
	recorder  Recorder
	policy    ExtractionPolicy
	tracer    trace.Tracer
	log       *slog.Logger
	now       func() time.Time
}

// Option 定义 Kernel 的可选配置。
type Option func(*Kernel)

// WithSettings 指定阶段配置。
func WithSettings(s *kernel.Settings) Option {
	return func(k *Kernel) {
		if s != nil {
			k.settings = s
		}
	}
}

// WithMemory 指定记忆实现。
func WithMemory(m Memory) Option {
	return func(k *Kernel) {
		if m != nil {
			k.memory = m
		}
	}
}

// WithTools 指定工具注册表。
func WithTools(r *tools.Registry) Option {
	return func(k *Kernel) {
		if r != nil {
			k.tools = r
		}
	}
}

// WithExtractor 指定网页提取服务。
func WithExtractor(e Extractor) Option {
	return func(k *Kernel) {
		if e != nil {
			k.extractor = e
		}
	}
}

// WithRecorder 指定轨迹记录器。
func WithRecorder(r Recorder) Option {
	return func(k *Kernel) {
		if r != nil {
			k.recorder = r
		}
	}
}

// WithExtractionPolicy 覆盖链接提取参数。
func WithExtractionPolicy(p ExtractionPolicy) Option {
	return func(k *Kernel) {
		k.policy = p.withDefaults()
	}
}

// WithTracer 替换 OpenTelemetry tracer。
func WithTracer(t trace.Tracer) Option {
	return func(k *Kernel) {
		if t != nil {
			k.tracer = t
		}
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.log = l
		}
	}
}

// New 创建 Kernel，未指定的依赖使用进程内默认实现。
func New(opts ...Option) *Kernel {
	k := &Kernel{
		policy: DefaultExtractionPolicy(),
		tracer: otel.Tracer("AgentKernel/agent"),
		log:    logger.Named("agent"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	if k.settings == nil {
		k.settings, _ = kernel.NewSettings(kernel.DefaultStageConfig())
	}
	if k.memory == nil {
		k.memory = memory.New(nil)
	}
	if k.tools == nil {
		k.tools = tools.NewRegistry()
		k.tools.Register(tools.MemorySearch, tools.MemorySearchHandler(k.memory))
	}
	if k.extractor == nil {
		k.extractor = webextract.NewService(webextract.Config{})
	}
	if k.recorder == nil {
		k.recorder = observability.NewRecorder()
	}
	return k
}

// Settings 返回阶段配置持有者。
func (k *Kernel) Settings() *kernel.Settings { return k.settings }

// run 保存单次运行的可变状态。
type run struct {
	cfg          kernel.StageConfig
	input        Input
	message      string
	conversation string
	request      llm.Request
	trace        observability.RunTrace
	executions   int
}

func (r *run) prepend(content string) {
	r.request = r.request.WithSystemMessage(content)
}

func (r *run) hasSuccessfulExtraction() bool {
	for _, o := range r.trace.WebExtractions {
		if o.OK {
			return true
		}
	}
	return false
}

// Run 执行一次编排。提取与记忆的失败只降级，唯一会返回的业务错误是模型调用失败，且原样返回。
func (k *Kernel) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Execute == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置模型执行器")
	}
	if len(in.Request.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求消息不能为空")
	}

	cfg := k.settings.Snapshot()
	ctx, span := k.tracer.Start(ctx, "Kernel.Run", trace.WithAttributes(
		attribute.Int("kernel.stage", int(cfg.Stage)),
		attribute.Bool("kernel.enabled", cfg.Enabled),
	))
	defer span.End()

	r := &run{
		cfg:          cfg,
		input:        in,
		message:      in.Request.LastMessage(),
		conversation: in.ConversationID,
		request:      in.Request,
		trace: observability.RunTrace{
			RunID:          uuid.NewString(),
			ConversationID: in.ConversationID,
			StartedAt:      k.now(),
			Stage:          cfg.Stage,
			Mode:           planner.ModeSingle,
			Perception:     observability.Perception{Intent: IntentChat, Complexity: planner.ComplexityLow, Entities: []string{}},
			WebExtractions: []webextract.Outcome{},
		},
	}
	if r.conversation == "" {
		r.conversation = defaultConversation
	}
	span.SetAttributes(attribute.String("kernel.run_id", r.trace.RunID))

	if !cfg.Enabled {
		resp, err := k.execute(ctx, r)
		if err != nil {
			return nil, k.fail(span, err)
		}
		return k.finish(ctx, r, *resp), nil
	}

	r.trace.Perception = perceive(r.message)
	r.trace.Mode = selectMode(cfg, r.trace.Perception.Complexity)
	span.SetAttributes(
		attribute.String("kernel.mode", string(r.trace.Mode)),
		attribute.String("kernel.intent", r.trace.Perception.Intent),
	)

	if cfg.Allows(kernel.StageSafety) && safety.IsPromptInjection(r.message) {
		r.trace.SafetyBlocked = true
		span.AddEvent("safety.blocked")
		k.log.Warn("请求被安全策略拦截", slog.String("run_id", r.trace.RunID))
		return k.finish(ctx, r, llm.Response{
			Content: safety.RefusalMessage,
			Latency: k.now().Sub(r.trace.StartedAt).Milliseconds(),
		}), nil
	}

	k.enrich(ctx, r)

	resp, err := k.execute(ctx, r)
	if err != nil {
		return nil, k.fail(span, err)
	}

	if cfg.Allows(kernel.StageToolProtocol) {
		resp, err = k.toolLoop(ctx, r, resp)
		if err != nil {
			return nil, k.fail(span, err)
		}
	}

	answer := resp.Content
	if cfg.Allows(kernel.StageSafety) {
		answer = safety.SanitizeOutput(answer)
	}
	if cfg.Allows(kernel.StageMemory) {
		k.memory.Write(ctx, r.conversation, "USER: "+r.message, false)
		k.memory.Write(ctx, r.conversation, "ASSISTANT: "+answer, false)
	}

	final := *resp
	final.Content = answer
	return k.finish(ctx, r, final), nil
}

func selectMode(cfg kernel.StageConfig, complexity planner.Complexity) planner.Mode {
	switch {
	case cfg.Allows(kernel.StageMultiAgent):
		return planner.Route(complexity)
	case cfg.Allows(kernel.StagePlanning):
		return planner.ModePlanner
	default:
		return planner.ModeSingle
	}
}

// enrich 按阶段向请求前部追加上下文，顺序固定。
func (k *Kernel) enrich(ctx context.Context, r *run) {
	cfg := r.cfg

	if cfg.Allows(kernel.StageMemory) {
		records := k.memory.Retrieve(ctx, r.conversation, r.message, memoryRecallLimit)
		r.trace.MemoryHits = len(records)
		if len(records) > 0 {
			contents := make([]string, len(records))
			for i, rec := range records {
				contents[i] = rec.Content
			}
			r.prepend(memoryContext(contents))
		}
	}

	if cfg.Allows(kernel.StagePlanning) && (r.trace.Perception.Intent == IntentPlanning || r.trace.Mode != planner.ModeSingle) {
		steps := planner.Build(r.message, cfg.MaxPlanSteps)
		r.trace.PlanSteps = len(steps)
		r.prepend(planHeader + planner.Render(steps))
		k.log.Debug(planner.Review(steps), slog.String("run_id", r.trace.RunID))
	}

	if cfg.Allows(kernel.StageMemoryTool) && r.trace.Perception.Intent == IntentMemory {
		res := k.tools.Run(ctx, tools.MemorySearch, tools.Input{ConversationID: r.conversation, Query: r.message})
		r.trace.ToolCalls++
		if res.OK && res.Data != "" {
			r.prepend("Tool output (" + tools.MemorySearch + "):\n" + res.Data)
		}
	}

	if cfg.Allows(kernel.StageToolProtocol) {
		r.prepend(tools.CallPrompt)
		if strings.Contains(strings.ToLower(r.message), SelfTestToken) {
			k.injectSelfTest(r)
		}
		k.extractUserLinks(ctx, r)
	}

	if cfg.Allows(kernel.StageMultiAgent) && r.trace.Mode == planner.ModeMultiAgent {
		r.prepend(planner.Critic(r.message))
	}
}

func (k *Kernel) injectSelfTest(r *run) {
	mock := selfTestContext(k.policy.MaxCharsPerLink)
	r.trace.ToolCalls++
	r.trace.WebExtractions = append(r.trace.WebExtractions, webextract.Outcome{
		URL:        selfTestURL,
		OK:         true,
		Mode:       webextract.ModeDynamic,
		TextLength: utf8.RuneCountInString(mock),
		FinalURL:   selfTestURL,
	})
	r.prepend(selfTestHeader + mock)
}

func (k *Kernel) extractUserLinks(ctx context.Context, r *run) {
	urls := webextract.ExtractURLs(r.message, k.policy.MaxLinks)
	if len(urls) == 0 {
		return
	}

	var (
		items    []webItem
		failures []webFailure
	)
	for _, u := range urls {
		target, ok := webextract.NormalizeCandidate(u)
		if !ok {
			const msg = "Invalid URL after normalization"
			r.trace.WebExtractions = append(r.trace.WebExtractions, webextract.Outcome{
				URL:       u,
				ErrorCode: webextract.CodeInvalidURL,
				Message:   msg,
			})
			failures = append(failures, webFailure{URL: u, Code: string(webextract.CodeInvalidURL), Message: msg})
			continue
		}

		res := k.extract(ctx, r, target)
		outcome := res.Outcome(target)
		r.trace.WebExtractions = append(r.trace.WebExtractions, outcome)
		if !outcome.OK {
			failures = append(failures, webFailure{URL: target, Code: string(res.ErrorCode), Message: res.Message})
			continue
		}
		items = append(items, webItem{URL: firstNonEmpty(res.FinalURL, res.SourceURL, u), Title: res.Title, Text: res.Text, Mode: res.Mode})
	}

	switch {
	case len(items) > 0:
		r.prepend(webHeader + buildWebContext(items, k.policy.MaxCharsPerLink))
		r.prepend(webReminder)
	case len(failures) > 0:
		r.prepend(failureNotice(failures))
	}
}

// extract 执行一次链接提取并计入工具调用次数。
func (k *Kernel) extract(ctx context.Context, r *run, target string) webextract.Result {
	ctx, span := k.tracer.Start(ctx, "Kernel.Extract", trace.WithAttributes(attribute.String("url", target)))
	defer span.End()

	res := k.extractor.Extract(ctx, target, k.policy.options(target, r.input.Dynamic))
	r.trace.ToolCalls++
	span.SetAttributes(attribute.Bool("extract.ok", res.OK), attribute.String("extract.mode", string(res.Mode)))
	if !res.OK {
		span.SetStatus(codes.Error, string(res.ErrorCode))
	}
	return res
}

// toolLoop 处理模型发起的 web.extract 调用，最多额外调用模型一次。
func (k *Kernel) toolLoop(ctx context.Context, r *run, resp *llm.Response) (*llm.Response, error) {
	call, status := tools.ParseCall(resp.Content)
	if status != tools.Valid || call.Name != tools.WebExtract {
		return resp, nil
	}
	r.trace.ToolLoopUsed = true
	r.trace.ToolCallRaw = resp.Content

	if r.hasSuccessfulExtraction() {
		r.prepend(toolAlreadyExtracted)
		return k.execute(ctx, r)
	}

	target, ok := tools.ResolveCallURL(call)
	if !ok {
		r.prepend(toolPlaceholder)
		return k.execute(ctx, r)
	}

	res := k.extract(ctx, r, target)
	outcome := res.Outcome(target)
	r.trace.WebExtractions = append(r.trace.WebExtractions, outcome)
	if outcome.OK {
		r.prepend(toolOutput(buildWebContext([]webItem{{
			URL:   firstNonEmpty(res.FinalURL, res.SourceURL, target),
			Title: res.Title,
			Text:  res.Text,
			Mode:  res.Mode,
		}}, k.policy.MaxCharsPerLink)))
	} else {
		r.prepend(toolFailure(webFailure{URL: target, Code: string(res.ErrorCode), Message: res.Message}))
	}
	r.prepend(toolResultReady)
	return k.execute(ctx, r)
}

func (k *Kernel) execute(ctx context.Context, r *run) (*llm.Response, error) {
	ctx, span := k.tracer.Start(ctx, "Kernel.Model", trace.WithAttributes(
		attribute.String("llm.model", r.request.Model),
		attribute.Int("llm.messages", len(r.request.Messages)),
		attribute.Int("llm.attempt", r.executions+1),
	))
	defer span.End()

	r.executions++
	resp, err := r.input.Execute(ctx, r.request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model executor failed")
		return nil, err
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	return resp, nil
}

// fail 标记 span 并原样返回执行器错误。
func (k *Kernel) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	k.log.Error("模型调用失败", slog.Any("error", err))
	return err
}

func (k *Kernel) finish(ctx context.Context, r *run, resp llm.Response) *Result {
	r.trace.EndedAt = k.now()
	// 调用方断开后，已完成的运行仍需写入各个 sink。
	k.recorder.Push(context.WithoutCancel(ctx), r.trace)
	k.log.Info("agent run finished",
		slog.String("run_id", r.trace.RunID),
		slog.Int("stage", int(r.trace.Stage)),
		slog.String("mode", string(r.trace.Mode)),
		slog.Int("tool_calls", r.trace.ToolCalls),
		slog.String("web_extractions", r.trace.ExtractionSummary()),
	)
	return &Result{Response: resp, Trace: r.trace}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

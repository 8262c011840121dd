package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"AgentKernel/internal/agent"
	"AgentKernel/internal/api"
	"AgentKernel/internal/auth"
	"AgentKernel/internal/llm"
	"AgentKernel/internal/observability/metrics"
	"AgentKernel/internal/webextract"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var (
	runConversation string
	runDynamic      bool
)

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Run the kernel once and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOnce,
}

var extractDynamic bool

var extractCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Extract readable text from a single page",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	runCmd.Flags().StringVar(&runConversation, "conversation", "", "会话 ID，为空时使用内核默认值")
	runCmd.Flags().BoolVar(&runDynamic, "dynamic", false, "允许使用浏览器渲染兜底")
	extractCmd.Flags().BoolVar(&extractDynamic, "dynamic", false, "优先使用浏览器渲染")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.drain(cfg.Server.ShutdownTimeout)

	deps := api.Deps{
		Kernel:    a.kernel,
		Executor:  a.executor,
		Dynamic:   a.dynamic,
		Traces:    a.recorder,
		Memory:    a.memory,
		Extractor: a.extractor,
		Auth:      auth.NewGuard(cfg.Server.Auth),
	}
	if a.history != nil {
		deps.History = a.history
	}
	server := api.NewServer(api.Options{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if addr := cfg.Telemetry.MetricsAddress; addr != "" {
		g.Go(func() error { return metrics.StartServer(gctx, addr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.drain(cfg.Server.ShutdownTimeout)

	in := agent.Input{
		Request: llm.Request{
			Messages: []llm.Message{{Role: "user", Content: strings.Join(args, " ")}},
		},
		ConversationID: runConversation,
		Execute:        a.executor,
	}
	if runDynamic {
		in.Dynamic = a.dynamic
	}

	result, err := a.kernel.Run(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(api.RunResponse{
		Response:             result.Response,
		Trace:                result.Trace,
		WebExtractionSummary: result.Trace.ExtractionSummary(),
	})
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.drain(cfg.Server.ShutdownTimeout)

	opts := webextract.Options{PreferDynamic: extractDynamic, Dynamic: a.dynamic}
	result := a.extractor.Extract(ctx, args[0], opts)
	if err := printJSON(result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("提取失败: %s", result.ErrorCode)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"AgentKernel/internal/config"
	"AgentKernel/pkg/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentkerneld",
	Short: "Agent orchestration kernel daemon",
	Long: `agentkerneld wraps a chat model with staged capabilities:
memory recall, planning, web extraction, a single tool loop,
multi-agent review and safety screening.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logger.Init(loaded.Logging); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML 配置文件路径")
	rootCmd.AddCommand(serveCmd, runCmd, extractCmd)
}

// main 是 agentkerneld 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		log.Fatalf("agentkerneld 运行失败: %v", err)
	}
}

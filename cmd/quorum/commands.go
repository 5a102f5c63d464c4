package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"quorum/internal/app"
	"quorum/internal/config"
	"quorum/internal/logger"
)

const defaultConfigPath = "configs/config.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "quorum",
		Short:        "quorum - multi-model consensus trading loop for perpetual futures",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env 可选，已存在的环境变量优先
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path (default $QUORUM_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newOnceCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the aligned decision loop for all configured symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("运行失败: %w", err)
			}
			logger.Infof("已退出")
			return nil
		},
	}
}

func newOnceCmd(cfgPath *string) *cobra.Command {
	var symbols []string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single decision cycle and print the outcomes as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			results, err := a.Once(ctx, symbols)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
				if err := enc.Encode(r.Outcome); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d/%d symbols failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&symbols, "symbol", "s", nil, "symbol to run (repeatable, default cycle.symbols)")
	return cmd
}

// setup 读取配置、初始化日志输出并构建应用；返回的 cleanup 关闭日志文件。
func setup(cfgPath string) (*app.App, func(), error) {
	if cfgPath == "" {
		cfgPath = os.Getenv("QUORUM_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	logFile, err := logger.Setup(logger.Options{
		Level:  cfg.App.LogLevel,
		Format: cfg.App.LogFormat,
		Path:   cfg.App.LogPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	if logFile != nil {
		closers = append(closers, logFile)
	}
	logger.SetLLMWriter(nil)
	logger.EnableLLMPayloadDump(cfg.App.LLMDump)
	if cfg.App.LLMLog != "" {
		f, err := logger.OpenAppend(cfg.App.LLMLog)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("初始化 LLM 日志失败: %w", err)
		}
		logger.SetLLMWriter(f)
		closers = append(closers, f)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, cfgPath)

	a, err := app.NewApp(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	return a, cleanup, nil
}

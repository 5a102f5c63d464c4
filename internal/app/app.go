package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"quorum/internal/config"
	"quorum/internal/cycle"
	"quorum/internal/logger"
	"quorum/internal/store"
	metricshttp "quorum/internal/transport/http/metrics"
)

// App 负责应用级编排：加载配置→初始化依赖→启动周期循环与指标服务。
type App struct {
	cfg     *config.Config
	runner  *cycle.Runner
	loop    *cycle.Loop
	metrics *metricshttp.Server
	store   *store.Store
	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）；opts 用于替换 provider、交易所等外部依赖。
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, builderOptions(opts))
}

// Run 启动调度循环与指标服务，阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.loop == nil {
		return fmt.Errorf("cycle loop not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.closeStore()

	group, ctx := errgroup.WithContext(ctx)
	if a.metrics != nil {
		group.Go(func() error {
			if err := a.metrics.Start(ctx); err != nil {
				return fmt.Errorf("metrics http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.loop.Run(ctx)
	})
	return group.Wait()
}

// Once 对给定 symbol 各跑一个周期；symbols 为空时使用配置的列表。
func (a *App) Once(ctx context.Context, symbols []string) ([]cycle.Result, error) {
	if a == nil || a.runner == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	defer a.closeStore()
	if len(symbols) == 0 {
		symbols = a.cfg.Cycle.Symbols
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to run")
	}
	results := a.runner.RunMany(ctx, symbols)
	a.runner.Close()
	return results, nil
}

// Runner 暴露底层 runner，便于测试。
func (a *App) Runner() *cycle.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.Warnf("关闭数据库失败: %v", err)
	}
}

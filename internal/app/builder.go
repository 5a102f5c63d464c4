package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"quorum/internal/config"
	"quorum/internal/consensus"
	"quorum/internal/cycle"
	"quorum/internal/gateway/exchange"
	"quorum/internal/gateway/notifier"
	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/prompt"
	"quorum/internal/risk"
	"quorum/internal/sizing"
	"quorum/internal/stops"
	"quorum/internal/store"
	metricshttp "quorum/internal/transport/http/metrics"
)

// AppBuilder 按配置组装所有组件；各 *Fn 字段可在测试中替换。
type AppBuilder struct {
	cfg *config.Config

	promptsFn  func(string) (*prompt.Registry, error)
	membersFn  func(*config.Config, provider.Prompts) ([]consensus.Member, error)
	exchangeFn func(config.ExchangeConfig) (exchange.OrderPlacer, exchange.AccountReader)
	feedFn     func(config.MarketConfig) market.PriceFeed
	storeFn    func(config.StoreConfig) (*store.Store, error)
}

type AppBuilderOption func(*AppBuilder)

func WithMembers(fn func(*config.Config, provider.Prompts) ([]consensus.Member, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.membersFn = fn }
}

func WithExchange(fn func(config.ExchangeConfig) (exchange.OrderPlacer, exchange.AccountReader)) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeFn = fn }
}

func WithPriceFeed(fn func(config.MarketConfig) market.PriceFeed) AppBuilderOption {
	return func(b *AppBuilder) { b.feedFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		promptsFn:  prompt.NewRegistry,
		membersFn:  buildMembers,
		exchangeFn: buildExchange,
		feedFn:     buildPriceFeed,
		storeFn:    openStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	registry, err := b.promptsFn(cfg.Prompts.Path)
	if err != nil {
		return nil, fmt.Errorf("加载提示词失败: %w", err)
	}
	members, err := b.membersFn(cfg, registry)
	if err != nil {
		return nil, err
	}
	svc, err := consensus.NewService(members, consensus.Config{
		MinQuorum:         cfg.Consensus.MinQuorum,
		MajorityThreshold: cfg.Consensus.MajorityThreshold,
		TieBreak:          consensus.TieBreak(cfg.Consensus.TieBreak),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化共识服务失败: %w", err)
	}

	orders, account := b.exchangeFn(cfg.Exchange)
	snapshots := market.NewSnapshotSource(b.feedFn(cfg.Market), account, market.Config{
		ATRInterval:  cfg.Market.ATRInterval,
		ATRPeriod:    cfg.Market.ATRPeriod,
		StableSymbol: cfg.Market.StableSymbol,
	})

	params := cycle.Params{
		Snapshots: snapshots,
		Consensus: svc,
		Guard: risk.NewGuard(risk.GuardConfig{
			DepegLower:         cfg.Risk.DepegLower,
			DepegUpper:         cfg.Risk.DepegUpper,
			RequireStableRate:  cfg.Risk.RequireStableRate,
			KFactor:            cfg.Risk.KFactor,
			MinStopDistancePct: cfg.Risk.MinStopDistancePct,
		}),
		Sizer: sizing.NewSizer(risk.NewImCapService(bandsFromConfig(cfg.Risk.Bands))),
		Stops: stops.NewCalculator(stops.Config{
			ATRMultiplier:      cfg.Stops.ATRMultiplier,
			RewardRatio:        cfg.Stops.RewardRatio,
			FallbackATRPct:     cfg.Stops.FallbackATRPct,
			StopLimitOffsetPct: cfg.Stops.StopLimitOffsetPct,
		}, snapshots),
		Orders:   orders,
		Notifier: buildNotifier(cfg.Notify),
	}

	var db *store.Store
	if cfg.Store.Enabled {
		db, err = b.storeFn(cfg.Store)
		if err != nil {
			return nil, err
		}
		params.Sink = db
	}

	runner, err := cycle.NewRunner(params, cycle.Config{
		SizingMode:   cfg.Sizing.Mode,
		RiskPct:      cfg.Sizing.RiskPct,
		Leverage:     cfg.Sizing.Leverage,
		KFactor:      cfg.Risk.KFactor,
		UseStopLimit: cfg.Stops.UseStopLimit,
		UseSuggested: cfg.Stops.UseSuggested,
		Instruments: func(sym string) cycle.Instrument {
			inst := cfg.Sizing.InstrumentFor(sym)
			return cycle.Instrument{QtyStep: inst.QtyStep, MinQty: inst.MinQty}
		},
	})
	if err != nil {
		return nil, err
	}

	interval, err := cfg.Cycle.IntervalDuration()
	if err != nil {
		return nil, err
	}
	loop, err := cycle.NewLoop(runner, cfg.Cycle.Symbols, cycle.LoopConfig{
		Interval:        interval,
		Offset:          time.Duration(cfg.Cycle.OffsetSeconds) * time.Second,
		RunImmediately:  cfg.Cycle.RunImmediately,
		BreakerFailures: cfg.Cycle.BreakerFailures,
		BreakerCooldown: time.Duration(cfg.Cycle.BreakerCooldown) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	var metricsSrv *metricshttp.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metricshttp.NewServer(cfg.Metrics.Addr, loop.Health)
		logger.Infof("✓ 指标接口监听 %s", metricsSrv.Addr())
	}

	return &App{
		cfg:     cfg,
		runner:  runner,
		loop:    loop,
		metrics: metricsSrv,
		store:   db,
		Summary: newStartupSummary(cfg, members),
	}, nil
}

// buildMembers 按启用顺序构造 provider，并带上各自的权重、优先级与超时。
func buildMembers(cfg *config.Config, prompts provider.Prompts) ([]consensus.Member, error) {
	resolved := cfg.AI.ResolvedProviders()
	providers, err := provider.BuildProviders(resolved, prompts)
	if err != nil {
		return nil, fmt.Errorf("初始化 AI provider 失败: %w", err)
	}
	if len(providers) != len(resolved) {
		return nil, fmt.Errorf("provider count mismatch: %d built, %d configured", len(providers), len(resolved))
	}
	members := make([]consensus.Member, 0, len(providers))
	for i, p := range providers {
		m := resolved[i]
		members = append(members, consensus.Member{
			Provider:        p,
			Weight:          m.Weight,
			Priority:        m.Priority,
			Timeout:         m.Timeout(),
			CostPer1kTokens: m.CostPer1kTokens,
		})
	}
	return members, nil
}

// buildExchange 在 dry_run 且无密钥时用模拟账户提供权益，下单仍走客户端的 dry-run 分支。
func buildExchange(cfg config.ExchangeConfig) (exchange.OrderPlacer, exchange.AccountReader) {
	client := exchange.NewClient(exchange.Config{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		APISecret:       cfg.APISecret,
		Category:        cfg.Category,
		SettleCoin:      cfg.SettleCoin,
		RecvWindow:      time.Duration(cfg.RecvWindowMs) * time.Millisecond,
		Timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		RateLimitPerSec: cfg.RateLimitPerSec,
		RateLimitBurst:  cfg.RateLimitBurst,
		DryRun:          cfg.DryRun,
	})
	if cfg.DryRun {
		logger.Warnf("⚠ exchange.dry_run 已开启，订单不会真实提交")
		if cfg.APIKey == "" {
			return client, exchange.PaperAccount{Equity: cfg.PaperEquity}
		}
	}
	return client, client
}

func buildPriceFeed(cfg config.MarketConfig) market.PriceFeed {
	return market.NewBinanceFeed(cfg.RESTBaseURL, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

func openStore(cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	path := cfg.Path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	logger.Infof("✓ 决策与订单记录写入 %s", path)
	return db, nil
}

func buildNotifier(cfg config.NotifyConfig) *notifier.Dispatcher {
	var channels []notifier.TextNotifier
	if cfg.Telegram.Enabled {
		channels = append(channels, notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Slack.Enabled {
		channels = append(channels, notifier.NewSlack(cfg.Slack.WebhookURL))
	}
	window := time.Duration(cfg.DedupWindowSeconds) * time.Second
	return notifier.NewDispatcher(notifier.ParseLevel(cfg.MinLevel), window, channels...)
}

func bandsFromConfig(c config.BandsConfig) risk.Bands {
	return risk.Bands{
		Low:     risk.BandSpec{From: 0, MaxLeverage: c.LowLeverage, ImPct: c.LowImPct},
		Medium:  risk.BandSpec{From: c.MediumFrom, MaxLeverage: c.MediumLeverage, ImPct: c.MediumImPct},
		High:    risk.BandSpec{From: c.HighFrom, MaxLeverage: c.HighLeverage, ImPct: c.HighImPct},
		Extreme: risk.BandSpec{From: c.ExtremeFrom, MaxLeverage: c.ExtremeLeverage, ImPct: c.ExtremeImPct},
	}
}

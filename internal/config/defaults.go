package config

import (
	"strings"

	"quorum/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppLogFormat   = "text"
	defaultAppLogPath     = "/data/logs/quorum.log"
	defaultAppLLMLogPath  = "/data/logs/quorum-llm.log"
	defaultProviderTmoMs  = 30000
	defaultProviderTokens = 1024
	defaultProviderWeight = 1.0

	defaultMinQuorum = 2
	defaultTieBreak  = "hold"

	defaultDepegLower    = 0.995
	defaultDepegUpper    = 1.005
	defaultKFactor       = 1.5
	defaultMinStopDist   = 0.001
	defaultMediumFrom    = 0.30
	defaultHighFrom      = 0.70
	defaultExtremeFrom   = 0.80
	defaultLowLev        = 25
	defaultMediumLev     = 15
	defaultHighLev       = 10
	defaultExtremeLev    = 5
	defaultLowImPct      = 0.40
	defaultMediumImPct   = 0.25
	defaultHighImPct     = 0.15
	defaultExtremeImPct  = 0.05
	defaultSizingMode    = "imcap"
	defaultSizingRiskPct = 0.01
	defaultSizingLev     = 10
	defaultQtyStep       = 0.001
	defaultMinQty        = 0.001

	defaultATRMultiplier  = 1.5
	defaultRewardRatio    = 2.0
	defaultFallbackATRPct = 0.01
	defaultStopLimitPct   = 0.001

	defaultExchangeURL      = "https://api.bybit.com"
	defaultExchangeCategory = "linear"
	defaultRecvWindowMs     = 5000
	defaultExchangeTimeout  = 10
	defaultExchangeRate     = 10
	defaultExchangeBurst    = 5
	defaultSettleCoin       = "USDT"
	defaultPaperEquity      = 10000

	defaultMarketREST     = "https://fapi.binance.com"
	defaultATRInterval    = "1h"
	defaultATRPeriod      = 14
	defaultStableSymbol   = "USDCUSDT"
	defaultMarketTimeout  = 10
	defaultCycleInterval  = "1h"
	defaultCycleOffset    = 10
	defaultBreakerFails   = 3
	defaultBreakerCoolSec = 300

	defaultStorePath     = "/data/db/quorum.db"
	defaultDedupWindow   = 300
	defaultNotifyLevel   = "warn"
	defaultMetricsAddr   = ":9991"
	defaultPromptsPath   = "configs/prompts.yaml"
)

// DefaultMajorityThreshold 为加权多数阈值，默认 2/3。
const DefaultMajorityThreshold = 2.0 / 3.0

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.AI.applyDefaults()
	c.Consensus.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Sizing.applyDefaults(keys)
	c.Stops.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Cycle.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
	c.Prompts.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

// providers 是列表，不按 key 追踪，直接对零值补默认。
func (a *AIConfig) applyDefaults() {
	if a == nil {
		return
	}
	for i := range a.Providers {
		p := &a.Providers[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			p.Name = strings.TrimSpace(p.Model)
		}
		p.Vendor = strings.ToLower(strings.TrimSpace(p.Vendor))
		if p.TimeoutMs <= 0 {
			p.TimeoutMs = defaultProviderTmoMs
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = defaultProviderTokens
		}
		if p.Weight <= 0 {
			p.Weight = defaultProviderWeight
		}
	}
}

func (c *ConsensusConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("consensus.min_quorum", &c.MinQuorum, defaultMinQuorum),
		floatFieldDefault("consensus.majority_threshold", &c.MajorityThreshold, DefaultMajorityThreshold),
		stringFieldDefault("consensus.tie_break", &c.TieBreak, defaultTieBreak),
	)
	c.TieBreak = strings.ToLower(strings.TrimSpace(c.TieBreak))
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	b := &r.Bands
	applyFieldDefaults(keys,
		floatFieldDefault("risk.depeg_lower", &r.DepegLower, defaultDepegLower),
		floatFieldDefault("risk.depeg_upper", &r.DepegUpper, defaultDepegUpper),
		floatFieldDefault("risk.k_factor", &r.KFactor, defaultKFactor),
		floatFieldDefault("risk.min_stop_distance_pct", &r.MinStopDistancePct, defaultMinStopDist),
		floatFieldDefault("risk.bands.medium_from", &b.MediumFrom, defaultMediumFrom),
		floatFieldDefault("risk.bands.high_from", &b.HighFrom, defaultHighFrom),
		floatFieldDefault("risk.bands.extreme_from", &b.ExtremeFrom, defaultExtremeFrom),
		floatFieldDefault("risk.bands.low_leverage", &b.LowLeverage, defaultLowLev),
		floatFieldDefault("risk.bands.medium_leverage", &b.MediumLeverage, defaultMediumLev),
		floatFieldDefault("risk.bands.high_leverage", &b.HighLeverage, defaultHighLev),
		floatFieldDefault("risk.bands.extreme_leverage", &b.ExtremeLeverage, defaultExtremeLev),
		floatFieldDefault("risk.bands.low_im_pct", &b.LowImPct, defaultLowImPct),
		floatFieldDefault("risk.bands.medium_im_pct", &b.MediumImPct, defaultMediumImPct),
		floatFieldDefault("risk.bands.high_im_pct", &b.HighImPct, defaultHighImPct),
		floatFieldDefault("risk.bands.extreme_im_pct", &b.ExtremeImPct, defaultExtremeImPct),
	)
}

func (s *SizingConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sizing.mode", &s.Mode, defaultSizingMode),
		floatFieldDefault("sizing.risk_pct", &s.RiskPct, defaultSizingRiskPct),
		floatFieldDefault("sizing.leverage", &s.Leverage, defaultSizingLev),
		floatFieldDefault("sizing.qty_step", &s.QtyStep, defaultQtyStep),
		floatFieldDefault("sizing.min_qty", &s.MinQty, defaultMinQty),
	)
	s.Mode = strings.ToLower(strings.TrimSpace(s.Mode))
}

func (s *StopsConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("stops.atr_multiplier", &s.ATRMultiplier, defaultATRMultiplier),
		floatFieldDefault("stops.reward_ratio", &s.RewardRatio, defaultRewardRatio),
		floatFieldDefault("stops.fallback_atr_pct", &s.FallbackATRPct, defaultFallbackATRPct),
		floatFieldDefault("stops.stop_limit_offset_pct", &s.StopLimitOffsetPct, defaultStopLimitPct),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.base_url", &e.BaseURL, defaultExchangeURL),
		stringFieldDefault("exchange.category", &e.Category, defaultExchangeCategory),
		stringFieldDefault("exchange.settle_coin", &e.SettleCoin, defaultSettleCoin),
		intFieldDefault("exchange.recv_window_ms", &e.RecvWindowMs, defaultRecvWindowMs),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
		floatFieldDefault("exchange.rate_limit_per_sec", &e.RateLimitPerSec, defaultExchangeRate),
		intFieldDefault("exchange.rate_limit_burst", &e.RateLimitBurst, defaultExchangeBurst),
		floatFieldDefault("exchange.paper_equity", &e.PaperEquity, defaultPaperEquity),
	)
	e.BaseURL = strings.TrimRight(strings.TrimSpace(e.BaseURL), "/")
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.atr_interval", &m.ATRInterval, defaultATRInterval),
		intFieldDefault("market.atr_period", &m.ATRPeriod, defaultATRPeriod),
		stringFieldDefault("market.stable_symbol", &m.StableSymbol, defaultStableSymbol),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
	)
}

func (c *CycleConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("cycle.interval", &c.Interval, defaultCycleInterval),
		intFieldDefault("cycle.offset_seconds", &c.OffsetSeconds, defaultCycleOffset),
		boolFieldDefault("cycle.run_immediately", &c.RunImmediately, true),
		intFieldDefault("cycle.breaker_failures", &c.BreakerFailures, defaultBreakerFails),
		intFieldDefault("cycle.breaker_cooldown_seconds", &c.BreakerCooldown, defaultBreakerCoolSec),
	)
	c.Symbols = symbol.ContractList(c.Symbols)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("store.enabled", &s.Enabled, true),
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("notify.dedup_window_seconds", &n.DedupWindowSeconds, defaultDedupWindow),
		stringFieldDefault("notify.min_level", &n.MinLevel, defaultNotifyLevel),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("metrics.addr", &m.Addr, defaultMetricsAddr),
	)
}

func (p *PromptsConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("prompts.path", &p.Path, defaultPromptsPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

package config

import (
	"strings"
	"time"

	"quorum/internal/pkg/symbol"
)

// Config 是 quorum 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	AI        AIConfig        `toml:"ai"`
	Consensus ConsensusConfig `toml:"consensus"`
	Risk      RiskConfig      `toml:"risk"`
	Sizing    SizingConfig    `toml:"sizing"`
	Stops     StopsConfig     `toml:"stops"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Market    MarketConfig    `toml:"market"`
	Cycle     CycleConfig     `toml:"cycle"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Prompts   PromptsConfig   `toml:"prompts"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	LLMDump   bool   `toml:"llm_dump_payload"`
}

// AIConfig 描述参与共识投票的模型列表与可复用的连接预设。
type AIConfig struct {
	Presets   map[string]ProviderPreset `toml:"presets"`
	Providers []ProviderConfig          `toml:"providers"`
}

// ProviderPreset 描述可复用的 API 连接配置。
type ProviderPreset struct {
	Vendor  string            `toml:"vendor"`
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Headers map[string]string `toml:"headers"`
}

// ProviderConfig 代表一个参与投票的模型条目。
type ProviderConfig struct {
	Name            string            `toml:"name"`
	Preset          string            `toml:"preset"`
	Vendor          string            `toml:"vendor"` // openai | anthropic
	Enabled         bool              `toml:"enabled"`
	Model           string            `toml:"model"`
	APIURL          string            `toml:"api_url"`
	APIKey          string            `toml:"api_key"`
	Headers         map[string]string `toml:"headers"`
	TimeoutMs       int               `toml:"timeout_ms"`
	MaxTokens       int               `toml:"max_tokens"`
	Priority        int               `toml:"priority"`
	Weight          float64           `toml:"weight"`
	CostPer1kTokens float64           `toml:"cost_per_1k_tokens"`
	Temperature     float64           `toml:"temperature"`
}

// Timeout 返回单次调用的截止时长。
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// ConsensusConfig 控制两轮投票的法定人数与仲裁规则。
type ConsensusConfig struct {
	MinQuorum         int     `toml:"min_quorum"`
	MajorityThreshold float64 `toml:"majority_threshold"`
	TieBreak          string  `toml:"tie_break"` // hold | priority
}

// RiskConfig 同时覆盖风险分档（IM cap）与开仓准入检查。
type RiskConfig struct {
	DepegLower         float64     `toml:"depeg_lower"`
	DepegUpper         float64     `toml:"depeg_upper"`
	RequireStableRate  bool        `toml:"require_stable_rate"`
	KFactor            float64     `toml:"k_factor"`
	MinStopDistancePct float64     `toml:"min_stop_distance_pct"`
	Bands              BandsConfig `toml:"bands"`
}

// BandsConfig 是按保证金占用率划分的风险档位。阈值为各档下沿（含）。
type BandsConfig struct {
	MediumFrom      float64 `toml:"medium_from"`
	HighFrom        float64 `toml:"high_from"`
	ExtremeFrom     float64 `toml:"extreme_from"`
	LowLeverage     float64 `toml:"low_leverage"`
	MediumLeverage  float64 `toml:"medium_leverage"`
	HighLeverage    float64 `toml:"high_leverage"`
	ExtremeLeverage float64 `toml:"extreme_leverage"`
	LowImPct        float64 `toml:"low_im_pct"`
	MediumImPct     float64 `toml:"medium_im_pct"`
	HighImPct       float64 `toml:"high_im_pct"`
	ExtremeImPct    float64 `toml:"extreme_im_pct"`
}

// SizingConfig 控制下单数量的计算方式。
type SizingConfig struct {
	Mode     string                `toml:"mode"` // risk | imcap
	RiskPct  float64               `toml:"risk_pct"`
	Leverage float64               `toml:"leverage"`
	QtyStep  float64               `toml:"qty_step"`
	MinQty   float64               `toml:"min_qty"`
	Symbols  map[string]Instrument `toml:"symbols"`
}

// Instrument 覆盖单个合约的数量步长。
type Instrument struct {
	QtyStep float64 `toml:"qty_step"`
	MinQty  float64 `toml:"min_qty"`
}

// InstrumentFor 返回 symbol 的步长配置，未配置时回落到全局值。
func (s SizingConfig) InstrumentFor(sym string) Instrument {
	out := Instrument{QtyStep: s.QtyStep, MinQty: s.MinQty}
	if len(s.Symbols) == 0 {
		return out
	}
	key := symbol.Contract(sym)
	for k, v := range s.Symbols {
		if symbol.Contract(k) != key {
			continue
		}
		if v.QtyStep > 0 {
			out.QtyStep = v.QtyStep
		}
		if v.MinQty > 0 {
			out.MinQty = v.MinQty
		}
	}
	return out
}

type StopsConfig struct {
	ATRMultiplier      float64 `toml:"atr_multiplier"`
	RewardRatio        float64 `toml:"reward_ratio"`
	FallbackATRPct     float64 `toml:"fallback_atr_pct"`
	StopLimitOffsetPct float64 `toml:"stop_limit_offset_pct"`
	UseStopLimit       bool    `toml:"use_stop_limit"`
	UseSuggested       bool    `toml:"use_suggested"`
}

// ExchangeConfig 描述下单网关（Bybit v5 风格接口）。
type ExchangeConfig struct {
	BaseURL         string  `toml:"base_url"`
	APIKey          string  `toml:"api_key"`
	APISecret       string  `toml:"api_secret"`
	Category        string  `toml:"category"`
	RecvWindowMs    int     `toml:"recv_window_ms"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	RateLimitBurst  int     `toml:"rate_limit_burst"`
	SettleCoin      string  `toml:"settle_coin"`
	DryRun          bool    `toml:"dry_run"`
	PaperEquity     float64 `toml:"paper_equity"` // dry_run 且无密钥时使用
}

type MarketConfig struct {
	RESTBaseURL    string `toml:"rest_base_url"`
	ATRInterval    string `toml:"atr_interval"`
	ATRPeriod      int    `toml:"atr_period"`
	StableSymbol   string `toml:"stable_symbol"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// CycleConfig 描述调度的币种与节奏。
type CycleConfig struct {
	Symbols         []string `toml:"symbols"`
	Interval        string   `toml:"interval"`
	OffsetSeconds   int      `toml:"offset_seconds"`
	RunImmediately  bool     `toml:"run_immediately"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown int      `toml:"breaker_cooldown_seconds"`
}

type StoreConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type NotifyConfig struct {
	DedupWindowSeconds int            `toml:"dedup_window_seconds"`
	MinLevel           string         `toml:"min_level"`
	Telegram           TelegramConfig `toml:"telegram"`
	Slack              SlackConfig    `toml:"slack"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type SlackConfig struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhook_url"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type PromptsConfig struct {
	Path string `toml:"path"`
}

// ResolvedProviders 合并预设后返回启用的 provider 配置。
func (a AIConfig) ResolvedProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(a.Providers))
	for _, p := range a.Providers {
		if !p.Enabled {
			continue
		}
		out = append(out, a.resolve(p))
	}
	return out
}

func (a AIConfig) resolve(p ProviderConfig) ProviderConfig {
	preset, ok := a.Presets[strings.TrimSpace(p.Preset)]
	if !ok {
		return p
	}
	if strings.TrimSpace(p.Vendor) == "" {
		p.Vendor = preset.Vendor
	}
	if strings.TrimSpace(p.APIURL) == "" {
		p.APIURL = preset.APIURL
	}
	if strings.TrimSpace(p.APIKey) == "" {
		p.APIKey = preset.APIKey
	}
	if len(preset.Headers) > 0 {
		merged := make(map[string]string, len(preset.Headers)+len(p.Headers))
		for k, v := range preset.Headers {
			merged[k] = v
		}
		for k, v := range p.Headers {
			merged[k] = v
		}
		p.Headers = merged
	}
	return p
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

package config

import (
	"fmt"
	"strings"
	"time"

	"quorum/internal/pkg/symbol"
	"quorum/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Consensus.validate(len(c.AI.ResolvedProviders())); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Sizing.validate(); err != nil {
		return err
	}
	if err := c.Stops.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Cycle.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AIConfig) validate() error {
	for name, p := range a.Presets {
		if strings.TrimSpace(p.APIURL) == "" {
			return fmt.Errorf("ai.presets.%s missing api_url", name)
		}
	}
	providers := a.ResolvedProviders()
	if len(providers) == 0 {
		return fmt.Errorf("ai.providers requires at least one enabled provider")
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if p.Name == "" {
			return fmt.Errorf("ai.providers contains entry without name or model")
		}
		if seen[p.Name] {
			return fmt.Errorf("ai.providers contains duplicate name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Preset != "" {
			if _, ok := a.Presets[p.Preset]; !ok {
				return fmt.Errorf("ai.providers.%s references unknown preset %s", p.Name, p.Preset)
			}
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("ai.providers.%s missing model", p.Name)
		}
		if strings.TrimSpace(p.APIURL) == "" {
			return fmt.Errorf("ai.providers.%s missing api_url (can inherit from preset)", p.Name)
		}
		switch p.Vendor {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("ai.providers.%s vendor must be openai or anthropic, got %q", p.Name, p.Vendor)
		}
	}
	return nil
}

func (c *ConsensusConfig) validate(providers int) error {
	if c.MinQuorum < 1 {
		return fmt.Errorf("consensus.min_quorum must be >= 1")
	}
	if c.MinQuorum > providers {
		return fmt.Errorf("consensus.min_quorum (%d) exceeds enabled providers (%d)", c.MinQuorum, providers)
	}
	if c.MajorityThreshold <= 0.5 || c.MajorityThreshold > 1 {
		return fmt.Errorf("consensus.majority_threshold must be in (0.5, 1]")
	}
	switch c.TieBreak {
	case "hold", "priority":
	default:
		return fmt.Errorf("consensus.tie_break must be hold or priority")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.DepegLower >= 1 || r.DepegUpper <= 1 {
		return fmt.Errorf("risk depeg bounds must straddle 1.0 (got %.4f..%.4f)", r.DepegLower, r.DepegUpper)
	}
	b := r.Bands
	if !(b.MediumFrom < b.HighFrom && b.HighFrom < b.ExtremeFrom && b.ExtremeFrom <= 1) {
		return fmt.Errorf("risk.bands thresholds must be increasing and <= 1")
	}
	if !(b.LowLeverage >= b.MediumLeverage && b.MediumLeverage >= b.HighLeverage && b.HighLeverage >= b.ExtremeLeverage) {
		return fmt.Errorf("risk.bands leverage must not increase with utilization")
	}
	if !(b.LowImPct >= b.MediumImPct && b.MediumImPct >= b.HighImPct && b.HighImPct >= b.ExtremeImPct) {
		return fmt.Errorf("risk.bands im_pct must not increase with utilization")
	}
	if b.LowImPct > 1 {
		return fmt.Errorf("risk.bands.low_im_pct must be <= 1")
	}
	return nil
}

func (s *SizingConfig) validate() error {
	switch s.Mode {
	case "risk", "imcap":
	default:
		return fmt.Errorf("sizing.mode must be risk or imcap")
	}
	if s.RiskPct > 1 {
		return fmt.Errorf("sizing.risk_pct must be <= 1")
	}
	for sym, inst := range s.Symbols {
		if inst.QtyStep < 0 || inst.MinQty < 0 {
			return fmt.Errorf("sizing.symbols.%s must not be negative", sym)
		}
	}
	return nil
}

func (s *StopsConfig) validate() error {
	if s.FallbackATRPct >= 1 {
		return fmt.Errorf("stops.fallback_atr_pct must be < 1")
	}
	if s.StopLimitOffsetPct >= 1 {
		return fmt.Errorf("stops.stop_limit_offset_pct must be < 1")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if e.DryRun {
		return nil
	}
	if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required unless dry_run")
	}
	return nil
}

func (c *CycleConfig) validate() error {
	if _, err := c.IntervalDuration(); err != nil {
		return err
	}
	for _, sym := range c.Symbols {
		if !symbol.IsValid(sym) {
			return fmt.Errorf("cycle.symbols: unrecognized contract %q", sym)
		}
	}
	if c.OffsetSeconds < 0 {
		return fmt.Errorf("cycle.offset_seconds must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if !scheduler.IsKlineInterval(m.ATRInterval) {
		return fmt.Errorf("market.atr_interval not a kline interval: %q", m.ATRInterval)
	}
	if m.ATRPeriod <= 1 {
		return fmt.Errorf("market.atr_period must be > 1")
	}
	return nil
}

// IntervalDuration 解析 cycle.interval，支持 15m / 4h / 1d 以及 Go duration 写法。
func (c CycleConfig) IntervalDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.Interval)
	if d, ok := scheduler.ParseIntervalDuration(raw); ok {
		return d, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("cycle.interval invalid: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("cycle.interval must be > 0")
	}
	return d, nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	if n.Slack.Enabled && strings.TrimSpace(n.Slack.WebhookURL) == "" {
		return fmt.Errorf("notify.slack requires webhook_url when enabled")
	}
	switch strings.ToLower(strings.TrimSpace(n.MinLevel)) {
	case "info", "warn", "critical":
	default:
		return fmt.Errorf("notify.min_level must be info, warn or critical")
	}
	return nil
}

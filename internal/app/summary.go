package app

import (
	"fmt"
	"strings"

	"quorum/internal/config"
	"quorum/internal/consensus"
)

type StartupSummary struct {
	Symbols   []string
	Interval  string
	Offset    int
	Providers []ProviderSummary
	Consensus string
	Sizing    string
	DryRun    bool
	StorePath string
	Metrics   string
}

type ProviderSummary struct {
	Name     string
	Weight   float64
	Priority int
	Timeout  string
}

func newStartupSummary(cfg *config.Config, members []consensus.Member) *StartupSummary {
	s := &StartupSummary{
		Symbols:  cfg.Cycle.Symbols,
		Interval: cfg.Cycle.Interval,
		Offset:   cfg.Cycle.OffsetSeconds,
		DryRun:   cfg.Exchange.DryRun,
	}
	s.Consensus = fmt.Sprintf("min_quorum=%d majority=%.3f tie_break=%s",
		cfg.Consensus.MinQuorum, cfg.Consensus.MajorityThreshold, cfg.Consensus.TieBreak)
	s.Sizing = fmt.Sprintf("mode=%s risk_pct=%.4f leverage=%.1fx", cfg.Sizing.Mode, cfg.Sizing.RiskPct, cfg.Sizing.Leverage)
	for _, m := range members {
		s.Providers = append(s.Providers, ProviderSummary{
			Name:     m.Provider.Name(),
			Weight:   m.Weight,
			Priority: m.Priority,
			Timeout:  m.Timeout.String(),
		})
	}
	if cfg.Store.Enabled {
		s.StorePath = cfg.Store.Path
	}
	if cfg.Metrics.Enabled {
		s.Metrics = cfg.Metrics.Addr
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[调度 (SCHEDULE)]")
	fmt.Printf("  监控币种: %s\n", formatList(s.Symbols))
	fmt.Printf("  周期: %s (偏移 %ds)\n", s.Interval, s.Offset)
	fmt.Println()

	fmt.Println("[共识 (CONSENSUS)]")
	fmt.Printf("  %s\n", s.Consensus)
	if len(s.Providers) == 0 {
		fmt.Println("  - (无)")
	}
	for _, p := range s.Providers {
		fmt.Printf("  - %s weight=%.2f priority=%d timeout=%s\n", p.Name, p.Weight, p.Priority, p.Timeout)
	}
	fmt.Println()

	fmt.Println("[下单 (EXECUTION)]")
	fmt.Printf("  定量: %s\n", s.Sizing)
	fmt.Printf("  dry_run: %v\n", s.DryRun)
	fmt.Printf("  数据库: %s\n", orDash(s.StorePath))
	fmt.Printf("  指标: %s\n", orDash(s.Metrics))
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

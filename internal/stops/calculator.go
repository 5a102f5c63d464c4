package stops

import (
	"math"

	"quorum/internal/decision"
)

// ATRSource 提供最新 ATR；ok=false 表示缓存里没有。
type ATRSource interface {
	ATR(symbol string) (float64, bool)
}

type Config struct {
	ATRMultiplier      float64
	RewardRatio        float64
	FallbackATRPct     float64
	StopLimitOffsetPct float64
}

// Levels 为一次开仓使用的价格档位。
type Levels struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	StopLimit  float64 `json:"stop_limit"`
}

type Calculator struct {
	cfg    Config
	source ATRSource
}

// NewCalculator source 可以为 nil，此时 Compute 一律使用 fallback_atr_pct。
func NewCalculator(cfg Config, source ATRSource) *Calculator {
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = 1.5
	}
	if cfg.RewardRatio <= 0 {
		cfg.RewardRatio = 2
	}
	if cfg.FallbackATRPct <= 0 {
		cfg.FallbackATRPct = 0.01
	}
	return &Calculator{cfg: cfg, source: source}
}

// Compute 返回 (stopLoss, takeProfit)。atrK<=0 时使用配置倍数，止盈倍数 = atrK × reward_ratio。
func (c *Calculator) Compute(symbol string, action decision.Action, price, atrK float64) (float64, float64) {
	atr := c.resolveATR(symbol, price)
	if atrK <= 0 {
		atrK = c.cfg.ATRMultiplier
	}
	return AtrStop(action, price, atr, atrK), AtrTakeProfit(action, price, atr, atrK*c.cfg.RewardRatio)
}

// Levels 使用快照里的 ATR 计算；atr 非正时回落到价格百分比。
func (c *Calculator) Levels(action decision.Action, price, atr float64) Levels {
	if !(atr > 0) || math.IsInf(atr, 0) {
		atr = price * c.cfg.FallbackATRPct
	}
	k := c.cfg.ATRMultiplier
	stop := AtrStop(action, price, atr, k)
	return Levels{
		StopLoss:   stop,
		TakeProfit: AtrTakeProfit(action, price, atr, k*c.cfg.RewardRatio),
		StopLimit:  ComputeStopLimit(action, stop, c.cfg.StopLimitOffsetPct),
	}
}

// StopLimit 包装 ComputeStopLimit，使用配置的偏移。
func (c *Calculator) StopLimit(action decision.Action, stopPrice float64) float64 {
	return ComputeStopLimit(action, stopPrice, c.cfg.StopLimitOffsetPct)
}

func (c *Calculator) resolveATR(symbol string, price float64) float64 {
	if c.source != nil {
		if atr, ok := c.source.ATR(symbol); ok && atr > 0 {
			return atr
		}
	}
	return price * c.cfg.FallbackATRPct
}

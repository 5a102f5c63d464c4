package risk

import (
	"fmt"
	"math"

	"quorum/internal/decision"
)

const (
	DefaultDepegLower = 0.995
	DefaultDepegUpper = 1.005
	DefaultKFactor    = 1.5
)

// UsdtDepeg 当 rate 落在 [lower, upper]（含边界）之外时返回 true。
func UsdtDepeg(rate, lower, upper float64) bool {
	if math.IsNaN(rate) {
		return true
	}
	return rate < lower || rate > upper
}

// Admission 是准入检查结果；拦截不是错误。
type Admission struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func allow() Admission { return Admission{OK: true} }

func block(format string, args ...any) Admission {
	return Admission{OK: false, Reason: fmt.Sprintf(format, args...)}
}

type GuardConfig struct {
	DepegLower         float64
	DepegUpper         float64
	RequireStableRate  bool
	KFactor            float64
	MinStopDistancePct float64
}

// Guard 是开仓前的准入闸门。
type Guard struct {
	cfg GuardConfig
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.DepegLower <= 0 {
		cfg.DepegLower = DefaultDepegLower
	}
	if cfg.DepegUpper <= 0 {
		cfg.DepegUpper = DefaultDepegUpper
	}
	if cfg.KFactor <= 0 {
		cfg.KFactor = DefaultKFactor
	}
	return &Guard{cfg: cfg}
}

// Depegged 使用配置边界；rate<=0 表示未提供汇率，除非 require_stable_rate 否则放行。
func (g *Guard) Depegged(rate float64) Admission {
	if rate <= 0 {
		if g.cfg.RequireStableRate {
			return block("stable rate unavailable")
		}
		return allow()
	}
	if UsdtDepeg(rate, g.cfg.DepegLower, g.cfg.DepegUpper) {
		return block("USDT de-peg: rate %.4f outside [%.4f, %.4f]", rate, g.cfg.DepegLower, g.cfg.DepegUpper)
	}
	return allow()
}

// OkToOpen 检查止损是否会在强平之前触发。
// 强平距离近似为 price/leverage；要求 stopDistance×kFactor 不超过它，
// 同时止损距离不能小于 min_stop_distance_pct×price。kFactor<=0 使用默认值。
func (g *Guard) OkToOpen(symbol string, price float64, side decision.Action, leverage, stopPrice, kFactor float64) Admission {
	if !(price > 0) || math.IsInf(price, 0) {
		return block("%s: invalid price %v", symbol, price)
	}
	if !(leverage > 0) || math.IsInf(leverage, 0) {
		return block("%s: invalid leverage %v", symbol, leverage)
	}
	if !side.IsDirectional() {
		return block("%s: side %s cannot open", symbol, side)
	}
	if !(stopPrice > 0) || math.IsInf(stopPrice, 0) {
		return block("%s: invalid stop %v", symbol, stopPrice)
	}
	if side == decision.ActionLong && stopPrice >= price {
		return block("%s: long stop %.6g must be below price %.6g", symbol, stopPrice, price)
	}
	if side == decision.ActionShort && stopPrice <= price {
		return block("%s: short stop %.6g must be above price %.6g", symbol, stopPrice, price)
	}
	if kFactor <= 0 || math.IsNaN(kFactor) {
		kFactor = g.cfg.KFactor
	}
	stopDistance := math.Abs(price - stopPrice)
	liqDistance := price / leverage
	if stopDistance*kFactor > liqDistance {
		return block("%s: liquidation before stop (stop distance %.6g × k %.2f > margin buffer %.6g at %.1fx)",
			symbol, stopDistance, kFactor, liqDistance, leverage)
	}
	if minDist := g.cfg.MinStopDistancePct * price; g.cfg.MinStopDistancePct > 0 && stopDistance < minDist {
		return block("%s: stop too tight (%.4f%% < %.4f%%)", symbol, stopDistance/price*100, g.cfg.MinStopDistancePct*100)
	}
	return allow()
}

// KFactor 返回配置的缓冲系数。
func (g *Guard) KFactor() float64 { return g.cfg.KFactor }

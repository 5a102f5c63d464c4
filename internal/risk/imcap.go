// Package risk 负责风险分档（IM cap）与开仓前的准入检查。
package risk

import (
	"math"
)

// Band 是按保证金占用率划分的风险档位。
type Band string

const (
	BandLow     Band = "low"
	BandMedium  Band = "medium"
	BandHigh    Band = "high"
	BandExtreme Band = "extreme"
)

// BandSpec 描述单个档位的上限。
type BandSpec struct {
	From        float64 // 占用率下沿（含）
	MaxLeverage float64
	ImPct       float64 // 可用于新仓位的初始保证金比例
}

// Bands 阈值单调递增，杠杆与比例单调不增，由配置校验保证。
type Bands struct {
	Low     BandSpec
	Medium  BandSpec
	High    BandSpec
	Extreme BandSpec
}

func DefaultBands() Bands {
	return Bands{
		Low:     BandSpec{From: 0, MaxLeverage: 25, ImPct: 0.40},
		Medium:  BandSpec{From: 0.30, MaxLeverage: 15, ImPct: 0.25},
		High:    BandSpec{From: 0.70, MaxLeverage: 10, ImPct: 0.15},
		Extreme: BandSpec{From: 0.80, MaxLeverage: 5, ImPct: 0.05},
	}
}

// Classify 返回占用率所在档位；NaN 视为 extreme。
func (b Bands) Classify(marginUtilization float64) (Band, BandSpec) {
	switch {
	case math.IsNaN(marginUtilization) || marginUtilization >= b.Extreme.From:
		return BandExtreme, b.Extreme
	case marginUtilization >= b.High.From:
		return BandHigh, b.High
	case marginUtilization >= b.Medium.From:
		return BandMedium, b.Medium
	default:
		return BandLow, b.Low
	}
}

// ImCap 是 CalculateImCap 的结果。
type ImCap struct {
	ImCap       float64 `json:"im_cap"`
	RiskBand    Band    `json:"risk_band"`
	MaxLeverage float64 `json:"max_leverage"`
}

// PositionSize 是 CalculatePositionSize 的结果。
type PositionSize struct {
	Qty         float64 `json:"qty"`
	Notional    float64 `json:"notional"`
	RiskBand    Band    `json:"risk_band"`
	ImRequired  float64 `json:"im_required"`
	MaxLeverage float64 `json:"max_leverage"`
	Leverage    float64 `json:"leverage"`
}

type ImCapService struct {
	bands Bands
}

func NewImCapService(bands Bands) *ImCapService {
	return &ImCapService{bands: bands}
}

func (s *ImCapService) Bands() Bands { return s.bands }

// CalculateImCap imCap = min(可用保证金, 权益) × 档位比例，负值按 0 处理。
func (s *ImCapService) CalculateImCap(equity, marginUtilization, freeCollateral float64) ImCap {
	band, spec := s.bands.Classify(marginUtilization)
	base := math.Min(nonNegative(freeCollateral), nonNegative(equity))
	return ImCap{
		ImCap:       base * spec.ImPct,
		RiskBand:    band,
		MaxLeverage: spec.MaxLeverage,
	}
}

// CalculateNotionalCap = imCap × leverage。
func CalculateNotionalCap(imCap, leverage float64) float64 {
	return imCap * leverage
}

// CalculatePositionSize 组合 imCap → 名义上限 → 数量。杠杆不超过档位上限。
func (s *ImCapService) CalculatePositionSize(equity, marginUtilization, freeCollateral, leverage, price float64) PositionSize {
	im := s.CalculateImCap(equity, marginUtilization, freeCollateral)
	lev := EffectiveLeverage(leverage, im.MaxLeverage)
	out := PositionSize{
		RiskBand:    im.RiskBand,
		MaxLeverage: im.MaxLeverage,
		Leverage:    lev,
	}
	if !(price > 0) || lev <= 0 {
		return out
	}
	notional := CalculateNotionalCap(im.ImCap, lev)
	out.Qty = notional / price
	out.Notional = notional
	out.ImRequired = notional / lev
	return out
}

// EffectiveLeverage 取请求杠杆与档位上限的较小值。
func EffectiveLeverage(requested, maxLeverage float64) float64 {
	if math.IsNaN(requested) || requested <= 0 {
		return 0
	}
	if maxLeverage > 0 && requested > maxLeverage {
		return maxLeverage
	}
	return requested
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

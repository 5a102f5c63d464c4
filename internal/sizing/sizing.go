// Package sizing 把风险预算换算为下单数量，数量按合约步长向下取整。
package sizing

import (
	"math"

	"github.com/shopspring/decimal"

	"quorum/internal/decision"
	"quorum/internal/risk"
)

// MaxQty 是数量上限，防止极端权益导致溢出或 Inf。
const MaxQty = 1e15

// Result 是一次定量的结果；Leverage 为调用方传入值原样返回。
type Result struct {
	Qty        float64   `json:"qty"`
	Leverage   float64   `json:"leverage"`
	Notional   float64   `json:"notional"`
	RiskBand   risk.Band `json:"risk_band,omitempty"`
	ImRequired float64   `json:"im_required"`
	RawQty     float64   `json:"raw_qty"` // 取整与抬到 minQty 之前的数量
}

// SizeByRisk 以 equity×riskPct 为最大亏损，除以止损距离得到数量。
// 止损距离为 0 时退化为 minQty；权益为 0 时返回 0。side 仅用于日志与对称性，距离取绝对值。
func SizeByRisk(side decision.Action, entry, stop, equity, leverage, riskPct, qtyStep, minQty float64) Result {
	out := Result{Leverage: leverage}
	riskAmount := equity * riskPct
	if !(riskAmount > 0) {
		return out
	}
	distance := math.Abs(entry - stop)
	var raw float64
	if !(distance > 0) || math.IsInf(distance, 0) {
		raw = minQty
	} else {
		raw = riskAmount / distance
	}
	out.RawQty = raw
	out.Qty = StepQty(raw, qtyStep, minQty)
	out.Notional = out.Qty * math.Abs(entry)
	if leverage > 0 {
		out.ImRequired = out.Notional / leverage
	}
	return out
}

// Sizer 基于 IM cap 定量。
type Sizer struct {
	imcap *risk.ImCapService
}

func NewSizer(imcap *risk.ImCapService) *Sizer {
	return &Sizer{imcap: imcap}
}

// SizeByImCap 委托 ImCapService 计算上限，再按步长取整；结果至少为 minQty。
func (s *Sizer) SizeByImCap(equity, marginUtilization, freeCollateral, leverage, price, qtyStep, minQty float64) Result {
	ps := s.imcap.CalculatePositionSize(equity, marginUtilization, freeCollateral, leverage, price)
	qty := StepQty(ps.Qty, qtyStep, minQty)
	out := Result{
		Qty:      qty,
		Leverage: leverage,
		RiskBand: ps.RiskBand,
		RawQty:   ps.Qty,
	}
	if price > 0 {
		out.Notional = qty * price
		if ps.Leverage > 0 {
			out.ImRequired = out.Notional / ps.Leverage
		}
	}
	return out
}

// MaxLeverage 返回占用率所在档位的杠杆上限。
func (s *Sizer) MaxLeverage(marginUtilization float64) float64 {
	_, spec := s.imcap.Bands().Classify(marginUtilization)
	return spec.MaxLeverage
}

// StepQty 向下取整到 step 的整数倍，夹在 [minQty, MaxQty] 之间。
// 非有限值视为 0 后再抬到 minQty；minQty 本身也会被抬到 step 的倍数。
func StepQty(raw, step, minQty float64) float64 {
	if math.IsNaN(raw) || raw < 0 {
		raw = 0
	}
	if math.IsInf(raw, 1) || raw > MaxQty {
		raw = MaxQty
	}
	if math.IsNaN(minQty) || minQty < 0 {
		minQty = 0
	}
	if !(step > 0) || math.IsInf(step, 0) {
		return math.Max(raw, minQty)
	}
	d := decimal.NewFromFloat(raw)
	st := decimal.NewFromFloat(step)
	floored := d.Div(st).Floor().Mul(st)

	minD := decimal.NewFromFloat(minQty).Div(st).Ceil().Mul(st)
	if floored.LessThan(minD) {
		floored = minD
	}
	out, _ := floored.Float64()
	return out
}

// ReduceQty 计算减仓数量：减仓比例取 |factor|，落在 (0, 1) 内时部分平仓，
// nil、0、NaN 或 |factor| ≥ 1 时全平。结果按 step 向下取整且不超过持仓。
func ReduceQty(held float64, factor *float64, step float64) float64 {
	if !(held > 0) {
		return 0
	}
	qty := held
	if factor != nil {
		if f := math.Abs(*factor); f > 0 && f < 1 {
			qty = held * f
		}
	}
	if step > 0 {
		d := decimal.NewFromFloat(qty)
		st := decimal.NewFromFloat(step)
		qty, _ = d.Div(st).Floor().Mul(st).Float64()
	}
	if qty > held {
		qty = held
	}
	return qty
}

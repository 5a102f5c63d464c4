// Package stops 计算基于 ATR 的止损、止盈与止损限价。
// 全部为纯函数；NaN 输入会原样传播，由调用方拒绝。
package stops

import (
	"quorum/internal/decision"
)

// AtrStop 返回止损价：LONG 在价格下方 atr×k，SHORT 在上方；其他动作原样返回价格。
func AtrStop(action decision.Action, price, atr, k float64) float64 {
	offset := atr * k
	switch action {
	case decision.ActionLong:
		return price - offset
	case decision.ActionShort:
		return price + offset
	default:
		return price
	}
}

// AtrTakeProfit 与 AtrStop 方向相反。
func AtrTakeProfit(action decision.Action, price, atr, k float64) float64 {
	offset := atr * k
	switch action {
	case decision.ActionLong:
		return price + offset
	case decision.ActionShort:
		return price - offset
	default:
		return price
	}
}

// ComputeStopLimit 由止损触发价推导限价：多单止损是卖出，限价放在触发价下方；空单相反。
func ComputeStopLimit(action decision.Action, stopPrice, offsetPct float64) float64 {
	if offsetPct < 0 {
		offsetPct = -offsetPct
	}
	switch action {
	case decision.ActionLong:
		return stopPrice * (1 - offsetPct)
	case decision.ActionShort:
		return stopPrice * (1 + offsetPct)
	default:
		return stopPrice
	}
}

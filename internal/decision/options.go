package decision

import "sort"

type decisionOptions struct {
	stopLoss   *float64
	takeProfit *float64
	qtyDelta   *float64
	reason     string
}

// DecisionOption 为 AiDecision / ManageDecision 的可选字段。
type DecisionOption func(*decisionOptions)

func WithStopLoss(v float64) DecisionOption {
	return func(o *decisionOptions) { o.stopLoss = &v }
}

func WithTakeProfit(v float64) DecisionOption {
	return func(o *decisionOptions) { o.takeProfit = &v }
}

func WithQtyDeltaFactor(v float64) DecisionOption {
	return func(o *decisionOptions) { o.qtyDelta = &v }
}

func WithReason(s string) DecisionOption {
	return func(o *decisionOptions) { o.reason = normalizeReason(s) }
}

func applyOptions(opts []DecisionOption) decisionOptions {
	var o decisionOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func sortStrings(s []string) { sort.Strings(s) }

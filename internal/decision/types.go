package decision

import (
	"math"
	"strings"
	"time"
)

// PositionState 是账户在该 symbol 上已有的持仓。
type PositionState struct {
	Side       Action  `json:"side"` // LONG | SHORT
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
}

// MarketSnapshot 是单个周期内不可变的行情与账户快照。
type MarketSnapshot struct {
	Symbol            string         `json:"symbol"`
	Price             float64        `json:"price"`
	ATR               float64        `json:"atr"`
	Equity            float64        `json:"equity"`
	FreeCollateral    float64        `json:"free_collateral"`
	MarginUtilization float64        `json:"margin_utilization"`
	StableRate        float64        `json:"stable_rate,omitempty"`
	Position          *PositionState `json:"position,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// HasPosition 持仓数量大于 0 时为 true。
func (s MarketSnapshot) HasPosition() bool {
	return s.Position != nil && s.Position.Qty > 0
}

// AiDecision 是单个模型在单轮中的输出。
type AiDecision struct {
	Action              Action   `json:"action"`
	Confidence          int      `json:"confidence"`
	SuggestedStopLoss   *float64 `json:"suggested_stop_loss,omitempty"`
	SuggestedTakeProfit *float64 `json:"suggested_take_profit,omitempty"`
	QtyDeltaFactor      *float64 `json:"qty_delta_factor,omitempty"`
	Reason              string   `json:"reason"`

	// 以下字段不参与投票，仅用于成本统计。
	Model      string `json:"-"`
	TokensUsed int    `json:"-"`
}

// NewAiDecision 构造并校验。
func NewAiDecision(action string, confidence int, opts ...DecisionOption) (AiDecision, error) {
	o := applyOptions(opts)
	act, ok := ParseAction(action)
	if !ok {
		return AiDecision{}, invalid("action", action, "must be one of HOLD, LONG, SHORT, CLOSE")
	}
	d := AiDecision{
		Action:              act,
		Confidence:          confidence,
		SuggestedStopLoss:   o.stopLoss,
		SuggestedTakeProfit: o.takeProfit,
		QtyDeltaFactor:      o.qtyDelta,
		Reason:              o.reason,
	}
	if err := d.Validate(); err != nil {
		return AiDecision{}, err
	}
	return d, nil
}

func (d AiDecision) Validate() error {
	if !d.Action.Valid() {
		return invalid("action", string(d.Action), "must be one of HOLD, LONG, SHORT, CLOSE")
	}
	if err := validateConfidence(d.Confidence); err != nil {
		return err
	}
	if err := validateQtyDelta(d.QtyDeltaFactor); err != nil {
		return err
	}
	for field, p := range map[string]*float64{
		"suggested_stop_loss":   d.SuggestedStopLoss,
		"suggested_take_profit": d.SuggestedTakeProfit,
	} {
		if p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0) || *p <= 0) {
			return invalid(field, *p, "must be a positive finite price")
		}
	}
	return nil
}

// Round 为 provider 名称到决策的映射。
type Round map[string]AiDecision

// Names 返回排序后的 provider 名称。
func (r Round) Names() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	sortStrings(out)
	return out
}

// ConsensusDecision 是一次两轮仲裁的最终结论，创建后不再修改。
type ConsensusDecision struct {
	CycleID         string             `json:"cycle_id"`
	Symbol          string             `json:"symbol"`
	Round1          Round              `json:"round1"`
	Round2          Round              `json:"round2"`
	FinalAction     Action             `json:"final_action"`
	FinalConfidence int                `json:"final_confidence"`
	MajorityLock    bool               `json:"majority_lock"`
	Tally           map[Action]float64 `json:"tally"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Lead 返回第二轮中投给最终动作、权重最高的那份决策；同权重时按名称顺序取第一个。
func (c ConsensusDecision) Lead(weights map[string]float64) (AiDecision, bool) {
	var lead AiDecision
	found := false
	best := -1.0
	for _, name := range c.Round2.Names() {
		d := c.Round2[name]
		if d.Action != c.FinalAction {
			continue
		}
		if w := weights[name]; w > best {
			best = w
			lead = d
			found = true
		}
	}
	return lead, found
}

// Suggested 返回 Lead 给出的止损止盈建议（若有）。
func (c ConsensusDecision) Suggested(weights map[string]float64) (stop, take *float64) {
	lead, ok := c.Lead(weights)
	if !ok {
		return nil, nil
	}
	return lead.SuggestedStopLoss, lead.SuggestedTakeProfit
}

func validateConfidence(c int) error {
	if c < 0 || c > 100 {
		return invalid("confidence", c, "must be within [0,100]")
	}
	return nil
}

func validateQtyDelta(p *float64) error {
	if p == nil {
		return nil
	}
	if math.IsNaN(*p) || *p < -1 || *p > 1 {
		return invalid("qty_delta_factor", *p, "must be within [-1,1]")
	}
	return nil
}

func normalizeReason(s string) string {
	return strings.TrimSpace(s)
}

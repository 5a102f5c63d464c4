package decision

import (
	"encoding/json"
	"strings"
)

// ManageDecision 用于持仓管理：只允许 HOLD 或 CLOSE，可附带新的止损止盈。
type ManageDecision struct {
	action         Action
	confidence     int
	newStopLoss    *float64
	newTakeProfit  *float64
	qtyDeltaFactor *float64
	reason         string
}

// NewManageDecision 构造并校验；action 大小写不敏感。
func NewManageDecision(action string, confidence int, opts ...DecisionOption) (ManageDecision, error) {
	act := Action(strings.ToUpper(strings.TrimSpace(action)))
	if act != ActionHold && act != ActionClose {
		return ManageDecision{}, invalid("action", action, "must be HOLD or CLOSE")
	}
	if err := validateConfidence(confidence); err != nil {
		return ManageDecision{}, err
	}
	o := applyOptions(opts)
	if err := validateQtyDelta(o.qtyDelta); err != nil {
		return ManageDecision{}, err
	}
	return ManageDecision{
		action:         act,
		confidence:     confidence,
		newStopLoss:    o.stopLoss,
		newTakeProfit:  o.takeProfit,
		qtyDeltaFactor: o.qtyDelta,
		reason:         o.reason,
	}, nil
}

func (m ManageDecision) Action() Action { return m.action }
func (m ManageDecision) Confidence() int { return m.confidence }
func (m ManageDecision) NewStopLoss() *float64 { return m.newStopLoss }
func (m ManageDecision) NewTakeProfit() *float64 { return m.newTakeProfit }
func (m ManageDecision) QtyDeltaFactor() *float64 { return m.qtyDeltaFactor }
func (m ManageDecision) Reason() string { return m.reason }

type manageWire struct {
	Action         Action   `json:"action"`
	Confidence     int      `json:"confidence"`
	NewStopLoss    *float64 `json:"new_stop_loss"`
	NewTakeProfit  *float64 `json:"new_take_profit"`
	QtyDeltaFactor *float64 `json:"qty_delta_factor"`
	Reason         string   `json:"reason"`
}

// MarshalJSON 输出固定字段集，空值为 null。
func (m ManageDecision) MarshalJSON() ([]byte, error) {
	return json.Marshal(manageWire{
		Action:         m.action,
		Confidence:     m.confidence,
		NewStopLoss:    m.newStopLoss,
		NewTakeProfit:  m.newTakeProfit,
		QtyDeltaFactor: m.qtyDeltaFactor,
		Reason:         m.reason,
	})
}

// UnmarshalJSON 经由构造函数重新校验。
func (m *ManageDecision) UnmarshalJSON(data []byte) error {
	var w manageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	opts := []DecisionOption{WithReason(w.Reason)}
	if w.NewStopLoss != nil {
		opts = append(opts, WithStopLoss(*w.NewStopLoss))
	}
	if w.NewTakeProfit != nil {
		opts = append(opts, WithTakeProfit(*w.NewTakeProfit))
	}
	if w.QtyDeltaFactor != nil {
		opts = append(opts, WithQtyDeltaFactor(*w.QtyDeltaFactor))
	}
	out, err := NewManageDecision(string(w.Action), w.Confidence, opts...)
	if err != nil {
		return err
	}
	*m = out
	return nil
}

// ManageFromConsensus 把共识结论映射为持仓管理决策：CLOSE 保持，其余一律 HOLD。
// 新止损止盈与减仓比例都取自 Lead；减仓比例只在 CLOSE 时携带。
func ManageFromConsensus(c ConsensusDecision, weights map[string]float64) (ManageDecision, error) {
	action := ActionHold
	if c.FinalAction == ActionClose {
		action = ActionClose
	}
	opts := []DecisionOption{WithReason(manageReason(c))}
	if lead, ok := c.Lead(weights); ok {
		if lead.SuggestedStopLoss != nil {
			opts = append(opts, WithStopLoss(*lead.SuggestedStopLoss))
		}
		if lead.SuggestedTakeProfit != nil {
			opts = append(opts, WithTakeProfit(*lead.SuggestedTakeProfit))
		}
		if action == ActionClose && lead.QtyDeltaFactor != nil {
			opts = append(opts, WithQtyDeltaFactor(*lead.QtyDeltaFactor))
		}
	}
	return NewManageDecision(string(action), c.FinalConfidence, opts...)
}

func manageReason(c ConsensusDecision) string {
	if c.FinalAction == ActionClose || c.FinalAction == ActionHold {
		return "consensus " + string(c.FinalAction)
	}
	return "consensus " + string(c.FinalAction) + " while in position, holding"
}

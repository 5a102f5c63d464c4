package decision

import "strings"

// Action 是一次决策的交易动作。
type Action string

const (
	ActionHold  Action = "HOLD"
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionClose Action = "CLOSE"
)

// Actions 固定顺序，用于计票输出与排序。
var Actions = []Action{ActionHold, ActionLong, ActionShort, ActionClose}

// ParseAction 统一动作名称，兼容 buy/long/open_long 等同义词。
func ParseAction(raw string) (Action, bool) {
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	a := replacer.Replace(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case "hold", "wait", "stay", "neutral", "none":
		return ActionHold, true
	case "long", "buy", "open_long", "enter_long", "go_long", "buy_long":
		return ActionLong, true
	case "short", "sell", "open_short", "enter_short", "go_short", "sell_short":
		return ActionShort, true
	case "close", "exit", "flat", "close_position", "close_long", "close_short":
		return ActionClose, true
	default:
		return Action(strings.ToUpper(a)), false
	}
}

// IsDirectional 仅 LONG/SHORT 会开仓。
func (a Action) IsDirectional() bool {
	return a == ActionLong || a == ActionShort
}

// Valid 判断是否属于四种合法动作。
func (a Action) Valid() bool {
	switch a {
	case ActionHold, ActionLong, ActionShort, ActionClose:
		return true
	}
	return false
}

func (a Action) String() string { return string(a) }

package decision

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"quorum/internal/pkg/jsonutil"
)

// ExtractDecisionJSON 从模型原始回复里取出决策对象 JSON。
// 兼容 {"decision": {...}} 包裹以及 [{...}] 数组形式。
func ExtractDecisionJSON(raw string) (string, error) {
	block, ok := jsonutil.ExtractObject(raw)
	if !ok {
		return "", fmt.Errorf("未找到 JSON 决策对象")
	}
	if !gjson.Valid(block) {
		return "", fmt.Errorf("json 格式无效")
	}
	parsed := gjson.Parse(block)
	if inner := parsed.Get("decision"); inner.Exists() && inner.IsObject() {
		return strings.TrimSpace(inner.Raw), nil
	}
	return block, nil
}

// ParseAiDecision 宽松读取字段：confidence 允许字符串或小数，
// 止损止盈字段兼容 stop_loss / suggested_stop_loss 两种写法，0 视为未给出。
func ParseAiDecision(obj string) (AiDecision, error) {
	if !gjson.Valid(obj) {
		return AiDecision{}, fmt.Errorf("json 格式无效")
	}
	root := gjson.Parse(obj)
	if !root.IsObject() {
		return AiDecision{}, fmt.Errorf("根节点必须是 JSON 对象")
	}
	action := strings.TrimSpace(root.Get("action").String())
	if action == "" {
		return AiDecision{}, invalid("action", "", "missing")
	}
	conf, err := readConfidence(root.Get("confidence"))
	if err != nil {
		return AiDecision{}, err
	}
	opts := []DecisionOption{WithReason(root.Get("reason").String())}
	if v, ok := firstNumber(root, "suggested_stop_loss", "stop_loss", "sl"); ok && v > 0 {
		opts = append(opts, WithStopLoss(v))
	}
	if v, ok := firstNumber(root, "suggested_take_profit", "take_profit", "tp"); ok && v > 0 {
		opts = append(opts, WithTakeProfit(v))
	}
	if v, ok := firstNumber(root, "qty_delta_factor"); ok {
		opts = append(opts, WithQtyDeltaFactor(v))
	}
	return NewAiDecision(action, conf, opts...)
}

// ParseReply = ExtractDecisionJSON + ParseAiDecision。
func ParseReply(raw string) (AiDecision, error) {
	obj, err := ExtractDecisionJSON(raw)
	if err != nil {
		return AiDecision{}, err
	}
	return ParseAiDecision(obj)
}

func readConfidence(v gjson.Result) (int, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return 0, invalid("confidence", nil, "missing")
	}
	f := v.Float()
	if v.Type == gjson.String {
		s := strings.TrimSuffix(strings.TrimSpace(v.Str), "%")
		r := gjson.Parse(s)
		if r.Type != gjson.Number {
			return 0, invalid("confidence", v.Str, "not a number")
		}
		f = r.Float()
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid("confidence", f, "not finite")
	}
	return int(math.Round(f)), nil
}

func firstNumber(root gjson.Result, keys ...string) (float64, bool) {
	for _, k := range keys {
		v := root.Get(k)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		switch v.Type {
		case gjson.Number:
			return v.Float(), true
		case gjson.String:
			r := gjson.Parse(strings.TrimSpace(v.Str))
			if r.Type == gjson.Number {
				return r.Float(), true
			}
		}
	}
	return 0, false
}

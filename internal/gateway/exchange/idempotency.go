package exchange

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// IdempotencyKeyLen 为幂等键长度（十六进制字符）。
const IdempotencyKeyLen = 16

// GenerateIdempotencyKey 对归一化后的参数做 SHA-256，取前 16 位十六进制。
// encoding/json 对 map 按键排序，Options 的插入顺序不影响结果。
func GenerateIdempotencyKey(req OrderRequest) string {
	sum := sha256.Sum256(canonicalOrder(req))
	return hex.EncodeToString(sum[:])[:IdempotencyKeyLen]
}

func canonicalOrder(req OrderRequest) []byte {
	price := ""
	if req.Price != nil {
		price = decimal.NewFromFloat(*req.Price).String()
	}
	options := req.Options
	if options == nil {
		options = map[string]any{}
	}
	payload := map[string]any{
		"symbol":  strings.ToUpper(strings.TrimSpace(req.Symbol)),
		"side":    req.normalizedSide(),
		"type":    req.normalizedType(),
		"qty":     decimal.NewFromFloat(req.Qty).String(),
		"price":   price,
		"options": options,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// 不可序列化的 option（如 chan）退化为 %v 形式，保证仍然确定。
		payload["options"] = stringifyOptions(options)
		raw, _ = json.Marshal(payload)
	}
	return raw
}

func stringifyOptions(options map[string]any) map[string]string {
	out := make(map[string]string, len(options))
	for k, v := range options {
		if b, err := json.Marshal(v); err == nil {
			out[k] = string(b)
			continue
		}
		out[k] = fmt.Sprintf("%T:%v", v, v)
	}
	return out
}

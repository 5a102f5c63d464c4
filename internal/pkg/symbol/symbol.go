package symbol

import (
	"strings"
)

// 常见计价币，按长度优先匹配以免 BUSD 被截成 USD。
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "FDUSD", "BTC", "ETH"}

type Symbol struct {
	Base  string
	Quote string
}

// Pair 返回 BTC/USDT 形式，用于日志与通知。
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Contract 返回交易所永续合约代码，例如 BTCUSDT。
func (s Symbol) Contract() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 接受 BTC/USDT、BTC/USDT:USDT、btcusdt 等写法。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Contract 把任意写法转换为交易所合约代码；无法识别时原样大写返回。
func Contract(s string) string {
	if c := Parse(s).Contract(); c != "" {
		return c
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// ContractList 归一化并去重，保留原顺序。
func ContractList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		c := Contract(s)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}

// Package exchange 提交永续合约订单（Bybit v5 风格接口），并提供账户与持仓查询。
// 每个订单都带确定性的幂等键，调用方可以用同一组参数安全重试。
package exchange

import (
	"context"
	"strings"
	"time"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeMarket = "MARKET"
	TypeLimit  = "LIMIT"
)

// OrderRequest 是一次下单的完整参数。Options 会原样合入请求体，
// 例如 reduceOnly、stopLoss、takeProfit、slLimitPrice。
type OrderRequest struct {
	Symbol  string
	Side    string
	Type    string
	Qty     float64
	Price   *float64
	Options map[string]any
}

func (r OrderRequest) normalizedSide() string { return strings.ToUpper(strings.TrimSpace(r.Side)) }
func (r OrderRequest) normalizedType() string { return strings.ToUpper(strings.TrimSpace(r.Type)) }

// OrderResult 无论成功失败都带 IdempotencyKey。
type OrderResult struct {
	OK             bool   `json:"ok"`
	OrderID        string `json:"order_id,omitempty"`
	OrderLinkID    string `json:"order_link_id,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Wallet 是统一账户的保证金状态。
type Wallet struct {
	Equity            float64
	FreeCollateral    float64
	InitialMargin     float64
	MarginUtilization float64
	UpdatedAt         time.Time
}

// Position 是交易所上的一条持仓。
type Position struct {
	Symbol     string
	Side       string // BUY | SELL
	Size       float64
	EntryPrice float64
	MarkPrice  float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
}

// OrderPlacer 是 cycle 使用的下单能力。
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// AccountReader 为快照提供账户状态。
type AccountReader interface {
	WalletState(ctx context.Context) (Wallet, error)
	Position(ctx context.Context, symbol string) (*Position, error)
}

package exchange

import "fmt"

// TransportError 表示网络层失败或响应无法解析，订单状态未知。
// 调用方可用 IdempotencyKey 相同的参数重试。
type TransportError struct {
	IdempotencyKey string
	Err            error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("exchange transport error (key=%s): %v", e.IdempotencyKey, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

package provider

import (
	"context"

	"quorum/internal/decision"
)

// ChatPayload 是一次聊天补全请求。
type ChatPayload struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// ChatReply 是模型返回的文本以及用量。
type ChatReply struct {
	Content    string
	Model      string
	TokensUsed int
}

// ChatClient 抽象不同厂商的聊天接口。
type ChatClient interface {
	Chat(ctx context.Context, payload ChatPayload) (ChatReply, error)
}

// DecideRequest 描述一次投票请求。Previous 仅在第二轮非空。
type DecideRequest struct {
	CycleID  string
	Round    string
	Snapshot decision.MarketSnapshot
	Previous decision.Round
}

// Provider 是参与共识投票的一个模型。
type Provider interface {
	Name() string
	Decide(ctx context.Context, req DecideRequest) (decision.AiDecision, error)
}

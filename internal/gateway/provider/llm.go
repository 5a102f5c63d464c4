package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/prompt"
)

// Prompts 渲染提示词并校验模型输出。*prompt.Registry 实现了它。
type Prompts interface {
	Render(round string, data prompt.Data) (string, string, error)
	ValidateDecision(obj string) error
}

// LLMProvider 把聊天接口包装成投票成员：渲染提示 -> 调用 -> 解析 -> 校验。
type LLMProvider struct {
	name        string
	client      ChatClient
	prompts     Prompts
	maxTokens   int
	temperature float64
}

func NewLLMProvider(name string, client ChatClient, prompts Prompts, maxTokens int, temperature float64) *LLMProvider {
	return &LLMProvider{
		name:        name,
		client:      client,
		prompts:     prompts,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (p *LLMProvider) Name() string { return p.name }

func (p *LLMProvider) Decide(ctx context.Context, req DecideRequest) (decision.AiDecision, error) {
	data := prompt.Data{Snapshot: req.Snapshot}
	for _, name := range req.Previous.Names() {
		data.Peers = append(data.Peers, prompt.Peer{
			Name:     name,
			Self:     name == p.name,
			Decision: req.Previous[name],
		})
	}
	system, user, err := p.prompts.Render(req.Round, data)
	if err != nil {
		return decision.AiDecision{}, err
	}
	call := logger.LLMCall{CycleID: req.CycleID, Round: req.Round, Provider: p.name, Symbol: req.Snapshot.Symbol}
	logger.LogLLMRequest(call, system, user, func() string {
		raw, _ := json.Marshal(req.Snapshot)
		return string(raw)
	})

	start := time.Now()

	reply, err := p.client.Chat(ctx, ChatPayload{
		System:      system,
		User:        user,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return decision.AiDecision{}, fmt.Errorf("%s: %w", p.name, err)
	}
	logger.LogLLMResponse(call, reply.Content, reply.TokensUsed, time.Since(start))

	obj, err := decision.ExtractDecisionJSON(reply.Content)
	if err != nil {
		return decision.AiDecision{}, fmt.Errorf("%s: %w", p.name, err)
	}
	if err := p.prompts.ValidateDecision(obj); err != nil {
		return decision.AiDecision{}, fmt.Errorf("%s: decision schema: %w", p.name, err)
	}
	d, err := decision.ParseAiDecision(obj)
	if err != nil {
		return decision.AiDecision{}, fmt.Errorf("%s: %w", p.name, err)
	}
	d.Model = strings.TrimSpace(reply.Model)
	d.TokensUsed = reply.TokensUsed
	return d, nil
}

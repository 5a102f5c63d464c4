package provider

import (
	"fmt"
	"strings"

	"quorum/internal/config"
	"quorum/internal/logger"
)

// BuildProviders 为每个启用的模型条目构造 LLMProvider，顺序与输入一致。
// cfgs 应为 AIConfig.ResolvedProviders() 的结果。
func BuildProviders(cfgs []config.ProviderConfig, prompts Prompts) ([]*LLMProvider, error) {
	out := make([]*LLMProvider, 0, len(cfgs))
	for _, m := range cfgs {
		if !m.Enabled {
			continue
		}
		client, err := newChatClient(m)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSpace(m.Name)
		if name == "" {
			name = m.Model
		}
		logger.Infof("AI provider %s 已加载 (vendor=%s model=%s weight=%.2f)", name, m.Vendor, m.Model, m.Weight)
		out = append(out, NewLLMProvider(name, client, prompts, m.MaxTokens, m.Temperature))
	}
	return out, nil
}

func newChatClient(m config.ProviderConfig) (ChatClient, error) {
	switch strings.ToLower(strings.TrimSpace(m.Vendor)) {
	case "", "openai":
		c := NewOpenAIChatClient(m.APIURL, m.APIKey, m.Model, m.Headers)
		c.Timeout = m.Timeout()
		return c, nil
	case "anthropic":
		c := NewAnthropicChatClient(m.APIURL, m.APIKey, m.Model, m.Headers)
		c.Timeout = m.Timeout()
		return c, nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported vendor %q", m.Name, m.Vendor)
	}
}

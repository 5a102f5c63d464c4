package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const anthropicVersion = "2023-06-01"

// AnthropicChatClient 调用 /v1/messages。
type AnthropicChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	ExtraHeaders map[string]string

	http *resty.Client
}

func NewAnthropicChatClient(baseURL, apiKey, model string, headers map[string]string) *AnthropicChatClient {
	return &AnthropicChatClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExtraHeaders: headers,
		http:         resty.New(),
	}
}

func (c *AnthropicChatClient) endpoint() string {
	url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if url == "" {
		url = "https://api.anthropic.com/v1"
	}
	url = strings.TrimSuffix(url, "/messages")
	return url + "/messages"
}

func (c *AnthropicChatClient) Chat(ctx context.Context, payload ChatPayload) (ChatReply, error) {
	if c.http == nil {
		c.http = resty.New()
	}
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]any{
		"model":       c.Model,
		"max_tokens":  maxTokens,
		"temperature": payload.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": payload.User},
		},
	}
	if payload.System != "" {
		body["system"] = payload.System
	}
	if c.Timeout > 0 {
		c.http.SetTimeout(c.Timeout)
	}
	resp, err := postWithRetry(ctx, c.MaxRetries, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("x-api-key", c.APIKey).
			SetHeader("anthropic-version", anthropicVersion).
			SetHeaders(c.ExtraHeaders).
			SetBody(body).
			Post(c.endpoint())
	}, func(r *resty.Response) string {
		return gjson.GetBytes(r.Body(), "error.message").String()
	})
	if err != nil {
		return ChatReply{}, err
	}
	parsed := gjson.ParseBytes(resp.Body())
	var sb strings.Builder
	parsed.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
		return true
	})
	if sb.Len() == 0 {
		return ChatReply{}, fmt.Errorf("empty content")
	}
	usage := parsed.Get("usage")
	return ChatReply{
		Content:    sb.String(),
		Model:      firstNonEmpty(parsed.Get("model").String(), c.Model),
		TokensUsed: int(usage.Get("input_tokens").Int() + usage.Get("output_tokens").Int()),
	}, nil
}

package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"quorum/internal/logger"
)

// OpenAIChatClient 兼容 OpenAI / DeepSeek / Qwen 等 /chat/completions 接口。
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	ExtraHeaders map[string]string

	http *resty.Client
}

func NewOpenAIChatClient(baseURL, apiKey, model string, headers map[string]string) *OpenAIChatClient {
	return &OpenAIChatClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExtraHeaders: headers,
		http:         resty.New(),
	}
}

func (c *OpenAIChatClient) endpoint() string {
	url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	// 用户可能把完整的 /chat/completions 写进配置
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) Chat(ctx context.Context, payload ChatPayload) (ChatReply, error) {
	if c.http == nil {
		c.http = resty.New()
	}
	messages := make([]map[string]string, 0, 2)
	if payload.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": payload.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": payload.User})
	body := map[string]any{
		"model":       c.Model,
		"messages":    messages,
		"temperature": payload.Temperature,
	}
	if payload.MaxTokens > 0 {
		body["max_tokens"] = payload.MaxTokens
	}
	url := c.endpoint()
	if c.APIKey != "" {
		logger.Debugf("[AI] POST %s model=%s auth=Bearer %s", url, c.Model, maskSecret(c.APIKey))
	}

	if c.Timeout > 0 {
		c.http.SetTimeout(c.Timeout)
	}
	resp, err := postWithRetry(ctx, c.MaxRetries, func() (*resty.Response, error) {
		req := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeaders(c.ExtraHeaders).
			SetBody(body)
		if c.APIKey != "" {
			req.SetAuthToken(c.APIKey)
		}
		return req.Post(url)
	}, func(r *resty.Response) string {
		return gjson.GetBytes(r.Body(), "error.message").String()
	})
	if err != nil {
		return ChatReply{}, err
	}
	parsed := gjson.ParseBytes(resp.Body())
	choice := parsed.Get("choices.0.message.content")
	if !choice.Exists() {
		return ChatReply{}, fmt.Errorf("empty choices")
	}
	return ChatReply{
		Content:    choice.String(),
		Model:      firstNonEmpty(parsed.Get("model").String(), c.Model),
		TokensUsed: int(parsed.Get("usage.total_tokens").Int()),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

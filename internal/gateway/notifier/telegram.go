package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramAPI = "https://api.telegram.org"

type Telegram struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Retries  int

	http *resty.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		BaseURL:  telegramAPI,
		Retries:  3,
		http:     resty.New().SetTimeout(15 * time.Second),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// SendText 发送 Markdown 文本，失败最多重试 Retries 次。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram 配置不完整")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.BotToken)
	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	return sendWithRetry(ctx, t.Retries, func() error {
		resp, err := t.http.R().SetContext(ctx).SetBody(payload).Post(url)
		if err != nil {
			return err
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("telegram status=%d", resp.StatusCode())
		}
		return nil
	})
}

func sendWithRetry(ctx context.Context, retries int, send func() error) error {
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		if lastErr = send(); lastErr == nil {
			return nil
		}
		if i == retries-1 {
			break
		}
		timer := time.NewTimer(time.Duration(i+1) * retryStep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

var retryStep = time.Second

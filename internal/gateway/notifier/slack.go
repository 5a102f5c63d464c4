package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Slack 通过 incoming webhook 推送。
type Slack struct {
	WebhookURL string
	Retries    int

	http *resty.Client
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		WebhookURL: webhookURL,
		Retries:    3,
		http:       resty.New().SetTimeout(15 * time.Second),
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) SendText(ctx context.Context, text string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook 未配置")
	}
	return sendWithRetry(ctx, s.Retries, func() error {
		resp, err := s.http.R().
			SetContext(ctx).
			SetBody(map[string]string{"text": text}).
			Post(s.WebhookURL)
		if err != nil {
			return err
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("slack status=%d body=%s", resp.StatusCode(), resp.String())
		}
		return nil
	})
}

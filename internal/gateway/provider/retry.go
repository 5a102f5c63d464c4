package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultMaxRetries = 2
	backoffBase       = 800 * time.Millisecond
	backoffCap        = 8 * time.Second
)

// StatusError 是非 2xx 响应。
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d: %s", e.Status, e.Message)
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// backoff 优先使用 Retry-After（秒），否则 0.8s, 1.6s, 3.2s ... 上限 8s。
func backoff(resp *resty.Response, attempt int) time.Duration {
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header().Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	wait := backoffBase << attempt
	if wait > backoffCap || wait <= 0 {
		wait = backoffCap
	}
	return wait
}

// postWithRetry 对 429/5xx 做有限次重试，其它错误立即返回。
// errMsg 从错误响应体中取出可读消息。
func postWithRetry(ctx context.Context, maxRetries int, send func() (*resty.Response, error), errMsg func(*resty.Response) string) (*resty.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := send()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if resp.IsSuccess() {
			return resp, nil
		}
		msg := strings.TrimSpace(errMsg(resp))
		if msg == "" {
			msg = resp.Status()
		}
		lastErr = &StatusError{Status: resp.StatusCode(), Message: msg}
		if !retryable(resp.StatusCode()) || attempt == maxRetries {
			break
		}
		timer := time.NewTimer(backoff(resp, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func maskSecret(v string) string {
	if len(v) > 4 {
		return "****" + v[len(v)-4:]
	}
	return "****"
}

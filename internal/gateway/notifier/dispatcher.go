package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quorum/internal/logger"
)

// Dispatcher 按级别过滤、按 DedupKey 去重，再投递到所有渠道。投递失败只记录日志。
type Dispatcher struct {
	channels []TextNotifier
	minLevel Level
	window   time.Duration
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDispatcher(minLevel Level, window time.Duration, channels ...TextNotifier) *Dispatcher {
	out := make([]TextNotifier, 0, len(channels))
	for _, ch := range channels {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return &Dispatcher{
		channels: out,
		minLevel: minLevel,
		window:   window,
		now:      time.Now,
		seen:     make(map[string]time.Time),
	}
}

// Notify 返回各渠道错误的合并结果；被过滤或去重的告警返回 nil。
func (d *Dispatcher) Notify(ctx context.Context, a Alert) error {
	if d == nil || a.Level < d.minLevel {
		return nil
	}
	now := d.now()
	if a.DedupKey != "" && d.window > 0 {
		d.mu.Lock()
		last, ok := d.seen[a.DedupKey]
		if ok && now.Sub(last) < d.window {
			d.mu.Unlock()
			logger.Debugf("notifier: 跳过重复告警 %s", a.DedupKey)
			return nil
		}
		d.seen[a.DedupKey] = now
		d.prune(now)
		d.mu.Unlock()
	}
	if len(d.channels) == 0 {
		logger.Infof("[alert][%s] %s %s", a.Level, a.Code, a.Message)
		return nil
	}
	text := FromAlert(a, now).RenderMarkdown()
	var errs []error
	for _, ch := range d.channels {
		if err := ch.SendText(ctx, text); err != nil {
			logger.Warnf("notifier: %s 推送失败: %v", ch.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// prune 清理过期 key，调用方持有锁。
func (d *Dispatcher) prune(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, k)
		}
	}
}

package scheduler

import (
	"context"
	"time"

	"quorum/internal/logger"
)

// Aligned 在每个 Interval 边界（UTC 对齐）之后 Offset 处执行一次任务，
// 例如 interval=1h offset=10s 即每个整点后 10 秒，等 K 线收盘后再决策。
type Aligned struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAligned(name string, interval, offset time.Duration, runImmediately bool) *Aligned {
	return &Aligned{
		Name:           name,
		Interval:       interval,
		Offset:         offset,
		RunImmediately: runImmediately,
		nowFn:          time.Now,
	}
}

// Run 阻塞直到 ctx 结束。任务串行执行，若任务耗时超过间隔则跳过错过的时间点。
func (s *Aligned) Run(ctx context.Context, task func(context.Context)) {
	if s == nil || task == nil {
		return
	}
	prefix := "scheduler"
	if s.Name != "" {
		prefix += "[" + s.Name + "]"
	}
	if s.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("%s: negative offset=%s, clamp to 0", prefix, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("%s: started interval=%s offset=%s run_immediately=%v", prefix, s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}
	for {
		now := s.nowFn().UTC()
		next := NextAligned(now, s.Interval, s.Offset)
		logger.Infof("%s: 下次执行=%s (in %s)", prefix, next.Format(time.RFC3339), next.Sub(now).Truncate(time.Second))
		if !waitUntil(ctx, next.Sub(now)) {
			logger.Infof("%s: ctx done, exit", prefix)
			return
		}
		task(ctx)
	}
}

// NextAligned 返回 now 之后（不含）最近的 boundary+offset 时刻。
func NextAligned(now time.Time, interval, offset time.Duration) time.Time {
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	at := now.Truncate(interval).Add(offset)
	for !at.After(now) {
		at = at.Add(interval)
	}
	return at
}

func waitUntil(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

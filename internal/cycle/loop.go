package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quorum/internal/logger"
	"quorum/internal/metrics"
	"quorum/internal/pkg/circuit"
	"quorum/internal/scheduler"
)

type LoopConfig struct {
	Interval        time.Duration
	Offset          time.Duration
	RunImmediately  bool
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Loop 为每个 symbol 启动一个对齐调度器；连续失败的 symbol 被熔断，冷却后再探测。
type Loop struct {
	runner   *Runner
	symbols  []string
	cfg      LoopConfig
	breakers map[string]*circuit.Breaker

	mu   sync.Mutex
	last map[string]Outcome
}

func NewLoop(runner *Runner, symbols []string, cfg LoopConfig) (*Loop, error) {
	if runner == nil {
		return nil, &MissingDependencyError{Missing: []string{"cycle runner"}}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("cycle loop: no symbols configured")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("cycle loop: interval must be > 0")
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 4 * cfg.Interval
	}
	l := &Loop{
		runner:   runner,
		symbols:  symbols,
		cfg:      cfg,
		breakers: make(map[string]*circuit.Breaker, len(symbols)),
		last:     make(map[string]Outcome, len(symbols)),
	}
	for _, sym := range symbols {
		b := circuit.New("cycle:"+sym, cfg.BreakerFailures, cfg.BreakerCooldown)
		b.OnStateChange(func(_ string, _, to circuit.State) {
			open := 0.0
			if to == circuit.StateOpen {
				open = 1
			}
			metrics.BreakerState.WithLabelValues(sym).Set(open)
		})
		metrics.BreakerState.WithLabelValues(sym).Set(0)
		l.breakers[sym] = b
	}
	return l, nil
}

// Run 阻塞直到 ctx 取消，返回前等待后台持久化与通知完成。
func (l *Loop) Run(ctx context.Context) error {
	logger.Infof("cycle loop 启动: symbols=%v interval=%s offset=%s", l.symbols, l.cfg.Interval, l.cfg.Offset)
	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range l.symbols {
		sched := scheduler.NewAligned(sym, l.cfg.Interval, l.cfg.Offset, l.cfg.RunImmediately)
		g.Go(func() error {
			sched.Run(gctx, func(c context.Context) { l.tick(c, sym) })
			return nil
		})
	}
	err := g.Wait()
	l.runner.Close()
	logger.Infof("cycle loop 已停止")
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (l *Loop) tick(ctx context.Context, sym string) {
	b := l.breakers[sym]
	if !b.Allow() {
		logger.Warnf("[%s] 熔断中，跳过本周期", sym)
		return
	}
	res := l.runner.runIsolated(ctx, sym)
	l.mu.Lock()
	l.last[sym] = res.Outcome
	l.mu.Unlock()
	switch {
	case res.Err == nil:
		b.RecordSuccess()
	case ctx.Err() != nil:
		// 关停导致的失败不计入熔断
	default:
		logger.Errorf("[%s] 周期失败: %v", sym, res.Err)
		b.RecordFailure()
	}
}

// Health 返回各 symbol 的熔断状态与最近一次结果，供 /healthz 使用。
func (l *Loop) Health() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	symbols := make(map[string]any, len(l.symbols))
	for _, sym := range l.symbols {
		entry := map[string]any{"breaker": l.breakers[sym].State().String()}
		if o, ok := l.last[sym]; ok {
			entry["last_status"] = o.Status
			entry["last_cycle_id"] = o.CycleID
			if o.Reason != "" {
				entry["last_reason"] = o.Reason
			}
		}
		symbols[sym] = entry
	}
	return map[string]any{"symbols": symbols}
}

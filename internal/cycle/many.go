package cycle

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"quorum/internal/logger"
)

// Result 是 RunMany 中单个 symbol 的结果。
type Result struct {
	Outcome Outcome
	Err     error
}

// RunMany 并发运行多个 symbol，互不影响：某个 symbol 失败或 panic 不会中断其他 symbol。
// 返回结果与 symbols 顺序一致。
func (r *Runner) RunMany(ctx context.Context, symbols []string) []Result {
	results := make([]Result, len(symbols))
	var g errgroup.Group
	for i, sym := range symbols {
		g.Go(func() error {
			results[i] = r.runIsolated(ctx, sym)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runIsolated(ctx context.Context, sym string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("[%s] cycle panic: %v", sym, p)
			res = Result{
				Outcome: Outcome{Symbol: sym, Status: StatusError, Reason: fmt.Sprint(p)},
				Err:     fmt.Errorf("%s: panic: %v", sym, p),
			}
		}
	}()
	o, err := r.RunSymbol(ctx, sym)
	return Result{Outcome: o, Err: err}
}

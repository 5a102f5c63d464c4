// Package cycle 串起单个 symbol 的完整决策周期：
// 快照 → 两轮共识 →（持仓管理）→ 脱锚闸门 → 止损止盈 → 强平缓冲检查 → 定量 → 下单。
package cycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quorum/internal/consensus"
	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/gateway/notifier"
	"quorum/internal/logger"
	"quorum/internal/metrics"
	"quorum/internal/risk"
	"quorum/internal/sizing"
	"quorum/internal/stops"
	"quorum/internal/store"
)

type SnapshotProvider interface {
	Snapshot(ctx context.Context, symbol string) (decision.MarketSnapshot, error)
}

type ConsensusEngine interface {
	Decide(ctx context.Context, cycleID string, snap decision.MarketSnapshot) (decision.ConsensusDecision, error)
	Weights() map[string]float64
}

type RiskGuard interface {
	Depegged(rate float64) risk.Admission
	OkToOpen(symbol string, price float64, side decision.Action, leverage, stopPrice, kFactor float64) risk.Admission
}

type PositionSizer interface {
	SizeByImCap(equity, marginUtilization, freeCollateral, leverage, price, qtyStep, minQty float64) sizing.Result
	MaxLeverage(marginUtilization float64) float64
}

type StopCalculator interface {
	Levels(action decision.Action, price, atr float64) stops.Levels
	StopLimit(action decision.Action, stopPrice float64) float64
}

// Sink 是可选的持久化出口，失败只记日志。
type Sink interface {
	SaveDecision(ctx context.Context, d decision.ConsensusDecision) error
	SaveOrder(ctx context.Context, rec store.OrderRecord) error
}

type Notifier interface {
	Notify(ctx context.Context, a notifier.Alert) error
}

// Params 是 Runner 的协作者。前六个必填。
type Params struct {
	Snapshots SnapshotProvider
	Consensus ConsensusEngine
	Guard     RiskGuard
	Sizer     PositionSizer
	Stops     StopCalculator
	Orders    exchange.OrderPlacer

	Sink     Sink
	Notifier Notifier
}

const (
	SizingRisk  = "risk"
	SizingImCap = "imcap"
)

// Instrument 是合约的数量步长与最小下单量。
type Instrument struct {
	QtyStep float64
	MinQty  float64
}

type Config struct {
	SizingMode   string // risk | imcap
	RiskPct      float64
	Leverage     float64
	KFactor      float64
	UseStopLimit bool
	UseSuggested bool
	Instruments  func(symbol string) Instrument
	AsyncTimeout time.Duration
}

type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusNoAction    Status = "no_action"
	StatusRejected    Status = "rejected"
	StatusOrderFailed Status = "order_failed"
	StatusError       Status = "error"
)

// Outcome 描述一个 symbol 一次周期的结果。未走到的阶段对应字段为 nil。
type Outcome struct {
	CycleID  string                      `json:"cycle_id"`
	Symbol   string                      `json:"symbol"`
	Status   Status                      `json:"status"`
	Reason   string                      `json:"reason,omitempty"`
	Decision *decision.ConsensusDecision `json:"decision,omitempty"`
	Manage   *decision.ManageDecision    `json:"manage,omitempty"`
	Size     *sizing.Result              `json:"size,omitempty"`
	Levels   *stops.Levels               `json:"levels,omitempty"`
	Leverage float64                     `json:"leverage,omitempty"`
	Order    *exchange.OrderResult       `json:"order,omitempty"`
	Duration time.Duration               `json:"duration"`
}

type Runner struct {
	p   Params
	cfg Config

	wg    sync.WaitGroup
	newID func() string
}

// NewRunner 校验全部必填协作者，缺失项一次性报告。
func NewRunner(p Params, cfg Config) (*Runner, error) {
	var missing []string
	for _, dep := range []struct {
		name string
		v    any
	}{
		{"snapshot provider", p.Snapshots},
		{"consensus service", p.Consensus},
		{"risk guard", p.Guard},
		{"position sizer", p.Sizer},
		{"stop calculator", p.Stops},
		{"exchange client", p.Orders},
	} {
		if isNil(dep.v) {
			missing = append(missing, dep.name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingDependencyError{Missing: missing}
	}
	if isNil(p.Sink) {
		p.Sink = nil
	}
	if isNil(p.Notifier) {
		p.Notifier = nil
	}
	switch cfg.SizingMode {
	case SizingRisk, SizingImCap:
	case "":
		cfg.SizingMode = SizingRisk
	default:
		return nil, fmt.Errorf("cycle runner: unknown sizing mode %q", cfg.SizingMode)
	}
	if cfg.RiskPct <= 0 {
		cfg.RiskPct = 0.01
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.Instruments == nil {
		cfg.Instruments = func(string) Instrument { return Instrument{} }
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = 10 * time.Second
	}
	return &Runner{p: p, cfg: cfg, newID: uuid.NewString}, nil
}

// Run 与 RunSymbol 等价。
func (r *Runner) Run(ctx context.Context, symbol string) (Outcome, error) {
	return r.RunSymbol(ctx, symbol)
}

// RunSymbol 跑一个 symbol 的完整周期。HOLD、风控拦截、数量为 0 返回 no-action 且 error 为 nil；
// 快照失败、法定人数不足、下单传输失败返回 error。
func (r *Runner) RunSymbol(ctx context.Context, symbol string) (Outcome, error) {
	start := time.Now()
	out := Outcome{CycleID: r.newID(), Symbol: strings.ToUpper(strings.TrimSpace(symbol))}
	err := r.run(ctx, &out)
	if err != nil {
		out.Status = StatusError
		if out.Reason == "" {
			out.Reason = err.Error()
		}
	}
	out.Duration = time.Since(start)
	metrics.CycleOutcomes.WithLabelValues(out.Symbol, string(out.Status)).Inc()
	metrics.CycleDuration.WithLabelValues(out.Symbol).Observe(out.Duration.Seconds())
	logger.With("symbol", out.Symbol, "cycle_id", out.CycleID).Info("cycle finished",
		"status", out.Status, "reason", out.Reason, "elapsed", out.Duration.Round(time.Millisecond))
	return out, err
}

func (r *Runner) run(ctx context.Context, out *Outcome) error {
	sym := out.Symbol
	snap, err := r.p.Snapshots.Snapshot(ctx, sym)
	if err != nil {
		r.alert(notifier.Alert{
			Level:    notifier.LevelWarn,
			Code:     "SNAPSHOT_FAILED",
			Message:  fmt.Sprintf("%s 快照获取失败: %v", sym, err),
			Context:  map[string]string{"symbol": sym, "cycle_id": out.CycleID},
			DedupKey: "snapshot:" + sym,
		})
		return fmt.Errorf("%s snapshot: %w", sym, err)
	}

	cons, err := r.p.Consensus.Decide(ctx, out.CycleID, snap)
	if err != nil {
		var qerr *consensus.QuorumError
		if errors.As(err, &qerr) {
			r.alert(notifier.Alert{
				Level:    notifier.LevelCritical,
				Code:     "QUORUM_FAILED",
				Message:  fmt.Sprintf("%s 共识失败: %v", sym, qerr),
				Context:  map[string]string{"symbol": sym, "round": qerr.Round, "cycle_id": out.CycleID},
				DedupKey: "quorum:" + sym,
			})
		}
		return fmt.Errorf("%s consensus: %w", sym, err)
	}
	out.Decision = &cons
	r.saveDecision(cons)

	if snap.HasPosition() {
		return r.manage(ctx, out, snap, cons)
	}

	switch cons.FinalAction {
	case decision.ActionLong, decision.ActionShort:
	case decision.ActionClose:
		return noAction(out, "consensus CLOSE without position")
	default:
		return noAction(out, "consensus HOLD")
	}
	return r.open(ctx, out, snap, cons)
}

// open 处理无持仓时的开仓路径。
func (r *Runner) open(ctx context.Context, out *Outcome, snap decision.MarketSnapshot, cons decision.ConsensusDecision) error {
	sym := out.Symbol
	action := cons.FinalAction

	if adm := r.p.Guard.Depegged(snap.StableRate); !adm.OK {
		return r.reject(out, "depeg", adm.Reason)
	}

	lv := r.p.Stops.Levels(action, snap.Price, snap.ATR)
	if r.cfg.UseSuggested {
		lv = r.applySuggested(action, snap.Price, lv, cons)
	}
	out.Levels = &lv

	lev := risk.EffectiveLeverage(r.cfg.Leverage, r.p.Sizer.MaxLeverage(snap.MarginUtilization))
	out.Leverage = lev
	if adm := r.p.Guard.OkToOpen(sym, snap.Price, action, lev, lv.StopLoss, r.cfg.KFactor); !adm.OK {
		return r.reject(out, "buffer", adm.Reason)
	}

	// NaN、负数与 0 都视为没有可用保证金
	if !(snap.FreeCollateral > 0) && snap.Equity > 0 {
		return r.reject(out, "collateral", fmt.Sprintf("%s: no free collateral (%.4f)", sym, snap.FreeCollateral))
	}

	size := r.size(snap, action, lev, lv.StopLoss)
	out.Size = &size
	if !(size.Qty > 0) {
		return noAction(out, "zero quantity")
	}
	if !(size.ImRequired <= snap.FreeCollateral) {
		return r.reject(out, "collateral", fmt.Sprintf("%s: im required %.4f exceeds free collateral %.4f", sym, size.ImRequired, snap.FreeCollateral))
	}

	opts := map[string]any{
		"stopLoss":   lv.StopLoss,
		"takeProfit": lv.TakeProfit,
		"tpslMode":   "Full",
	}
	if r.cfg.UseStopLimit && lv.StopLimit > 0 {
		opts["slOrderType"] = "Limit"
		opts["slLimitPrice"] = lv.StopLimit
	}
	req := exchange.OrderRequest{
		Symbol:  sym,
		Side:    sideFor(action),
		Type:    exchange.TypeMarket,
		Qty:     size.Qty,
		Options: opts,
	}
	rec := store.OrderRecord{
		CycleID:    out.CycleID,
		Symbol:     sym,
		Action:     action,
		Leverage:   lev,
		RiskBand:   string(size.RiskBand),
		StopLoss:   lv.StopLoss,
		TakeProfit: lv.TakeProfit,
		Price:      snap.Price,
	}
	return r.submit(ctx, out, req, rec)
}

// manage 处理已有持仓：CLOSE 生成 reduce-only 市价单，其余保持并记录新的止损止盈建议。
func (r *Runner) manage(ctx context.Context, out *Outcome, snap decision.MarketSnapshot, cons decision.ConsensusDecision) error {
	sym := out.Symbol
	m, err := decision.ManageFromConsensus(cons, r.p.Consensus.Weights())
	if err != nil {
		return fmt.Errorf("%s manage decision: %w", sym, err)
	}
	out.Manage = &m
	if m.Action() != decision.ActionClose {
		if m.NewStopLoss() != nil || m.NewTakeProfit() != nil {
			logger.Infof("[%s] 持仓 %s 保持，建议止损=%s 止盈=%s", sym, snap.Position.Side, fmtPtr(m.NewStopLoss()), fmtPtr(m.NewTakeProfit()))
		}
		return noAction(out, m.Reason())
	}

	step := r.cfg.Instruments(sym).QtyStep
	qty := sizing.ReduceQty(snap.Position.Qty, m.QtyDeltaFactor(), step)
	out.Size = &sizing.Result{Qty: qty, Notional: qty * snap.Price}
	if !(qty > 0) {
		return noAction(out, "reduce quantity rounds to zero")
	}
	side := exchange.SideSell
	if snap.Position.Side == decision.ActionShort {
		side = exchange.SideBuy
	}
	req := exchange.OrderRequest{
		Symbol:  sym,
		Side:    side,
		Type:    exchange.TypeMarket,
		Qty:     qty,
		Options: map[string]any{"reduceOnly": true},
	}
	rec := store.OrderRecord{
		CycleID:    out.CycleID,
		Symbol:     sym,
		Action:     decision.ActionClose,
		Price:      snap.Price,
		ReduceOnly: true,
	}
	return r.submit(ctx, out, req, rec)
}

func (r *Runner) submit(ctx context.Context, out *Outcome, req exchange.OrderRequest, rec store.OrderRecord) error {
	sym := out.Symbol
	// 周期已取消时不再下单
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s cancelled before order: %w", sym, err)
	}
	res, err := r.p.Orders.CreateOrder(ctx, req)
	out.Order = &res

	rec.IdempotencyKey = res.IdempotencyKey
	rec.Side = req.Side
	rec.OrderType = req.Type
	rec.Qty = req.Qty
	rec.OK = res.OK
	rec.OrderID = res.OrderID
	rec.ErrorCode = res.ErrorCode
	rec.ErrorMessage = res.ErrorMessage

	if err != nil {
		rec.ErrorCode = "TRANSPORT"
		rec.ErrorMessage = err.Error()
		r.saveOrder(rec)
		metrics.OrderResults.WithLabelValues(sym, "transport_error").Inc()
		r.alert(notifier.Alert{
			Level:    notifier.LevelCritical,
			Code:     "ORDER_TRANSPORT",
			Message:  fmt.Sprintf("%s %s %s 下单请求失败，可用同一幂等键重试: %v", sym, req.Side, formatQty(req.Qty), err),
			Context:  map[string]string{"symbol": sym, "idempotency_key": res.IdempotencyKey, "cycle_id": out.CycleID},
			DedupKey: "transport:" + res.IdempotencyKey,
		})
		return fmt.Errorf("%s order: %w", sym, err)
	}
	r.saveOrder(rec)

	if !res.OK {
		metrics.OrderResults.WithLabelValues(sym, "rejected").Inc()
		out.Status = StatusOrderFailed
		out.Reason = fmt.Sprintf("exchange rejected: %s %s", res.ErrorCode, res.ErrorMessage)
		r.alert(notifier.Alert{
			Level:    notifier.LevelWarn,
			Code:     "ORDER_REJECTED",
			Message:  fmt.Sprintf("%s %s %s 被拒: %s %s", sym, req.Side, formatQty(req.Qty), res.ErrorCode, res.ErrorMessage),
			Context:  map[string]string{"symbol": sym, "idempotency_key": res.IdempotencyKey},
			DedupKey: "rejected:" + res.IdempotencyKey,
		})
		return nil
	}
	metrics.OrderResults.WithLabelValues(sym, "ok").Inc()
	out.Status = StatusSubmitted
	out.Reason = fmt.Sprintf("%s %s %s", rec.Action, req.Side, formatQty(req.Qty))
	r.alert(notifier.Alert{
		Level:   notifier.LevelInfo,
		Code:    "ORDER_SUBMITTED",
		Message: fmt.Sprintf("%s %s %s 已提交 order=%s", sym, req.Side, formatQty(req.Qty), res.OrderID),
		Context: map[string]string{
			"symbol":          sym,
			"action":          string(rec.Action),
			"idempotency_key": res.IdempotencyKey,
			"cycle_id":        out.CycleID,
		},
	})
	return nil
}

// size 按配置模式定量。risk 模式的结果不超过 IM cap 给出的数量；
// IM cap 在取整前为 0 时返回零数量，不让 minQty 把它抬成可下单的量。
func (r *Runner) size(snap decision.MarketSnapshot, action decision.Action, lev, stop float64) sizing.Result {
	inst := r.cfg.Instruments(snap.Symbol)
	capped := r.p.Sizer.SizeByImCap(snap.Equity, snap.MarginUtilization, snap.FreeCollateral, lev, snap.Price, inst.QtyStep, inst.MinQty)
	if !(capped.RawQty > 0) {
		return sizing.Result{Leverage: lev, RiskBand: capped.RiskBand}
	}
	if r.cfg.SizingMode == SizingImCap {
		return capped
	}
	res := sizing.SizeByRisk(action, snap.Price, stop, snap.Equity, lev, r.cfg.RiskPct, inst.QtyStep, inst.MinQty)
	res.RiskBand = capped.RiskBand
	if res.Qty > capped.Qty {
		logger.Debugf("[%s] 风险定量 %s 超过 IM cap %s，按上限截断", snap.Symbol, formatQty(res.Qty), formatQty(capped.Qty))
		res.Qty = capped.Qty
		res.Notional = res.Qty * snap.Price
		if lev > 0 {
			res.ImRequired = res.Notional / lev
		}
	}
	return res
}

// applySuggested 用最高权重投票者的建议替换 ATR 价位，方向不对的建议忽略。
func (r *Runner) applySuggested(action decision.Action, price float64, lv stops.Levels, cons decision.ConsensusDecision) stops.Levels {
	stop, take := cons.Suggested(r.p.Consensus.Weights())
	sign := 1.0
	if action == decision.ActionShort {
		sign = -1
	}
	if stop != nil && (price-*stop)*sign > 0 {
		lv.StopLoss = *stop
		lv.StopLimit = r.p.Stops.StopLimit(action, *stop)
	}
	if take != nil && (*take-price)*sign > 0 {
		lv.TakeProfit = *take
	}
	return lv
}

func (r *Runner) reject(out *Outcome, kind, reason string) error {
	metrics.RiskBlocks.WithLabelValues(out.Symbol, kind).Inc()
	out.Status = StatusRejected
	out.Reason = reason
	logger.Warnf("[%s] 风控拦截(%s): %s", out.Symbol, kind, reason)
	r.alert(notifier.Alert{
		Level:    notifier.LevelWarn,
		Code:     "RISK_BLOCKED",
		Message:  reason,
		Context:  map[string]string{"symbol": out.Symbol, "check": kind},
		DedupKey: "risk:" + kind + ":" + out.Symbol,
	})
	return nil
}

func noAction(out *Outcome, reason string) error {
	out.Status = StatusNoAction
	out.Reason = reason
	return nil
}

// Close 等待后台的持久化与通知任务完成。
func (r *Runner) Close() {
	r.wg.Wait()
}

func (r *Runner) async(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.AsyncTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warnf("cycle: %s 失败: %v", name, err)
		}
	}()
}

func (r *Runner) saveDecision(d decision.ConsensusDecision) {
	if r.p.Sink == nil {
		return
	}
	r.async("保存共识", func(ctx context.Context) error { return r.p.Sink.SaveDecision(ctx, d) })
}

func (r *Runner) saveOrder(rec store.OrderRecord) {
	if r.p.Sink == nil {
		return
	}
	rec.CreatedAt = time.Now()
	r.async("保存订单", func(ctx context.Context) error { return r.p.Sink.SaveOrder(ctx, rec) })
}

func (r *Runner) alert(a notifier.Alert) {
	if r.p.Notifier == nil {
		return
	}
	r.async("发送告警 "+a.Code, func(ctx context.Context) error { return r.p.Notifier.Notify(ctx, a) })
}

func sideFor(action decision.Action) string {
	if action == decision.ActionShort {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

func formatQty(q float64) string {
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return "NaN"
	}
	return fmt.Sprintf("%.6g", q)
}

func fmtPtr(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.6g", *p)
}

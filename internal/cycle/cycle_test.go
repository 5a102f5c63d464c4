package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"quorum/internal/consensus"
	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/gateway/notifier"
	"quorum/internal/pkg/circuit"
	"quorum/internal/risk"
	"quorum/internal/sizing"
	"quorum/internal/stops"
	"quorum/internal/store"
)

type mockSnapshots struct{ mock.Mock }

func (m *mockSnapshots) Snapshot(ctx context.Context, symbol string) (decision.MarketSnapshot, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(decision.MarketSnapshot), args.Error(1)
}

type mockConsensus struct {
	mock.Mock
	weights map[string]float64
}

func (m *mockConsensus) Decide(ctx context.Context, cycleID string, snap decision.MarketSnapshot) (decision.ConsensusDecision, error) {
	args := m.Called(ctx, cycleID, snap)
	return args.Get(0).(decision.ConsensusDecision), args.Error(1)
}

func (m *mockConsensus) Weights() map[string]float64 { return m.weights }

type mockOrders struct{ mock.Mock }

func (m *mockOrders) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderResult), args.Error(1)
}

type recordingSink struct {
	mu        sync.Mutex
	decisions []decision.ConsensusDecision
	orders    []store.OrderRecord
}

func (s *recordingSink) SaveDecision(_ context.Context, d decision.ConsensusDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *recordingSink) SaveOrder(_ context.Context, rec store.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, rec)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notifier.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a notifier.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) codes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.alerts))
	for _, a := range n.alerts {
		out = append(out, a.Code)
	}
	return out
}

type harness struct {
	snaps    *mockSnapshots
	cons     *mockConsensus
	orders   *mockOrders
	sink     *recordingSink
	notifier *recordingNotifier
	runner   *Runner
}

func newHarness(t *testing.T, mut func(*Config)) *harness {
	t.Helper()
	h := &harness{
		snaps:    &mockSnapshots{},
		cons:     &mockConsensus{weights: map[string]float64{"alpha": 1, "beta": 2}},
		orders:   &mockOrders{},
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
	}
	cfg := Config{
		SizingMode: SizingRisk,
		RiskPct:    0.01,
		Leverage:   10,
		Instruments: func(string) Instrument {
			return Instrument{QtyStep: 0.001, MinQty: 0.001}
		},
	}
	if mut != nil {
		mut(&cfg)
	}
	r, err := NewRunner(Params{
		Snapshots: h.snaps,
		Consensus: h.cons,
		Guard:     risk.NewGuard(risk.GuardConfig{}),
		Sizer:     sizing.NewSizer(risk.NewImCapService(risk.DefaultBands())),
		Stops:     stops.NewCalculator(stops.Config{ATRMultiplier: 1.5, RewardRatio: 2, StopLimitOffsetPct: 0.002}, nil),
		Orders:    h.orders,
		Sink:      h.sink,
		Notifier:  h.notifier,
	}, cfg)
	require.NoError(t, err)
	r.newID = func() string { return "cycle-1" }
	h.runner = r
	return h
}

func flatSnapshot(sym string) decision.MarketSnapshot {
	return decision.MarketSnapshot{
		Symbol:            sym,
		Price:             100,
		ATR:               2,
		Equity:            10000,
		FreeCollateral:    8000,
		MarginUtilization: 0.1,
		StableRate:        1.0001,
		Timestamp:         time.Unix(1700000000, 0),
	}
}

func verdict(a decision.Action, round2 decision.Round) decision.ConsensusDecision {
	return decision.ConsensusDecision{
		CycleID:         "cycle-1",
		Symbol:          "BTCUSDT",
		Round2:          round2,
		FinalAction:     a,
		FinalConfidence: 70,
		MajorityLock:    true,
	}
}

func TestNewRunner_MissingDependencies(t *testing.T) {
	t.Run("reports every missing collaborator", func(t *testing.T) {
		_, err := NewRunner(Params{}, Config{})
		var missing *MissingDependencyError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{
			"snapshot provider", "consensus service", "risk guard",
			"position sizer", "stop calculator", "exchange client",
		}, missing.Missing)
		assert.Contains(t, err.Error(), "risk guard")
		assert.Contains(t, err.Error(), "exchange client")
	})

	t.Run("typed nil counts as missing", func(t *testing.T) {
		_, err := NewRunner(Params{
			Snapshots: &mockSnapshots{},
			Consensus: &mockConsensus{},
			Guard:     (*risk.Guard)(nil),
			Sizer:     sizing.NewSizer(risk.NewImCapService(risk.DefaultBands())),
			Stops:     stops.NewCalculator(stops.Config{}, nil),
			Orders:    &mockOrders{},
		}, Config{})
		var missing *MissingDependencyError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{"risk guard"}, missing.Missing)
	})

	t.Run("optional collaborators may be absent", func(t *testing.T) {
		r, err := NewRunner(Params{
			Snapshots: &mockSnapshots{},
			Consensus: &mockConsensus{},
			Guard:     risk.NewGuard(risk.GuardConfig{}),
			Sizer:     sizing.NewSizer(risk.NewImCapService(risk.DefaultBands())),
			Stops:     stops.NewCalculator(stops.Config{}, nil),
			Orders:    &mockOrders{},
			Sink:      (*store.Store)(nil),
		}, Config{})
		require.NoError(t, err)
		assert.Nil(t, r.p.Sink)
		assert.Equal(t, SizingRisk, r.cfg.SizingMode)
	})

	t.Run("unknown sizing mode", func(t *testing.T) {
		_, err := NewRunner(Params{
			Snapshots: &mockSnapshots{},
			Consensus: &mockConsensus{},
			Guard:     risk.NewGuard(risk.GuardConfig{}),
			Sizer:     sizing.NewSizer(risk.NewImCapService(risk.DefaultBands())),
			Stops:     stops.NewCalculator(stops.Config{}, nil),
			Orders:    &mockOrders{},
		}, Config{SizingMode: "kelly"})
		assert.Error(t, err)
	})
}

func TestRunSymbol_OpenLong(t *testing.T) {
	h := newHarness(t, nil)
	snap := flatSnapshot("BTCUSDT")
	h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
	h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)
	h.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
		return req.Symbol == "BTCUSDT" &&
			req.Side == exchange.SideBuy &&
			req.Type == exchange.TypeMarket &&
			req.Options["stopLoss"] == 97.0 &&
			req.Options["takeProfit"] == 106.0 &&
			req.Options["slLimitPrice"] == nil
	})).Return(exchange.OrderResult{OK: true, OrderID: "42", IdempotencyKey: "key-1"}, nil).Once()

	out, err := h.runner.Run(context.Background(), "btcusdt")
	require.NoError(t, err)
	h.runner.Close()

	assert.Equal(t, StatusSubmitted, out.Status)
	assert.Equal(t, "cycle-1", out.CycleID)
	assert.Equal(t, 10.0, out.Leverage)
	require.NotNil(t, out.Levels)
	assert.Equal(t, 97.0, out.Levels.StopLoss)
	require.NotNil(t, out.Size)
	// 100 USDT 风险 / 3 的止损距离，按 0.001 步长向下取整
	assert.InDelta(t, 33.333, out.Size.Qty, 1e-9)
	assert.Equal(t, risk.BandLow, out.Size.RiskBand)
	require.NotNil(t, out.Order)
	assert.Equal(t, "42", out.Order.OrderID)
	h.orders.AssertExpectations(t)

	require.Len(t, h.sink.decisions, 1)
	require.Len(t, h.sink.orders, 1)
	rec := h.sink.orders[0]
	assert.Equal(t, "key-1", rec.IdempotencyKey)
	assert.Equal(t, decision.ActionLong, rec.Action)
	assert.True(t, rec.OK)
	assert.Equal(t, "low", rec.RiskBand)
	assert.Contains(t, h.notifier.codes(), "ORDER_SUBMITTED")
}

func TestRunSymbol_NoAction(t *testing.T) {
	t.Run("hold", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionHold, nil), nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		h.runner.Close()
		assert.Equal(t, StatusNoAction, out.Status)
		assert.NotNil(t, out.Decision)
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		assert.Len(t, h.sink.decisions, 1)
	})

	t.Run("close without position", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionClose, nil), nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, StatusNoAction, out.Status)
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("zero equity sizes to zero", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		snap.Equity = 0
		snap.FreeCollateral = 0
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionShort, nil), nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, StatusNoAction, out.Status)
		assert.Equal(t, "zero quantity", out.Reason)
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})
}

func TestRunSymbol_RiskBlocks(t *testing.T) {
	t.Run("depeg", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		snap.StableRate = 0.98
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		h.runner.Close()
		assert.Equal(t, StatusRejected, out.Status)
		assert.Contains(t, out.Reason, "de-peg")
		assert.Nil(t, out.Levels)
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		assert.Contains(t, h.notifier.codes(), "RISK_BLOCKED")
	})

	t.Run("liquidation before stop", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		snap.ATR = 10 // 止损距离 15，×1.5 超过 10x 下的 10
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, out.Status)
		assert.Contains(t, out.Reason, "liquidation before stop")
		require.NotNil(t, out.Levels)
		assert.Nil(t, out.Size)
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("leverage clamped by band", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.Leverage = 50 })
		snap := flatSnapshot("BTCUSDT")
		snap.MarginUtilization = 0.85 // extreme 档：5x，im 5%
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)
		h.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(exchange.OrderResult{OK: true, IdempotencyKey: "k"}, nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, StatusSubmitted, out.Status)
		assert.Equal(t, 5.0, out.Leverage)
		// 风险定量 33.333 被 IM cap 截断：8000×5%×5 / 100 = 20
		assert.InDelta(t, 20.0, out.Size.Qty, 1e-9)
		assert.Equal(t, risk.BandExtreme, out.Size.RiskBand)
	})

	for _, mode := range []string{SizingRisk, SizingImCap} {
		t.Run("no free collateral "+mode, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.SizingMode = mode })
			snap := flatSnapshot("BTCUSDT")
			snap.FreeCollateral = 0
			snap.MarginUtilization = 0.95
			h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
			h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)

			out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
			require.NoError(t, err)
			h.runner.Close()
			assert.Equal(t, StatusRejected, out.Status)
			assert.Contains(t, out.Reason, "no free collateral")
			assert.Nil(t, out.Size)
			h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
			assert.Contains(t, h.notifier.codes(), "RISK_BLOCKED")
		})

		t.Run("min qty above free collateral "+mode, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.SizingMode = mode })
			snap := flatSnapshot("BTCUSDT")
			snap.FreeCollateral = 0.01
			snap.MarginUtilization = 0.95
			h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
			h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)

			out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, out.Status)
			assert.Contains(t, out.Reason, "exceeds free collateral")
			require.NotNil(t, out.Size)
			// IM cap 取整前远小于 minQty，被抬到 0.001 后保证金 0.02 > 0.01
			assert.Equal(t, 0.001, out.Size.Qty)
			assert.InDelta(t, 0.02, out.Size.ImRequired, 1e-12)
			h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestRunSymbol_Failures(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		h := newHarness(t, nil)
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(decision.MarketSnapshot{}, errors.New("mark price timeout"))

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.Error(t, err)
		h.runner.Close()
		assert.Equal(t, StatusError, out.Status)
		assert.Contains(t, h.notifier.codes(), "SNAPSHOT_FAILED")
		h.cons.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("quorum", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		qerr := &consensus.QuorumError{Round: "round1", Responded: 1, Required: 2}
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(decision.ConsensusDecision{}, qerr)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		var got *consensus.QuorumError
		require.True(t, errors.As(err, &got))
		h.runner.Close()
		assert.Equal(t, StatusError, out.Status)
		assert.Nil(t, out.Decision)
		assert.Contains(t, h.notifier.codes(), "QUORUM_FAILED")
		assert.Empty(t, h.sink.decisions)
	})

	t.Run("transport error keeps idempotency key", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionShort, nil), nil)
		terr := &exchange.TransportError{IdempotencyKey: "key-9", Err: errors.New("connection reset")}
		h.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(exchange.OrderResult{IdempotencyKey: "key-9"}, terr)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		var got *exchange.TransportError
		require.True(t, errors.As(err, &got))
		h.runner.Close()
		assert.Equal(t, StatusError, out.Status)
		require.NotNil(t, out.Order)
		assert.Equal(t, "key-9", out.Order.IdempotencyKey)
		require.Len(t, h.sink.orders, 1)
		assert.Equal(t, "TRANSPORT", h.sink.orders[0].ErrorCode)
		assert.Equal(t, exchange.SideSell, h.sink.orders[0].Side)
		assert.Contains(t, h.notifier.codes(), "ORDER_TRANSPORT")
	})

	t.Run("exchange rejection is not an error", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)
		h.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(exchange.OrderResult{IdempotencyKey: "key-2", ErrorCode: "110007", ErrorMessage: "insufficient balance"}, nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		h.runner.Close()
		assert.Equal(t, StatusOrderFailed, out.Status)
		assert.Contains(t, out.Reason, "110007")
		require.Len(t, h.sink.orders, 1)
		assert.False(t, h.sink.orders[0].OK)
	})

	t.Run("cancelled cycle submits nothing", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("BTCUSDT")
		ctx, cancel := context.WithCancel(context.Background())
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).
			Run(func(mock.Arguments) { cancel() }).
			Return(verdict(decision.ActionLong, nil), nil)

		_, err := h.runner.RunSymbol(ctx, "BTCUSDT")
		require.ErrorIs(t, err, context.Canceled)
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})
}

func TestRunSymbol_StopOptions(t *testing.T) {
	t.Run("stop limit", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.UseStopLimit = true })
		snap := flatSnapshot("BTCUSDT")
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, nil), nil)
		var sent exchange.OrderRequest
		h.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(exchange.OrderRequest) }).
			Return(exchange.OrderResult{OK: true, IdempotencyKey: "k"}, nil)

		_, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, "Limit", sent.Options["slOrderType"])
		assert.InDelta(t, 97*(1-0.002), sent.Options["slLimitPrice"].(float64), 1e-9)
	})

	t.Run("suggested levels from heaviest voter", func(t *testing.T) {
		h := newHarness(t, func(c *Config) { c.UseSuggested = true })
		snap := flatSnapshot("BTCUSDT")
		lightStop, heavyStop, badTake := 96.0, 98.0, 90.0
		round2 := decision.Round{
			"alpha": {Action: decision.ActionLong, Confidence: 60, SuggestedStopLoss: &lightStop},
			"beta":  {Action: decision.ActionLong, Confidence: 80, SuggestedStopLoss: &heavyStop, SuggestedTakeProfit: &badTake},
		}
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionLong, round2), nil)
		h.orders.On("CreateOrder", mock.Anything, mock.Anything).
			Return(exchange.OrderResult{OK: true, IdempotencyKey: "k"}, nil)

		out, err := h.runner.RunSymbol(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		require.NotNil(t, out.Levels)
		assert.Equal(t, 98.0, out.Levels.StopLoss)
		// 止盈在多单下方，忽略
		assert.Equal(t, 106.0, out.Levels.TakeProfit)
	})
}

func TestRunSymbol_ManagePosition(t *testing.T) {
	t.Run("close sends reduce-only order", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("ETHUSDT")
		snap.Position = &decision.PositionState{Side: decision.ActionShort, Qty: 1.2345, EntryPrice: 105}
		h.snaps.On("Snapshot", mock.Anything, "ETHUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionClose, nil), nil)
		h.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
			return req.Side == exchange.SideBuy && req.Options["reduceOnly"] == true
		})).Return(exchange.OrderResult{OK: true, IdempotencyKey: "k"}, nil).Once()

		out, err := h.runner.RunSymbol(context.Background(), "ETHUSDT")
		require.NoError(t, err)
		h.runner.Close()
		assert.Equal(t, StatusSubmitted, out.Status)
		require.NotNil(t, out.Manage)
		assert.Equal(t, decision.ActionClose, out.Manage.Action())
		assert.InDelta(t, 1.234, out.Size.Qty, 1e-9)
		h.orders.AssertExpectations(t)
		require.Len(t, h.sink.orders, 1)
		assert.True(t, h.sink.orders[0].ReduceOnly)
	})

	t.Run("close with factor reduces part of the position", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("ETHUSDT")
		snap.Position = &decision.PositionState{Side: decision.ActionLong, Qty: 2, EntryPrice: 95}
		half := -0.5
		round2 := decision.Round{
			"alpha": {Action: decision.ActionClose, Confidence: 80},
			"beta":  {Action: decision.ActionClose, Confidence: 75, QtyDeltaFactor: &half},
		}
		h.snaps.On("Snapshot", mock.Anything, "ETHUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionClose, round2), nil)
		h.orders.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req exchange.OrderRequest) bool {
			return req.Side == exchange.SideSell && req.Qty == 1 && req.Options["reduceOnly"] == true
		})).Return(exchange.OrderResult{OK: true, IdempotencyKey: "k"}, nil).Once()

		out, err := h.runner.RunSymbol(context.Background(), "ETHUSDT")
		require.NoError(t, err)
		h.runner.Close()
		assert.Equal(t, StatusSubmitted, out.Status)
		require.NotNil(t, out.Manage.QtyDeltaFactor())
		assert.Equal(t, -0.5, *out.Manage.QtyDeltaFactor())
		assert.Equal(t, 1.0, out.Size.Qty)
		h.orders.AssertExpectations(t)
	})

	t.Run("directional consensus holds the position", func(t *testing.T) {
		h := newHarness(t, nil)
		snap := flatSnapshot("ETHUSDT")
		snap.Position = &decision.PositionState{Side: decision.ActionLong, Qty: 2, EntryPrice: 95}
		stop := 99.0
		round2 := decision.Round{"beta": {Action: decision.ActionShort, Confidence: 70, SuggestedStopLoss: &stop}}
		h.snaps.On("Snapshot", mock.Anything, "ETHUSDT").Return(snap, nil)
		h.cons.On("Decide", mock.Anything, "cycle-1", snap).Return(verdict(decision.ActionShort, round2), nil)

		out, err := h.runner.RunSymbol(context.Background(), "ETHUSDT")
		require.NoError(t, err)
		assert.Equal(t, StatusNoAction, out.Status)
		require.NotNil(t, out.Manage)
		assert.Equal(t, decision.ActionHold, out.Manage.Action())
		require.NotNil(t, out.Manage.NewStopLoss())
		assert.Equal(t, 99.0, *out.Manage.NewStopLoss())
		h.orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})
}

func TestRunMany_IsolatesSymbols(t *testing.T) {
	h := newHarness(t, nil)
	eth := flatSnapshot("ETHUSDT")
	h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(decision.MarketSnapshot{}, errors.New("boom"))
	h.snaps.On("Snapshot", mock.Anything, "ETHUSDT").Return(eth, nil)
	h.cons.On("Decide", mock.Anything, "cycle-1", eth).Return(verdict(decision.ActionHold, nil), nil)

	results := h.runner.RunMany(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.Equal(t, StatusError, results[0].Outcome.Status)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, StatusNoAction, results[1].Outcome.Status)
}

func TestLoop(t *testing.T) {
	t.Run("validates", func(t *testing.T) {
		_, err := NewLoop(nil, []string{"BTCUSDT"}, LoopConfig{Interval: time.Minute})
		assert.Error(t, err)
		h := newHarness(t, nil)
		_, err = NewLoop(h.runner, nil, LoopConfig{Interval: time.Minute})
		assert.Error(t, err)
		_, err = NewLoop(h.runner, []string{"BTCUSDT"}, LoopConfig{})
		assert.Error(t, err)
	})

	t.Run("breaker opens after failures", func(t *testing.T) {
		h := newHarness(t, nil)
		h.snaps.On("Snapshot", mock.Anything, "BTCUSDT").Return(decision.MarketSnapshot{}, errors.New("down")).Once()
		l, err := NewLoop(h.runner, []string{"BTCUSDT"}, LoopConfig{
			Interval:        time.Minute,
			BreakerFailures: 1,
			BreakerCooldown: time.Hour,
		})
		require.NoError(t, err)

		l.tick(context.Background(), "BTCUSDT")
		assert.Equal(t, circuit.StateOpen, l.breakers["BTCUSDT"].State())

		// 熔断期间不再调用快照
		l.tick(context.Background(), "BTCUSDT")
		h.snaps.AssertNumberOfCalls(t, "Snapshot", 1)

		health := l.Health()["symbols"].(map[string]any)["BTCUSDT"].(map[string]any)
		assert.Equal(t, "OPEN", health["breaker"])
		assert.Equal(t, StatusError, health["last_status"])
	})

	t.Run("run stops on cancel", func(t *testing.T) {
		h := newHarness(t, nil)
		l, err := NewLoop(h.runner, []string{"BTCUSDT"}, LoopConfig{Interval: time.Hour})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- l.Run(ctx) }()
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop")
		}
	})
}

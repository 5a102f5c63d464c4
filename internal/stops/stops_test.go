package stops

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"quorum/internal/decision"
)

type staticATR map[string]float64

func (s staticATR) ATR(symbol string) (float64, bool) {
	v, ok := s[symbol]
	return v, ok
}

func TestAtrStopAndTakeProfit(t *testing.T) {
	assert.Equal(t, 97.0, AtrStop(decision.ActionLong, 100, 2, 1.5))
	assert.Equal(t, 103.0, AtrStop(decision.ActionShort, 100, 2, 1.5))
	assert.Equal(t, 106.0, AtrTakeProfit(decision.ActionLong, 100, 2, 3))
	assert.Equal(t, 94.0, AtrTakeProfit(decision.ActionShort, 100, 2, 3))
	assert.Equal(t, 100.0, AtrStop(decision.ActionHold, 100, 2, 1.5))
	assert.Equal(t, 100.0, AtrTakeProfit(decision.ActionClose, 100, 2, 1.5))
	assert.True(t, math.IsNaN(AtrStop(decision.ActionLong, math.NaN(), 2, 1)))
}

func TestComputeStopLimit(t *testing.T) {
	assert.InDelta(t, 96.903, ComputeStopLimit(decision.ActionLong, 97, 0.001), 1e-9)
	assert.InDelta(t, 103.103, ComputeStopLimit(decision.ActionShort, 103, 0.001), 1e-9)
	assert.Equal(t, 97.0, ComputeStopLimit(decision.ActionHold, 97, 0.001))
}

func TestCalculator_Compute(t *testing.T) {
	calc := NewCalculator(Config{ATRMultiplier: 1.5, RewardRatio: 2, FallbackATRPct: 0.01}, staticATR{"BTCUSDT": 500})

	stop, take := calc.Compute("BTCUSDT", decision.ActionLong, 50000, 2)
	assert.Equal(t, 49000.0, stop)
	assert.Equal(t, 52000.0, take)

	// 无 ATR 缓存时使用 1% 价格
	stop, take = calc.Compute("ETHUSDT", decision.ActionShort, 2000, 1)
	assert.Equal(t, 2020.0, stop)
	assert.Equal(t, 1960.0, take)

	for _, price := range []float64{0.0001, 1, 123.45, 1e9} {
		for _, k := range []float64{0, 0.5, 3} {
			for _, act := range decision.Actions {
				s, tp := calc.Compute("X", act, price, k)
				assert.False(t, math.IsNaN(s) || math.IsInf(s, 0))
				assert.False(t, math.IsNaN(tp) || math.IsInf(tp, 0))
			}
		}
	}
}

func TestCalculator_Levels(t *testing.T) {
	calc := NewCalculator(Config{ATRMultiplier: 2, RewardRatio: 1.5, StopLimitOffsetPct: 0.01}, nil)
	lv := calc.Levels(decision.ActionLong, 100, 1)
	assert.Equal(t, 98.0, lv.StopLoss)
	assert.Equal(t, 103.0, lv.TakeProfit)
	assert.InDelta(t, 97.02, lv.StopLimit, 1e-9)

	lv = calc.Levels(decision.ActionShort, 100, 0)
	assert.Equal(t, 102.0, lv.StopLoss)
	assert.Equal(t, 97.0, lv.TakeProfit)
}

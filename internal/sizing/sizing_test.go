package sizing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"quorum/internal/decision"
	"quorum/internal/risk"
)

func isStepMultiple(qty, step float64) bool {
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	return q.Mod(s).IsZero()
}

func TestSizeByRisk(t *testing.T) {
	t.Run("basic", func(t *testing.T) {
		// 风险 100，距离 2 => 50
		r := SizeByRisk(decision.ActionLong, 100, 98, 10000, 7, 0.01, 0.001, 0.001)
		assert.Equal(t, 50.0, r.Qty)
		assert.Equal(t, 7.0, r.Leverage)
		assert.InDelta(t, 5000, r.Notional, 1e-9)
	})

	t.Run("monotone in risk pct", func(t *testing.T) {
		prev := -1.0
		for _, pct := range []float64{0.01, 0.02, 0.03, 0.04, 0.05} {
			r := SizeByRisk(decision.ActionShort, 3000, 3075.5, 25000, 10, pct, 0.01, 0.01)
			assert.GreaterOrEqual(t, r.Qty, prev, "pct=%v", pct)
			prev = r.Qty
		}
	})

	t.Run("zero distance", func(t *testing.T) {
		r := SizeByRisk(decision.ActionLong, 100, 100, 10000, 5, 0.02, 0.001, 0.01)
		assert.GreaterOrEqual(t, r.Qty, 0.01)
		assert.False(t, math.IsInf(r.Qty, 0))
	})

	t.Run("zero equity", func(t *testing.T) {
		r := SizeByRisk(decision.ActionLong, 100, 95, 0, 5, 0.02, 0.001, 0.01)
		assert.Equal(t, 0.0, r.Qty)
		assert.Equal(t, 5.0, r.Leverage)
	})

	t.Run("negative prices", func(t *testing.T) {
		r := SizeByRisk(decision.ActionLong, -100, -95, 1000, 5, 0.01, 0.1, 0.1)
		assert.GreaterOrEqual(t, r.Qty, 0.1)
		assert.False(t, math.IsNaN(r.Qty))
	})

	t.Run("huge equity clamps", func(t *testing.T) {
		r := SizeByRisk(decision.ActionLong, 100, 99.999999, math.MaxFloat64, 5, 1, 0.001, 0.001)
		assert.False(t, math.IsInf(r.Qty, 0))
		assert.LessOrEqual(t, r.Qty, MaxQty)
	})
}

func TestSizeByImCap(t *testing.T) {
	s := NewSizer(risk.NewImCapService(risk.DefaultBands()))

	for _, step := range []float64{0.001, 0.01, 0.1, 1, 0.5} {
		for _, price := range []float64{0.37, 27.3, 3012.77, 64000} {
			for _, mu := range []float64{0.1, 0.45, 0.72, 0.9} {
				r := s.SizeByImCap(10000, mu, 8000, 20, price, step, step)
				assert.GreaterOrEqual(t, r.Qty, step)
				assert.True(t, isStepMultiple(r.Qty, step), "qty=%v step=%v", r.Qty, step)
			}
		}
	}

	r := s.SizeByImCap(10000, 0.25, 8000, 10, 100, 0.001, 0.001)
	assert.Equal(t, risk.BandLow, r.RiskBand)
	assert.Equal(t, 10.0, r.Leverage)
	assert.InDelta(t, 320, r.Qty, 1e-9)

	// 价格无效时仍不低于 minQty，但 RawQty 暴露出上限其实为 0
	r = s.SizeByImCap(10000, 0.25, 8000, 10, 0, 0.01, 0.05)
	assert.Equal(t, 0.05, r.Qty)
	assert.Zero(t, r.RawQty)

	r = s.SizeByImCap(10000, 0.95, 0, 10, 100, 0.001, 0.001)
	assert.Equal(t, 0.001, r.Qty)
	assert.Zero(t, r.RawQty)
}

func TestStepQty(t *testing.T) {
	assert.Equal(t, 0.3, StepQty(0.3, 0.1, 0))
	assert.Equal(t, 1.23, StepQty(1.2399, 0.01, 0.01))
	assert.Equal(t, 0.02, StepQty(0.001, 0.01, 0.015))
	assert.Equal(t, 0.5, StepQty(math.NaN(), 0, 0.5))
	assert.Equal(t, MaxQty, StepQty(math.Inf(1), 0, 0))
}

func TestReduceQty(t *testing.T) {
	assert.Equal(t, 2.0, ReduceQty(2, nil, 0.001))
	half := -0.5
	assert.Equal(t, 1.0, ReduceQty(2, &half, 0.001))
	// 符号不影响比例
	quarter := 0.25
	assert.Equal(t, 0.5, ReduceQty(2, &quarter, 0.001))
	full := -1.0
	assert.Equal(t, 2.0, ReduceQty(2, &full, 0.001))
	zero := 0.0
	assert.Equal(t, 2.0, ReduceQty(2, &zero, 0.001))
	// 向下取整到步长
	third := -0.333
	assert.Equal(t, 0.66, ReduceQty(2, &third, 0.01))
	assert.Equal(t, 0.0, ReduceQty(0, nil, 0.001))
}

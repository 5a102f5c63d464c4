package market

import (
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"
)

// Candle 是一根 K 线，时间为毫秒时间戳。
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

const klineGrace = 10 * time.Second

// dropUnclosed 去掉仍在进行中的最后一根 K 线（Binance 会返回当前未收盘的那根）。
func dropUnclosed(klines []Candle, interval time.Duration, now time.Time) []Candle {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	cutoff := last.OpenTime + interval.Milliseconds() + klineGrace.Milliseconds()
	if now.UnixMilli() < cutoff {
		return klines[:len(klines)-1]
	}
	return klines
}

// ComputeATR 用 talib 计算 ATR 并返回最后一个有效值。
func ComputeATR(candles []Candle, period int) (float64, error) {
	if period <= 0 {
		period = 14
	}
	if len(candles) <= period {
		return 0, fmt.Errorf("atr: need more than %d candles, got %d", period, len(candles))
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	series := talib.Atr(highs, lows, closes, period)
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			continue
		}
		return v, nil
	}
	return 0, fmt.Errorf("atr series empty")
}

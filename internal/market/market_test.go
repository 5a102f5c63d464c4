package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
)

func flatCandles(n int, base, rng float64) []Candle {
	out := make([]Candle, n)
	for i := range out {
		out[i] = Candle{
			OpenTime: int64(i) * 3_600_000,
			Open:     base,
			High:     base + rng/2,
			Low:      base - rng/2,
			Close:    base,
		}
	}
	return out
}

func TestComputeATR(t *testing.T) {
	atr, err := ComputeATR(flatCandles(30, 100, 2), 14)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)

	_, err = ComputeATR(flatCandles(10, 100, 2), 14)
	assert.Error(t, err)
}

func TestDropUnclosed(t *testing.T) {
	hour := time.Hour
	candles := flatCandles(3, 100, 1)
	lastOpen := time.UnixMilli(candles[2].OpenTime)

	kept := dropUnclosed(candles, hour, lastOpen.Add(30*time.Minute))
	assert.Len(t, kept, 2)
	kept = dropUnclosed(candles, hour, lastOpen.Add(hour+time.Minute))
	assert.Len(t, kept, 3)
}

type fakeFeed struct {
	prices  map[string]float64
	candles []Candle
	klErr   error
}

func (f fakeFeed) MarkPrice(_ context.Context, sym string) (float64, error) {
	p, ok := f.prices[sym]
	if !ok {
		return 0, fmt.Errorf("no price for %s", sym)
	}
	return p, nil
}

func (f fakeFeed) Klines(context.Context, string, string, int) ([]Candle, error) {
	return f.candles, f.klErr
}

type fakeAccount struct {
	wallet exchange.Wallet
	pos    *exchange.Position
	err    error
}

func (a fakeAccount) WalletState(context.Context) (exchange.Wallet, error) { return a.wallet, a.err }
func (a fakeAccount) Position(context.Context, string) (*exchange.Position, error) {
	return a.pos, nil
}

func TestSnapshotSource(t *testing.T) {
	feed := fakeFeed{
		prices:  map[string]float64{"BTCUSDT": 65000, "USDCUSDT": 1.002},
		candles: flatCandles(42, 65000, 500),
	}

	t.Run("full snapshot", func(t *testing.T) {
		acct := fakeAccount{
			wallet: exchange.Wallet{Equity: 10000, FreeCollateral: 8000, MarginUtilization: 0.2},
			pos:    &exchange.Position{Symbol: "BTCUSDT", Side: exchange.SideSell, Size: 0.1, EntryPrice: 66000},
		}
		src := NewSnapshotSource(feed, acct, Config{ATRInterval: "1h", ATRPeriod: 14, StableSymbol: "USDCUSDT"})
		snap, err := src.Snapshot(context.Background(), "btc/usdt")
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", snap.Symbol)
		assert.Equal(t, 65000.0, snap.Price)
		assert.InDelta(t, 500, snap.ATR, 1e-6)
		assert.InDelta(t, 1/1.002, snap.StableRate, 1e-12)
		assert.Equal(t, 8000.0, snap.FreeCollateral)
		require.NotNil(t, snap.Position)
		assert.Equal(t, decision.ActionShort, snap.Position.Side)

		atr, ok := src.ATR("BTCUSDT")
		assert.True(t, ok)
		assert.InDelta(t, 500, atr, 1e-6)
	})

	t.Run("atr failure is tolerated", func(t *testing.T) {
		f := feed
		f.klErr = errors.New("klines down")
		src := NewSnapshotSource(f, exchange.PaperAccount{Equity: 5000}, Config{})
		snap, err := src.Snapshot(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Zero(t, snap.ATR)
		assert.Zero(t, snap.StableRate)
		assert.Nil(t, snap.Position)
		_, ok := src.ATR("BTCUSDT")
		assert.False(t, ok)
	})

	t.Run("wallet failure fails snapshot", func(t *testing.T) {
		src := NewSnapshotSource(feed, fakeAccount{err: errors.New("401")}, Config{})
		_, err := src.Snapshot(context.Background(), "BTCUSDT")
		assert.ErrorContains(t, err, "wallet state")
	})
}

func TestBinanceFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/premiumIndex":
			assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","markPrice":"3012.50","indexPrice":"3011.9","lastFundingRate":"0.0001","nextFundingTime":1,"time":1}`))
		case "/fapi/v1/klines":
			assert.Equal(t, "1h", r.URL.Query().Get("interval"))
			rows := make([]string, 0, 3)
			for i := 0; i < 3; i++ {
				rows = append(rows, fmt.Sprintf(`[%d,"100","102","99","101","10",%d,"1000",5,"5","500","0"]`, int64(i)*3_600_000, int64(i+1)*3_600_000-1))
			}
			_, _ = w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	feed := NewBinanceFeed(srv.URL, time.Second)
	price, err := feed.MarkPrice(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.Equal(t, 3012.5, price)

	candles, err := feed.Klines(context.Background(), "ETHUSDT", "1H", 50)
	require.NoError(t, err)
	require.Len(t, candles, 3) // 均为历史 K 线，已收盘
	assert.Equal(t, 102.0, candles[0].High)
	assert.Equal(t, 99.0, candles[0].Low)
}

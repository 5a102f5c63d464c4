package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"quorum/internal/pkg/symbol"
	"quorum/internal/scheduler"
)

const maxKlineLimit = 1500

// BinanceFeed 通过 go-binance 读取 U 本位合约的公开行情，不需要密钥。
type BinanceFeed struct {
	client *futures.Client
	now    func() time.Time
}

func NewBinanceFeed(baseURL string, timeout time.Duration) *BinanceFeed {
	client := futures.NewClient("", "")
	if u := strings.TrimSpace(baseURL); u != "" {
		client.BaseURL = strings.TrimRight(u, "/")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceFeed{client: client, now: time.Now}
}

// MarkPrice 返回标记价格。
func (b *BinanceFeed) MarkPrice(ctx context.Context, sym string) (float64, error) {
	contract := symbol.Contract(sym)
	if contract == "" {
		return 0, fmt.Errorf("invalid symbol: %q", sym)
	}
	res, err := b.client.NewPremiumIndexService().Symbol(contract).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("premium index %s: %w", contract, err)
	}
	for _, entry := range res {
		if entry == nil || !strings.EqualFold(entry.Symbol, contract) {
			continue
		}
		if p := parseFloat(entry.MarkPrice); p > 0 {
			return p, nil
		}
	}
	return 0, fmt.Errorf("mark price not available for %s", contract)
}

// Klines 返回已收盘的 K 线。
func (b *BinanceFeed) Klines(ctx context.Context, sym, interval string, limit int) ([]Candle, error) {
	contract := symbol.Contract(sym)
	if contract == "" {
		return nil, fmt.Errorf("invalid symbol: %q", sym)
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	kls, err := b.client.NewKlinesService().Symbol(contract).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", contract, interval, err)
	}
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = dropUnclosed(out, dur, b.now().UTC())
	}
	return out, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// Package market 组装每个周期的行情与账户快照。
package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/logger"
	"quorum/internal/pkg/symbol"
)

// PriceFeed 是公开行情来源，BinanceFeed 实现了它。
type PriceFeed interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

type Config struct {
	ATRInterval  string
	ATRPeriod    int
	StableSymbol string // 例如 USDCUSDT，留空则不提供 StableRate
}

// SnapshotSource 每次调用都重新拉取行情与账户，只缓存最近一次 ATR 供止损计算兜底。
type SnapshotSource struct {
	feed    PriceFeed
	account exchange.AccountReader
	cfg     Config
	now     func() time.Time

	mu   sync.RWMutex
	atrs map[string]float64
}

func NewSnapshotSource(feed PriceFeed, account exchange.AccountReader, cfg Config) *SnapshotSource {
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if strings.TrimSpace(cfg.ATRInterval) == "" {
		cfg.ATRInterval = "1h"
	}
	return &SnapshotSource{
		feed:    feed,
		account: account,
		cfg:     cfg,
		now:     time.Now,
		atrs:    make(map[string]float64),
	}
}

// Snapshot 并发拉取价格、ATR、稳定币汇率、钱包与持仓。
// 价格或钱包失败则整体失败；ATR 与汇率失败只记录日志（ATR 由止损计算兜底）。
func (s *SnapshotSource) Snapshot(ctx context.Context, sym string) (decision.MarketSnapshot, error) {
	contract := symbol.Contract(sym)
	if contract == "" {
		return decision.MarketSnapshot{}, fmt.Errorf("invalid symbol: %q", sym)
	}
	var (
		price  float64
		atr    float64
		stable float64
		wallet exchange.Wallet
		pos    *exchange.Position
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		p, err := s.feed.MarkPrice(egCtx, contract)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	eg.Go(func() error {
		w, err := s.account.WalletState(egCtx)
		if err != nil {
			return fmt.Errorf("wallet state: %w", err)
		}
		wallet = w
		return nil
	})
	eg.Go(func() error {
		p, err := s.account.Position(egCtx, contract)
		if err != nil {
			return fmt.Errorf("position %s: %w", contract, err)
		}
		pos = p
		return nil
	})
	eg.Go(func() error {
		v, err := s.computeATR(egCtx, contract)
		if err != nil {
			logger.Warnf("[%s] ATR 计算失败: %v", contract, err)
			return nil
		}
		atr = v
		return nil
	})
	if stableSym := strings.TrimSpace(s.cfg.StableSymbol); stableSym != "" {
		eg.Go(func() error {
			p, err := s.feed.MarkPrice(egCtx, stableSym)
			if err != nil || p <= 0 {
				logger.Warnf("稳定币汇率 %s 获取失败: %v", stableSym, err)
				return nil
			}
			// USDC 以 USDT 计价，取倒数即 USDT 相对美元的价格
			stable = 1 / p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return decision.MarketSnapshot{}, err
	}
	if atr > 0 {
		s.mu.Lock()
		s.atrs[contract] = atr
		s.mu.Unlock()
	}

	snap := decision.MarketSnapshot{
		Symbol:            contract,
		Price:             price,
		ATR:               atr,
		Equity:            wallet.Equity,
		FreeCollateral:    wallet.FreeCollateral,
		MarginUtilization: wallet.MarginUtilization,
		StableRate:        stable,
		Timestamp:         s.now().UTC(),
	}
	if pos != nil && pos.Size > 0 {
		side := decision.ActionLong
		if pos.Side == exchange.SideSell {
			side = decision.ActionShort
		}
		snap.Position = &decision.PositionState{Side: side, Qty: pos.Size, EntryPrice: pos.EntryPrice}
	}
	return snap, nil
}

// ATR 返回最近一次成功计算的 ATR，实现 stops.ATRSource。
func (s *SnapshotSource) ATR(sym string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.atrs[symbol.Contract(sym)]
	return v, ok && v > 0
}

func (s *SnapshotSource) computeATR(ctx context.Context, contract string) (float64, error) {
	candles, err := s.feed.Klines(ctx, contract, s.cfg.ATRInterval, s.cfg.ATRPeriod*3)
	if err != nil {
		return 0, err
	}
	return ComputeATR(candles, s.cfg.ATRPeriod)
}

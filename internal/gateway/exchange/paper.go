package exchange

import (
	"context"
	"time"
)

// PaperAccount 在 dry_run 且未配置密钥时提供固定权益，无持仓。
type PaperAccount struct {
	Equity float64
}

func (p PaperAccount) WalletState(context.Context) (Wallet, error) {
	return Wallet{
		Equity:         p.Equity,
		FreeCollateral: p.Equity,
		UpdatedAt:      time.Now(),
	}, nil
}

func (p PaperAccount) Position(context.Context, string) (*Position, error) {
	return nil, nil
}

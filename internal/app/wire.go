//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"quorum/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config, opts builderOptions) (*App, error) {
	wire.Build(appSet)
	return nil, nil
}

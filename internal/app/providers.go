package app

import (
	"context"

	"github.com/google/wire"

	"quorum/internal/config"
)

// builderOptions 让 wire 能把可变参数选项当作一个依赖注入。
type builderOptions []AppBuilderOption

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

var appSet = wire.NewSet(
	provideAppBuilder,
	wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
	provideApp,
)

func provideAppBuilder(cfg *config.Config, opts builderOptions) *AppBuilder {
	return NewAppBuilder(cfg, opts...)
}

func provideApp(ctx context.Context, b appBuilderDeps) (*App, error) {
	return b.Build(ctx)
}

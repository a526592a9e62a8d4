package usage

import (
	"github.com/flightworks/mxengine/internal/config"
	"github.com/flightworks/mxengine/internal/usage/service"
	"go.uber.org/fx"
)

func provideConfig(cfg config.Config) service.Config {
	return service.Config{GraceWindow: cfg.UsageGraceWindow}
}

var Module = fx.Module("usage.service",
	fx.Provide(
		provideConfig,
		service.NewService,
	),
)

package metrics

import (
	"github.com/flightworks/mxengine/internal/config"
	"go.uber.org/fx"
)

func provideConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.MetricsEnabled,
		ExporterEndpoint: cfg.MetricsEndpoint,
		ExporterProtocol: cfg.MetricsProtocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}

// Module wires the otel meter provider and engine instruments.
var Module = fx.Module("observability.metrics",
	fx.Provide(
		provideConfig,
		NewProvider,
		New,
	),
)

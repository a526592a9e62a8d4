package workorder

import (
	"github.com/flightworks/mxengine/internal/workorder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("workorder.service",
	fx.Provide(
		service.NewService,
	),
)

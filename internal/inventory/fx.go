package inventory

import (
	"github.com/flightworks/mxengine/internal/inventory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(
		service.NewService,
	),
)

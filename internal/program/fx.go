package program

import (
	"github.com/flightworks/mxengine/internal/program/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("program.repository",
	fx.Provide(repository.NewRepository),
)

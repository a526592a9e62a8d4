package releasegate

import "go.uber.org/fx"

var Module = fx.Module("releasegate",
	fx.Provide(
		NewGate,
	),
)

package events

import "go.uber.org/fx"

// Module provides the shared event hub.
var Module = fx.Module("events",
	fx.Provide(NewHub),
)

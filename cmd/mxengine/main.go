package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/flightworks/mxengine/internal/clock"
	"github.com/flightworks/mxengine/internal/compliance"
	"github.com/flightworks/mxengine/internal/config"
	"github.com/flightworks/mxengine/internal/events"
	"github.com/flightworks/mxengine/internal/inventory"
	"github.com/flightworks/mxengine/internal/logger"
	"github.com/flightworks/mxengine/internal/migration"
	obsmetrics "github.com/flightworks/mxengine/internal/observability/metrics"
	"github.com/flightworks/mxengine/internal/program"
	"github.com/flightworks/mxengine/internal/releasegate"
	"github.com/flightworks/mxengine/internal/scheduler"
	"github.com/flightworks/mxengine/internal/server"
	"github.com/flightworks/mxengine/internal/telemetry"
	"github.com/flightworks/mxengine/internal/usage"
	"github.com/flightworks/mxengine/internal/workorder"
	"github.com/flightworks/mxengine/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,
		events.Module,
		obsmetrics.Module,
		telemetry.Module,

		program.Module,
		usage.Module,
		compliance.Module,
		inventory.Module,
		releasegate.Module,
		workorder.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

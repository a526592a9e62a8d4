package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	"github.com/flightworks/mxengine/internal/config"
	invdomain "github.com/flightworks/mxengine/internal/inventory/domain"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// sqlite and mysql are dev/test setups; the embedded SQL is
			// postgres-flavored.
			return autoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&usagedomain.UsageEvent{},
		&usagedomain.UsageSnapshot{},
		&programdomain.MaintenanceTrigger{},
		&programdomain.TriggerThreshold{},
		&programdomain.TaskTemplate{},
		&compliancedomain.ComplianceStatus{},
		&workorderdomain.WorkOrder{},
		&workorderdomain.Task{},
		&workorderdomain.ReservationRef{},
		&invdomain.InventoryItem{},
		&invdomain.StockMovement{},
		&invdomain.Reservation{},
	)
}

package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flightworks/mxengine/internal/clock"
	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	complianceservice "github.com/flightworks/mxengine/internal/compliance/service"
	"github.com/flightworks/mxengine/internal/events"
	invdomain "github.com/flightworks/mxengine/internal/inventory/domain"
	inventoryservice "github.com/flightworks/mxengine/internal/inventory/service"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	programrepository "github.com/flightworks/mxengine/internal/program/repository"
	"github.com/flightworks/mxengine/internal/releasegate"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	usageservice "github.com/flightworks/mxengine/internal/usage/service"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
	workorderservice "github.com/flightworks/mxengine/internal/workorder/service"
)

type schedulerFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	usage     usagedomain.Service
	inventory invdomain.Service
	orders    workorderdomain.Service
	sched     *Scheduler
}

func setupScheduler(t *testing.T) *schedulerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
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
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	programs := programrepository.NewRepository(programrepository.Params{DB: db})
	usageSvc := usageservice.NewService(usageservice.ServiceParam{DB: db, Log: log, GenID: node})
	inventorySvc := inventoryservice.NewService(inventoryservice.ServiceParam{DB: db, Log: log, GenID: node})
	complianceSvc := complianceservice.NewService(complianceservice.ServiceParam{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fakeClock,
		UsageSvc:    usageSvc,
		ProgramRepo: programs,
	})
	gate := releasegate.NewGate(releasegate.GateParam{DB: db, Log: log, Compliance: complianceSvc})
	orders := workorderservice.NewService(workorderservice.ServiceParam{
		DB:         db,
		Log:        log,
		GenID:      node,
		Programs:   programs,
		Usage:      usageSvc,
		Inventory:  inventorySvc,
		Compliance: complianceSvc,
		Gate:       gate,
	})

	sched, err := New(Params{
		DB:            db,
		Log:           log,
		Clock:         fakeClock,
		ComplianceSvc: complianceSvc,
		WorkOrderSvc:  orders,
		InventorySvc:  inventorySvc,
		Programs:      programs,
	})
	require.NoError(t, err)

	return &schedulerFixture{
		db:        db,
		node:      node,
		clock:     fakeClock,
		usage:     usageSvc,
		inventory: inventorySvc,
		orders:    orders,
		sched:     sched,
	}
}

func (f *schedulerFixture) createTrigger(t *testing.T, code string, metric programdomain.Metric, interval, tolerance float64, templates ...programdomain.TaskTemplate) *programdomain.MaintenanceTrigger {
	t.Helper()
	trigger := &programdomain.MaintenanceTrigger{
		ID:          f.node.Generate(),
		ProgramID:   f.node.Generate(),
		Code:        code,
		SubjectKind: usagedomain.SubjectKindAircraft,
		Active:      true,
	}
	require.NoError(t, f.db.Create(trigger).Error)
	require.NoError(t, f.db.Create(&programdomain.TriggerThreshold{
		ID:             f.node.Generate(),
		TriggerID:      trigger.ID,
		Metric:         metric,
		IntervalValue:  interval,
		ToleranceValue: tolerance,
	}).Error)
	for i := range templates {
		templates[i].ID = f.node.Generate()
		templates[i].TriggerID = trigger.ID
		require.NoError(t, f.db.Create(&templates[i]).Error)
	}
	return trigger
}

func (f *schedulerFixture) recordFlight(t *testing.T, subject snowflake.ID, minutes int64) {
	t.Helper()
	_, err := f.usage.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		SubjectID:          subject.String(),
		SubjectKind:        usagedomain.SubjectKindAircraft,
		EventTime:          f.clock.Now(),
		DeltaFlightMinutes: minutes,
		DeltaCycles:        1,
	})
	require.NoError(t, err)
}

func TestNewRequiresAllDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDispatchUsageChangedEvaluatesCompliance(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()
	subject := f.node.Generate()
	f.createTrigger(t, "CHK-100H", programdomain.MetricFlightHours, 100, 5)
	f.recordFlight(t, subject, 600)

	f.sched.Dispatch(ctx, events.Event{Topic: events.TopicUsageChanged, SubjectID: subject})

	var statuses []compliancedomain.ComplianceStatus
	require.NoError(t, f.db.Where("subject_id = ?", subject).Find(&statuses).Error)
	require.Len(t, statuses, 1)
	assert.Equal(t, compliancedomain.StateGood, statuses[0].State)
}

func TestDispatchTriggerFiredOpensOneScheduledOrder(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()
	subject := f.node.Generate()
	trigger := f.createTrigger(t, "CHK-200H", programdomain.MetricFlightHours, 200, 10,
		programdomain.TaskTemplate{Seq: 1, Description: "replace filter", Required: true},
	)
	f.recordFlight(t, subject, 60)

	fired := events.Event{Topic: events.TopicTriggerFired, SubjectID: subject, TriggerID: trigger.ID}
	f.sched.Dispatch(ctx, fired)
	// Redelivery of the same fire event must not double-book the work.
	f.sched.Dispatch(ctx, fired)

	orders, err := f.orders.ListByAircraft(ctx, subject.String())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, workorderdomain.OrderTypeScheduled, orders[0].Type)
	assert.Equal(t, workorderdomain.StatusOpen, orders[0].Status)
	require.Len(t, orders[0].Tasks, 1)
}

func TestCalendarSweepOnlyRunsWithCalendarTriggers(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()
	subject := f.node.Generate()
	f.createTrigger(t, "CHK-100H", programdomain.MetricFlightHours, 100, 5)
	f.recordFlight(t, subject, 60)

	// Hour-based triggers only advance with usage; the sweep stays idle.
	require.NoError(t, f.sched.RunCalendarSweep(ctx))
	var count int64
	require.NoError(t, f.db.Model(&compliancedomain.ComplianceStatus{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// The first sweep after a calendar trigger appears enters the subject
	// into the program; later sweeps advance it with wall time alone.
	calendar := f.createTrigger(t, "CHK-30D", programdomain.MetricCalendarDays, 30, 3)
	require.NoError(t, f.sched.RunCalendarSweep(ctx))
	var statuses []compliancedomain.ComplianceStatus
	require.NoError(t, f.db.Where("subject_id = ?", subject).Find(&statuses).Error)
	require.Len(t, statuses, 2)

	f.clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, f.sched.RunCalendarSweep(ctx))

	var status compliancedomain.ComplianceStatus
	require.NoError(t, f.db.Where("subject_id = ? AND trigger_id = ?", subject, calendar.ID).First(&status).Error)
	assert.Equal(t, programdomain.MetricCalendarDays, status.Metric)
	assert.True(t, status.State.Due())
}

func TestInventoryReconcileToleratesMismatch(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()
	require.NoError(t, f.inventory.Receive(ctx, "PN-900", "MAIN", 6))

	require.NoError(t, f.sched.RunInventoryReconcile(ctx))

	// A tampered projection is an alarm for the reconciler, not a job
	// failure; the sweep keeps running.
	require.NoError(t, f.db.Model(&invdomain.InventoryItem{}).
		Where("part_number = ?", "PN-900").
		Update("quantity_on_hand", 9).Error)
	require.NoError(t, f.sched.RunInventoryReconcile(ctx))
}

func TestNilLockerRunsJobsLocally(t *testing.T) {
	var locker *Locker
	token, ok, err := locker.TryLock(context.Background(), "mxengine:jobs:test", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, locker.Release(context.Background(), "mxengine:jobs:test", token))
}

package releasegate

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
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	programrepository "github.com/flightworks/mxengine/internal/program/repository"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	usageservice "github.com/flightworks/mxengine/internal/usage/service"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

type gateFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	usage usagedomain.Service
	gate  *Gate
}

func setupGate(t *testing.T) *gateFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&usagedomain.UsageEvent{},
		&usagedomain.UsageSnapshot{},
		&programdomain.MaintenanceTrigger{},
		&programdomain.TriggerThreshold{},
		&compliancedomain.ComplianceStatus{},
		&workorderdomain.WorkOrder{},
		&workorderdomain.Task{},
		&workorderdomain.ReservationRef{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	usageSvc := usageservice.NewService(usageservice.ServiceParam{DB: db, Log: log, GenID: node})
	complianceSvc := complianceservice.NewService(complianceservice.ServiceParam{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		UsageSvc:    usageSvc,
		ProgramRepo: programrepository.NewRepository(programrepository.Params{DB: db}),
		Hub:         events.NewHub(),
	})
	gate := NewGate(GateParam{DB: db, Log: log, Compliance: complianceSvc})

	return &gateFixture{db: db, node: node, usage: usageSvc, gate: gate}
}

func (f *gateFixture) createOrder(t *testing.T, order *workorderdomain.WorkOrder) *workorderdomain.WorkOrder {
	t.Helper()
	if order.ID == 0 {
		order.ID = f.node.Generate()
	}
	if order.AircraftID == 0 {
		order.AircraftID = f.node.Generate()
	}
	if order.Type == "" {
		order.Type = workorderdomain.OrderTypeUnscheduled
	}
	if order.Priority == "" {
		order.Priority = workorderdomain.PriorityNormal
	}
	if order.Version == 0 {
		order.Version = 1
	}
	for i := range order.Tasks {
		order.Tasks[i].ID = f.node.Generate()
		order.Tasks[i].WorkOrderID = order.ID
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func TestCanReleaseCollectsEveryViolation(t *testing.T) {
	f := setupGate(t)
	mechanic := "amt-17"

	order := f.createOrder(t, &workorderdomain.WorkOrder{
		Status: workorderdomain.StatusInProgress,
		Tasks: []workorderdomain.Task{
			{Seq: 1, Required: true, Status: workorderdomain.TaskStatusPending},
			{Seq: 2, Required: true, IsRII: true, Status: workorderdomain.TaskStatusDone, CompletedBy: &mechanic, InspectedBy: &mechanic},
		},
	})

	err := f.gate.CanRelease(context.Background(), order.ID)
	var blocked *ReleaseBlockedError
	require.ErrorAs(t, err, &blocked)
	// Status, undone required task, and the self-inspected signature all
	// surface in one pass.
	assert.Len(t, blocked.Reasons, 3)
}

func TestCanReleasePassesCleanOrder(t *testing.T) {
	f := setupGate(t)
	mechanic := "amt-17"
	inspector := "insp-04"

	order := f.createOrder(t, &workorderdomain.WorkOrder{
		Status: workorderdomain.StatusCompleted,
		Tasks: []workorderdomain.Task{
			{Seq: 1, Required: true, Status: workorderdomain.TaskStatusDone, CompletedBy: &mechanic},
			{Seq: 2, Required: true, IsRII: true, Status: workorderdomain.TaskStatusDone, CompletedBy: &mechanic, InspectedBy: &inspector},
		},
	})

	assert.NoError(t, f.gate.CanRelease(context.Background(), order.ID))
}

func TestCanReleaseBlocksOnLiveSibling(t *testing.T) {
	f := setupGate(t)
	mechanic := "amt-17"
	aircraft := f.node.Generate()

	order := f.createOrder(t, &workorderdomain.WorkOrder{
		AircraftID: aircraft,
		Status:     workorderdomain.StatusCompleted,
		Tasks: []workorderdomain.Task{
			{Seq: 1, Required: true, Status: workorderdomain.TaskStatusDone, CompletedBy: &mechanic},
		},
	})
	sibling := f.createOrder(t, &workorderdomain.WorkOrder{
		AircraftID: aircraft,
		Status:     workorderdomain.StatusInProgress,
		Tasks: []workorderdomain.Task{
			{Seq: 1, Required: true, Status: workorderdomain.TaskStatusPending},
		},
	})

	err := f.gate.CanRelease(context.Background(), order.ID)
	var blocked *ReleaseBlockedError
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Reasons, 1)
	assert.Contains(t, blocked.Reasons[0], sibling.ID.String())

	// A released or cancelled sibling does not block, and neither does one
	// marked safe to run through the release.
	require.NoError(t, f.db.Model(sibling).Update("status", workorderdomain.StatusCancelled).Error)
	assert.NoError(t, f.gate.CanRelease(context.Background(), order.ID))

	f.createOrder(t, &workorderdomain.WorkOrder{
		AircraftID:     aircraft,
		Status:         workorderdomain.StatusOpen,
		ConcurrentSafe: true,
		Tasks: []workorderdomain.Task{
			{Seq: 1, Required: true, Status: workorderdomain.TaskStatusPending},
		},
	})
	assert.NoError(t, f.gate.CanRelease(context.Background(), order.ID))
}

func TestCanReleaseChecksHypotheticalCompliance(t *testing.T) {
	f := setupGate(t)
	ctx := context.Background()
	mechanic := "amt-17"
	aircraft := f.node.Generate()

	trigger := &programdomain.MaintenanceTrigger{
		ID:          f.node.Generate(),
		ProgramID:   f.node.Generate(),
		Code:        "CHK-10C",
		SubjectKind: usagedomain.SubjectKindAircraft,
		Active:      true,
	}
	require.NoError(t, f.db.Create(trigger).Error)
	require.NoError(t, f.db.Create(&programdomain.TriggerThreshold{
		ID:             f.node.Generate(),
		TriggerID:      trigger.ID,
		Metric:         programdomain.MetricCycles,
		IntervalValue:  10,
		ToleranceValue: 1,
	}).Error)

	// 15 cycles flown: overdue now, but a fresh baseline would be GOOD, so
	// the hypothetical check passes.
	for i := 0; i < 15; i++ {
		_, err := f.usage.RecordUsage(ctx, usagedomain.RecordUsageRequest{
			SubjectID:   aircraft.String(),
			SubjectKind: usagedomain.SubjectKindAircraft,
			EventTime:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			DeltaCycles: 1,
		})
		require.NoError(t, err)
	}

	order := f.createOrder(t, &workorderdomain.WorkOrder{
		AircraftID: aircraft,
		Status:     workorderdomain.StatusCompleted,
		TriggerID:  &trigger.ID,
		Tasks: []workorderdomain.Task{
			{Seq: 1, Required: true, Status: workorderdomain.TaskStatusDone, CompletedBy: &mechanic},
		},
	})
	assert.NoError(t, f.gate.CanRelease(ctx, order.ID))
}

func TestCanReleaseUnknownOrder(t *testing.T) {
	f := setupGate(t)
	err := f.gate.CanRelease(context.Background(), f.node.Generate())
	assert.ErrorIs(t, err, workorderdomain.ErrOrderNotFound)
}

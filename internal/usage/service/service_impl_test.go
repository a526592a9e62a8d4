package service

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

	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
)

func setupUsageService(t *testing.T) (usagedomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageEvent{}, &usagedomain.UsageSnapshot{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	return svc, db, node
}

func recordReq(subjectID snowflake.ID, at time.Time, minutes, cycles int64) usagedomain.RecordUsageRequest {
	return usagedomain.RecordUsageRequest{
		SubjectID:          subjectID.String(),
		SubjectKind:        usagedomain.SubjectKindAircraft,
		EventTime:          at,
		DeltaFlightMinutes: minutes,
		DeltaCycles:        cycles,
	}
}

func TestRecordUsageFoldsSnapshot(t *testing.T) {
	svc, _, node := setupUsageService(t)
	ctx := context.Background()
	subject := node.Generate()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := svc.RecordUsage(ctx, recordReq(subject, base, 120, 2))
	require.NoError(t, err)
	_, err = svc.RecordUsage(ctx, recordReq(subject, base.Add(4*time.Hour), 90, 1))
	require.NoError(t, err)

	snapshot, err := svc.GetSnapshot(ctx, subject.String())
	require.NoError(t, err)
	assert.Equal(t, int64(210), snapshot.TotalFlightMinutes)
	assert.Equal(t, int64(3), snapshot.TotalCycles)
	assert.Equal(t, int64(2), snapshot.AsOfSeq)
	assert.False(t, snapshot.Stale)
	assert.InDelta(t, 3.5, snapshot.TotalFlightHours(), 1e-9)
}

func TestRecordBatchMatchesSequentialFold(t *testing.T) {
	svc, _, node := setupUsageService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	sequential := node.Generate()
	batched := node.Generate()

	reqs := func(subject snowflake.ID) []usagedomain.RecordUsageRequest {
		return []usagedomain.RecordUsageRequest{
			recordReq(subject, base, 60, 1),
			recordReq(subject, base.Add(time.Hour), 45, 1),
			recordReq(subject, base.Add(2*time.Hour), -15, 0),
		}
	}

	for _, req := range reqs(sequential) {
		_, err := svc.RecordUsage(ctx, req)
		require.NoError(t, err)
	}
	_, err := svc.RecordBatch(ctx, reqs(batched))
	require.NoError(t, err)

	first, err := svc.GetSnapshot(ctx, sequential.String())
	require.NoError(t, err)
	second, err := svc.GetSnapshot(ctx, batched.String())
	require.NoError(t, err)

	assert.Equal(t, first.TotalFlightMinutes, second.TotalFlightMinutes)
	assert.Equal(t, first.TotalCycles, second.TotalCycles)
	assert.Equal(t, first.AsOfSeq, second.AsOfSeq)
}

func TestBackdatedEventBeyondGraceIsFlagged(t *testing.T) {
	svc, _, node := setupUsageService(t)
	ctx := context.Background()
	subject := node.Generate()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := svc.RecordUsage(ctx, recordReq(subject, base, 60, 1))
	require.NoError(t, err)

	// Fold once so the snapshot watermark is established.
	_, err = svc.GetSnapshot(ctx, subject.String())
	require.NoError(t, err)

	// Within the grace window: accepted quietly.
	inGrace, err := svc.RecordUsage(ctx, recordReq(subject, base.Add(-24*time.Hour), 30, 0))
	require.NoError(t, err)
	assert.False(t, inGrace.RequiresRecompute)

	// Beyond the grace window: accepted, flagged for a forced refold.
	late, err := svc.RecordUsage(ctx, recordReq(subject, base.Add(-96*time.Hour), 30, 0))
	require.NoError(t, err)
	assert.True(t, late.RequiresRecompute)

	// The fold still counts the late event.
	snapshot, err := svc.GetSnapshot(ctx, subject.String())
	require.NoError(t, err)
	assert.Equal(t, int64(120), snapshot.TotalFlightMinutes)
	assert.Equal(t, int64(3), snapshot.AsOfSeq)
}

func TestFoldCatchesAppendLandingMidFold(t *testing.T) {
	svc, db, node := setupUsageService(t)
	ctx := context.Background()
	subject := node.Generate()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := svc.RecordUsage(ctx, recordReq(subject, base, 60, 1))
	require.NoError(t, err)

	// Slip a second event in between the fold's event read and its snapshot
	// write; a fold that trusts its first read would publish stale=false
	// totals that miss it.
	injected := false
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("inject_event", func(tx *gorm.DB) {
		if injected || tx.Statement.Table != "usage_snapshots" {
			return
		}
		injected = true
		tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO usage_events (id, subject_id, subject_kind, seq, event_time, delta_flight_minutes, delta_cycles, flight_log_id, requires_recompute, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			node.Generate(), subject, string(usagedomain.SubjectKindAircraft), 2,
			base.Add(time.Hour), 30, 1, "", false, time.Now().UTC(),
		)
	}))
	defer db.Callback().Update().Remove("inject_event")

	snapshot, err := svc.GetSnapshot(ctx, subject.String())
	require.NoError(t, err)
	assert.Equal(t, int64(90), snapshot.TotalFlightMinutes)
	assert.Equal(t, int64(2), snapshot.TotalCycles)
	assert.Equal(t, int64(2), snapshot.AsOfSeq)
	assert.False(t, snapshot.Stale)
}

func TestRecordUsageValidation(t *testing.T) {
	svc, _, node := setupUsageService(t)
	ctx := context.Background()
	subject := node.Generate()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := svc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		SubjectID:          "not-a-subject",
		SubjectKind:        usagedomain.SubjectKindAircraft,
		EventTime:          base,
		DeltaFlightMinutes: 60,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidSubject)

	_, err = svc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		SubjectID:   subject.String(),
		SubjectKind: "ENGINE_STAND",
		EventTime:   base,
		DeltaCycles: 1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidSubjectKind)

	_, err = svc.RecordUsage(ctx, recordReq(subject, time.Time{}, 60, 0))
	assert.ErrorIs(t, err, usagedomain.ErrInvalidEventTime)

	_, err = svc.RecordUsage(ctx, recordReq(subject, base, 0, 0))
	assert.ErrorIs(t, err, usagedomain.ErrEmptyEvent)
}

func TestSubjectKindCannotChange(t *testing.T) {
	svc, _, node := setupUsageService(t)
	ctx := context.Background()
	subject := node.Generate()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := svc.RecordUsage(ctx, recordReq(subject, base, 60, 1))
	require.NoError(t, err)

	_, err = svc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		SubjectID:   subject.String(),
		SubjectKind: usagedomain.SubjectKindComponent,
		EventTime:   base.Add(time.Hour),
		DeltaCycles: 1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrSubjectKindChanged)
}

func TestListEventsInSeqOrder(t *testing.T) {
	svc, _, node := setupUsageService(t)
	ctx := context.Background()
	subject := node.Generate()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Declared times arrive out of order; Seq reflects arrival.
	_, err := svc.RecordUsage(ctx, recordReq(subject, base.Add(2*time.Hour), 60, 1))
	require.NoError(t, err)
	_, err = svc.RecordUsage(ctx, recordReq(subject, base, 30, 0))
	require.NoError(t, err)

	listed, err := svc.ListEvents(ctx, subject.String())
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, int64(1), listed[0].Seq)
	assert.Equal(t, int64(2), listed[1].Seq)
}

// Package scheduler runs the engine's background work: reacting to engine
// events, advancing calendar compliance with wall time, and auditing the
// inventory ledger.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flightworks/mxengine/internal/clock"
	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	"github.com/flightworks/mxengine/internal/events"
	invdomain "github.com/flightworks/mxengine/internal/inventory/domain"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	"github.com/flightworks/mxengine/internal/telemetry"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	ComplianceSvc compliancedomain.Service
	WorkOrderSvc  workorderdomain.Service
	InventorySvc  invdomain.Service
	Programs      programdomain.Repository

	Hub       *events.Hub        `optional:"true"`
	Locker    *Locker            `optional:"true"`
	Telemetry *telemetry.Metrics `optional:"true"`
	Config    Config             `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	complianceSvc compliancedomain.Service
	workOrderSvc  workorderdomain.Service
	inventorySvc  invdomain.Service
	programs      programdomain.Repository
	hub           *events.Hub
	locker        *Locker
	telemetry     *telemetry.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.ComplianceSvc == nil || p.WorkOrderSvc == nil || p.InventorySvc == nil || p.Programs == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		complianceSvc: p.ComplianceSvc,
		workOrderSvc:  p.WorkOrderSvc,
		inventorySvc:  p.InventorySvc,
		programs:      p.Programs,
		hub:           p.Hub,
		locker:        p.Locker,
		telemetry:     p.Telemetry,
	}, nil
}

// RunForever blocks until ctx is cancelled, draining engine events and firing
// the periodic jobs.
func (s *Scheduler) RunForever(ctx context.Context) {
	var eventsCh <-chan events.Event
	if s.hub != nil {
		sub := s.hub.Subscribe(events.TopicUsageChanged, events.TopicTriggerFired)
		defer sub.Close()
		eventsCh = sub.Events()
	}

	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	reconcile := time.NewTicker(s.cfg.ReconcileInterval)
	defer reconcile.Stop()

	s.log.Info("scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("reconcile_interval", s.cfg.ReconcileInterval),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case event := <-eventsCh:
			s.Dispatch(ctx, event)
		case <-sweep.C:
			s.runJob(ctx, "calendar-sweep", s.RunCalendarSweep)
		case <-reconcile.C:
			s.runJob(ctx, "inventory-reconcile", s.RunInventoryReconcile)
		}
	}
}

// runJob wraps one periodic job with the cross-replica lock and a timeout.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	key := "mxengine:jobs:" + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Error("job lock acquire failed", zap.String("job", name), zap.Error(err))
		return
	}
	if !ok {
		s.log.Debug("job held by another replica", zap.String("job", name))
		return
	}
	defer func() {
		if err := s.locker.Release(ctx, key, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	start := s.clock.Now()
	if err := fn(ctx); err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.log.Info("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", s.clock.Now().Sub(start)),
	)
}

// Dispatch reacts to one engine event. Usage changes re-evaluate compliance;
// fired triggers open a scheduled work order from the trigger's template.
func (s *Scheduler) Dispatch(ctx context.Context, event events.Event) {
	if s.telemetry != nil {
		s.telemetry.DispatchedEvents.WithLabelValues(event.Topic).Inc()
	}

	switch event.Topic {
	case events.TopicUsageChanged:
		if _, err := s.complianceSvc.Evaluate(ctx, event.SubjectID.String()); err != nil {
			s.log.Error("dispatch evaluate failed",
				zap.String("subject_id", event.SubjectID.String()),
				zap.Error(err),
			)
		}
	case events.TopicTriggerFired:
		_, err := s.workOrderSvc.Open(ctx, workorderdomain.OpenRequest{
			AircraftID: event.SubjectID.String(),
			Type:       workorderdomain.OrderTypeScheduled,
			TriggerID:  event.TriggerID.String(),
		})
		if err != nil {
			// A live order for this (aircraft, trigger) already covers the
			// fired requirement.
			if errors.Is(err, workorderdomain.ErrDuplicateOpenOrder) {
				return
			}
			s.log.Error("dispatch open work order failed",
				zap.String("subject_id", event.SubjectID.String()),
				zap.String("trigger_id", event.TriggerID.String()),
				zap.Error(err),
			)
		}
	}
}

// RunCalendarSweep re-evaluates every known subject when calendar triggers
// exist. Calendar margins shrink with wall time even when no usage event
// arrives, so nothing else would wake those subjects up.
func (s *Scheduler) RunCalendarSweep(ctx context.Context) error {
	if s.telemetry != nil {
		s.telemetry.SweepRuns.Inc()
	}

	calendarTriggers, err := s.programs.ListCalendarTriggerIDs(ctx)
	if err != nil {
		return err
	}
	if len(calendarTriggers) == 0 {
		return nil
	}

	var subjects []usagedomain.UsageSnapshot
	if err := s.db.WithContext(ctx).Select("subject_id").Find(&subjects).Error; err != nil {
		return err
	}
	for _, subject := range subjects {
		if _, err := s.complianceSvc.Evaluate(ctx, subject.SubjectID.String()); err != nil {
			s.log.Error("sweep evaluate failed",
				zap.String("subject_id", subject.SubjectID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// RunInventoryReconcile audits every item's projection against its ledger.
func (s *Scheduler) RunInventoryReconcile(ctx context.Context) error {
	results, err := s.inventorySvc.ReconcileAll(ctx)
	if err != nil && !errors.Is(err, invdomain.ErrLedgerFoldMismatch) {
		if s.telemetry != nil {
			s.telemetry.ReconcileRuns.WithLabelValues("error").Inc()
		}
		return err
	}

	outcome := "ok"
	for _, result := range results {
		if result.Match {
			continue
		}
		outcome = "mismatch"
		if s.telemetry != nil {
			s.telemetry.FoldMismatches.WithLabelValues(result.PartNumber).Inc()
		}
	}
	if s.telemetry != nil {
		s.telemetry.ReconcileRuns.WithLabelValues(outcome).Inc()
	}
	return nil
}

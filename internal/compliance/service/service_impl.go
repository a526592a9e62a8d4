package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flightworks/mxengine/internal/clock"
	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	"github.com/flightworks/mxengine/internal/events"
	obsmetrics "github.com/flightworks/mxengine/internal/observability/metrics"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	pkgdb "github.com/flightworks/mxengine/pkg/db"
	"github.com/flightworks/mxengine/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	UsageSvc    usagedomain.Service
	ProgramRepo programdomain.Repository
	Hub         *events.Hub         `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	usageSvc    usagedomain.Service
	programRepo programdomain.Repository
	statusRepo  repository.Repository[compliancedomain.ComplianceStatus]
	hub         *events.Hub
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) compliancedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("compliance.service"),

		genID:       p.GenID,
		clock:       p.Clock,
		usageSvc:    p.UsageSvc,
		programRepo: p.ProgramRepo,
		statusRepo:  repository.ProvideStore[compliancedomain.ComplianceStatus](p.DB),
		hub:         p.Hub,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Evaluate(ctx context.Context, subjectID string) ([]*compliancedomain.ComplianceStatus, error) {
	snapshot, err := s.usageSvc.GetSnapshot(ctx, subjectID)
	if err != nil {
		if errors.Is(err, usagedomain.ErrInvalidSubject) {
			return nil, compliancedomain.ErrSnapshotMissing
		}
		return nil, err
	}

	triggers, err := s.programRepo.ListActiveByKind(ctx, snapshot.SubjectKind)
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEvaluation(ctx)
	}

	statuses := make([]*compliancedomain.ComplianceStatus, 0, len(triggers))
	for _, trigger := range triggers {
		status, err := s.evaluateTrigger(ctx, snapshot, trigger)
		if err != nil {
			if errors.Is(err, compliancedomain.ErrNoThresholds) {
				s.log.Warn("trigger has no thresholds",
					zap.String("trigger_id", trigger.ID.String()),
				)
				continue
			}
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// evaluateTrigger recomputes one (subject, trigger) status. Fire events are
// edge-triggered on the item becoming due; re-evaluating an already-due item
// is silent.
func (s *Service) evaluateTrigger(
	ctx context.Context,
	snapshot *usagedomain.UsageSnapshot,
	trigger *programdomain.MaintenanceTrigger,
) (*compliancedomain.ComplianceStatus, error) {
	now := s.clock.Now()

	existing, err := s.statusRepo.FindOne(ctx, &compliancedomain.ComplianceStatus{
		SubjectID: snapshot.SubjectID,
		TriggerID: trigger.ID,
	})
	if err != nil {
		return nil, err
	}

	status := existing
	if status == nil {
		// First evaluation: life consumed counts from zero, calendar
		// intervals from entry into the program.
		status = &compliancedomain.ComplianceStatus{
			ID:         s.genID.Generate(),
			SubjectID:  snapshot.SubjectID,
			TriggerID:  trigger.ID,
			BaselineAt: now,
		}
	}

	binding, err := bindingThreshold(trigger.Thresholds, snapshot, status.BaselineFlightMinutes, status.BaselineCycles, status.BaselineAt, now)
	if err != nil {
		return nil, err
	}

	prevState := compliancedomain.State("")
	if existing != nil {
		prevState = existing.State
	}

	status.Metric = binding.metric
	status.DueAtMetricValue = binding.dueAt
	status.RemainingMargin = binding.margin
	status.State = binding.state
	status.AsOfSeq = snapshot.AsOfSeq
	status.UpdatedAt = now

	fired := binding.state.Due() && !prevState.Due()
	if fired {
		firedAt := now
		status.LastFiredAt = &firedAt
	}

	if existing == nil {
		if err := s.statusRepo.Create(ctx, status); err != nil {
			// A concurrent first evaluation won the unique (subject, trigger)
			// insert; re-read the winner's row and update it instead.
			if pkgdb.IsDuplicateKeyErr(err) {
				return s.evaluateTrigger(ctx, snapshot, trigger)
			}
			return nil, err
		}
	} else if err := s.persistUpdate(ctx, status); err != nil {
		return nil, err
	}

	if fired {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordTriggerFired(ctx, string(binding.metric))
		}
		if s.hub != nil {
			s.hub.Publish(events.Event{
				Topic:     events.TopicTriggerFired,
				SubjectID: snapshot.SubjectID,
				TriggerID: trigger.ID,
			})
		}
	}
	if prevState != binding.state && s.hub != nil {
		s.hub.Publish(events.Event{
			Topic:     events.TopicComplianceChanged,
			SubjectID: snapshot.SubjectID,
			TriggerID: trigger.ID,
			Payload: map[string]any{
				"previous_state": string(prevState),
				"state":          string(binding.state),
			},
		})
	}

	return status, nil
}

func (s *Service) persistUpdate(ctx context.Context, status *compliancedomain.ComplianceStatus) error {
	fields := map[string]any{
		"metric":              status.Metric,
		"due_at_metric_value": status.DueAtMetricValue,
		"remaining_margin":    status.RemainingMargin,
		"state":               status.State,
		"as_of_seq":           status.AsOfSeq,
		"last_fired_at":       status.LastFiredAt,
		"updated_at":          status.UpdatedAt,
	}
	return s.db.WithContext(ctx).
		Model(&compliancedomain.ComplianceStatus{}).
		Where("id = ?", status.ID).
		Updates(fields).Error
}

func (s *Service) Rebaseline(ctx context.Context, subjectID, triggerID snowflake.ID) error {
	if subjectID == 0 {
		return compliancedomain.ErrInvalidSubject
	}
	if triggerID == 0 {
		return compliancedomain.ErrInvalidTrigger
	}

	snapshot, err := s.usageSvc.GetSnapshot(ctx, subjectID.String())
	if err != nil {
		return err
	}
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		statusRepo := s.statusRepo.WithTrx(tx)
		existing, err := statusRepo.FindOne(ctx, &compliancedomain.ComplianceStatus{
			SubjectID: subjectID,
			TriggerID: triggerID,
		})
		if err != nil {
			return err
		}
		if existing == nil {
			return statusRepo.Create(ctx, &compliancedomain.ComplianceStatus{
				ID:                    s.genID.Generate(),
				SubjectID:             subjectID,
				TriggerID:             triggerID,
				BaselineFlightMinutes: snapshot.TotalFlightMinutes,
				BaselineCycles:        snapshot.TotalCycles,
				BaselineAt:            now,
				AsOfSeq:               snapshot.AsOfSeq,
				State:                 compliancedomain.StateGood,
				UpdatedAt:             now,
			})
		}
		return tx.Model(&compliancedomain.ComplianceStatus{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"baseline_flight_minutes": snapshot.TotalFlightMinutes,
				"baseline_cycles":         snapshot.TotalCycles,
				"baseline_at":             now,
				"updated_at":              now,
			}).Error
	})
	if err != nil {
		return err
	}

	// Recompute margins against the fresh baseline.
	trigger, err := s.programRepo.GetTrigger(ctx, triggerID)
	if err != nil {
		return err
	}
	_, err = s.evaluateTrigger(ctx, snapshot, trigger)
	return err
}

func (s *Service) EvaluateHypothetical(ctx context.Context, subjectID, triggerID snowflake.ID) (compliancedomain.State, error) {
	if subjectID == 0 {
		return "", compliancedomain.ErrInvalidSubject
	}
	snapshot, err := s.usageSvc.GetSnapshot(ctx, subjectID.String())
	if err != nil {
		return "", err
	}
	trigger, err := s.programRepo.GetTrigger(ctx, triggerID)
	if err != nil {
		return "", err
	}

	// Baseline moved to the current snapshot: the classification the
	// subject would hold the moment the outstanding work is signed off.
	binding, err := bindingThreshold(trigger.Thresholds, snapshot,
		snapshot.TotalFlightMinutes, snapshot.TotalCycles, s.clock.Now(), s.clock.Now())
	if err != nil {
		return "", err
	}
	return binding.state, nil
}

func (s *Service) List(ctx context.Context, subjectID string) ([]*compliancedomain.ComplianceStatus, error) {
	id, err := snowflake.ParseString(subjectID)
	if err != nil || id == 0 {
		return nil, compliancedomain.ErrInvalidSubject
	}
	return s.statusRepo.Find(ctx, &compliancedomain.ComplianceStatus{SubjectID: id})
}

// thresholdResult is one threshold's computed standing.
type thresholdResult struct {
	metric    programdomain.Metric
	dueAt     float64
	margin    float64
	tolerance float64
	state     compliancedomain.State
}

// bindingThreshold picks the threshold that crossed (or will cross) first:
// the most severe state wins, ties broken by the smaller margin-to-tolerance
// ratio.
func bindingThreshold(
	thresholds []programdomain.TriggerThreshold,
	snapshot *usagedomain.UsageSnapshot,
	baselineMinutes, baselineCycles int64,
	baselineAt, now time.Time,
) (thresholdResult, error) {
	var binding *thresholdResult
	for _, threshold := range thresholds {
		current, baseline, err := metricValues(threshold.Metric, snapshot, baselineMinutes, baselineCycles, baselineAt, now)
		if err != nil {
			continue
		}
		dueAt := baseline + threshold.IntervalValue
		margin := dueAt - current
		result := thresholdResult{
			metric:    threshold.Metric,
			dueAt:     dueAt,
			margin:    margin,
			tolerance: threshold.ToleranceValue,
			state:     compliancedomain.Classify(margin, threshold.ToleranceValue),
		}
		if binding == nil || firesBefore(result, *binding) {
			r := result
			binding = &r
		}
	}
	if binding == nil {
		return thresholdResult{}, compliancedomain.ErrNoThresholds
	}
	return *binding, nil
}

func firesBefore(a, b thresholdResult) bool {
	if a.state != b.state {
		return a.state.MoreSevereThan(b.state)
	}
	return marginRatio(a) < marginRatio(b)
}

func marginRatio(r thresholdResult) float64 {
	if r.tolerance > 0 {
		return r.margin / r.tolerance
	}
	return r.margin
}

func metricValues(
	metric programdomain.Metric,
	snapshot *usagedomain.UsageSnapshot,
	baselineMinutes, baselineCycles int64,
	baselineAt, now time.Time,
) (current, baseline float64, err error) {
	switch metric {
	case programdomain.MetricFlightHours:
		return snapshot.TotalFlightHours(), float64(baselineMinutes) / 60.0, nil
	case programdomain.MetricCycles:
		return float64(snapshot.TotalCycles), float64(baselineCycles), nil
	case programdomain.MetricCalendarDays:
		return now.Sub(baselineAt).Hours() / 24.0, 0, nil
	default:
		return 0, 0, compliancedomain.ErrUnknownMetric
	}
}

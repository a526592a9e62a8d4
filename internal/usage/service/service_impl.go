package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flightworks/mxengine/internal/events"
	obsmetrics "github.com/flightworks/mxengine/internal/observability/metrics"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	pkgdb "github.com/flightworks/mxengine/pkg/db"
	"github.com/flightworks/mxengine/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// seqRetries bounds the append retry loop when two writers race on the same
// subject's sequence number.
const seqRetries = 3

// Config tunes the ledger's out-of-order handling.
type Config struct {
	// GraceWindow is how far an event's declared time may predate the
	// snapshot watermark before the event is flagged for a forced refold.
	GraceWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 72 * time.Hour
	}
	return c
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Hub        *events.Hub         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	cfg        Config
	hub        *events.Hub
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		cfg:        p.Config.withDefaults(),
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageEvent, error) {
	subjectID, err := parseSubjectID(req.SubjectID)
	if err != nil {
		return nil, err
	}
	if req.SubjectKind != usagedomain.SubjectKindAircraft && req.SubjectKind != usagedomain.SubjectKindComponent {
		return nil, usagedomain.ErrInvalidSubjectKind
	}
	if req.EventTime.IsZero() {
		return nil, usagedomain.ErrInvalidEventTime
	}
	if req.DeltaFlightMinutes == 0 && req.DeltaCycles == 0 {
		return nil, usagedomain.ErrEmptyEvent
	}

	record := &usagedomain.UsageEvent{
		ID:                 s.genID.Generate(),
		SubjectID:          subjectID,
		SubjectKind:        req.SubjectKind,
		EventTime:          req.EventTime.UTC(),
		DeltaFlightMinutes: req.DeltaFlightMinutes,
		DeltaCycles:        req.DeltaCycles,
		FlightLogID:        strings.TrimSpace(req.FlightLogID),
		CreatedAt:          time.Now().UTC(),
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	// Same-subject appends are serialized by the (subject_id, seq) unique
	// index; a losing writer re-reads the max seq and tries again.
	var lastErr error
	for attempt := 0; attempt < seqRetries; attempt++ {
		lastErr = s.append(ctx, record)
		if lastErr == nil {
			break
		}
		if !pkgdb.IsDuplicateKeyErr(lastErr) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsageEvent(ctx, string(record.SubjectKind))
	}
	if s.hub != nil {
		s.hub.Publish(events.Event{
			Topic:     events.TopicUsageChanged,
			SubjectID: record.SubjectID,
		})
	}

	return record, nil
}

func (s *Service) RecordBatch(ctx context.Context, reqs []usagedomain.RecordUsageRequest) ([]*usagedomain.UsageEvent, error) {
	out := make([]*usagedomain.UsageEvent, 0, len(reqs))
	for _, req := range reqs {
		record, err := s.RecordUsage(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, record)
	}
	return out, nil
}

// append assigns the next per-subject sequence number, writes the event, and
// invalidates the snapshot, all in one transaction.
func (s *Service) append(ctx context.Context, record *usagedomain.UsageEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&usagedomain.UsageEvent{}).
			Where("subject_id = ?", record.SubjectID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		record.Seq = maxSeq + 1

		snapshot, err := s.loadSnapshot(ctx, tx, record.SubjectID)
		if err != nil {
			return err
		}
		if snapshot != nil {
			if snapshot.SubjectKind != record.SubjectKind {
				return usagedomain.ErrSubjectKindChanged
			}
			// Late corrections (e.g. amended PIREPs) are accepted; beyond
			// the grace window they are flagged so auditors can see the
			// snapshot was rebuilt from a back-dated event.
			watermark := snapshot.LatestEventTime
			if !watermark.IsZero() && record.EventTime.Before(watermark.Add(-s.cfg.GraceWindow)) {
				record.RequiresRecompute = true
			}
		}

		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return s.invalidateSnapshot(tx, record)
	})
}

func (s *Service) loadSnapshot(ctx context.Context, tx *gorm.DB, subjectID snowflake.ID) (*usagedomain.UsageSnapshot, error) {
	return repository.ProvideStore[usagedomain.UsageSnapshot](tx).
		FindOne(ctx, &usagedomain.UsageSnapshot{SubjectID: subjectID})
}

func (s *Service) invalidateSnapshot(tx *gorm.DB, record *usagedomain.UsageEvent) error {
	now := time.Now().UTC()
	result := tx.Model(&usagedomain.UsageSnapshot{}).
		Where("subject_id = ?", record.SubjectID).
		Updates(map[string]any{"stale": true, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	return tx.Create(&usagedomain.UsageSnapshot{
		SubjectID:   record.SubjectID,
		SubjectKind: record.SubjectKind,
		Stale:       true,
		UpdatedAt:   now,
	}).Error
}

func (s *Service) GetSnapshot(ctx context.Context, subjectID string) (*usagedomain.UsageSnapshot, error) {
	id, err := parseSubjectID(subjectID)
	if err != nil {
		return nil, err
	}

	snapshot, err := repository.ProvideStore[usagedomain.UsageSnapshot](s.db).
		FindOne(ctx, &usagedomain.UsageSnapshot{SubjectID: id})
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, usagedomain.ErrInvalidSubject
	}
	if !snapshot.Stale {
		return snapshot, nil
	}

	// Refold is idempotent; a retried rebuild after a conflicting append
	// converges on the same totals.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rebuilt, err := s.fold(ctx, tx, id)
		if err != nil {
			return err
		}
		snapshot = rebuilt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// foldRetries bounds the refold loop when an append commits while a fold is
// in flight.
const foldRetries = 3

// fold recomputes the snapshot from the full event stream in Seq order. An
// append can commit between the event read and the snapshot write, and its
// stale=true invalidation would be overwritten by this fold's stale=false;
// the post-write watermark check catches that and folds again.
func (s *Service) fold(ctx context.Context, tx *gorm.DB, subjectID snowflake.ID) (*usagedomain.UsageSnapshot, error) {
	var snapshot *usagedomain.UsageSnapshot
	for attempt := 0; attempt < foldRetries; attempt++ {
		var eventsForSubject []usagedomain.UsageEvent
		if err := tx.WithContext(ctx).
			Where("subject_id = ?", subjectID).
			Order("seq ASC").
			Find(&eventsForSubject).Error; err != nil {
			return nil, err
		}

		snapshot = &usagedomain.UsageSnapshot{
			SubjectID: subjectID,
			Stale:     false,
			UpdatedAt: time.Now().UTC(),
		}
		for _, event := range eventsForSubject {
			snapshot.SubjectKind = event.SubjectKind
			snapshot.TotalFlightMinutes += event.DeltaFlightMinutes
			snapshot.TotalCycles += event.DeltaCycles
			snapshot.AsOfSeq = event.Seq
			if event.EventTime.After(snapshot.LatestEventTime) {
				snapshot.LatestEventTime = event.EventTime
			}
		}

		if err := tx.WithContext(ctx).Save(snapshot).Error; err != nil {
			return nil, err
		}

		var maxSeq int64
		if err := tx.WithContext(ctx).Model(&usagedomain.UsageEvent{}).
			Where("subject_id = ?", subjectID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return nil, err
		}
		if maxSeq == snapshot.AsOfSeq {
			return snapshot, nil
		}
	}

	// Still losing to appends; leave the snapshot flagged so the next read
	// folds again.
	snapshot.Stale = true
	if err := tx.WithContext(ctx).Model(&usagedomain.UsageSnapshot{}).
		Where("subject_id = ?", subjectID).
		Update("stale", true).Error; err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (s *Service) ListEvents(ctx context.Context, subjectID string) ([]*usagedomain.UsageEvent, error) {
	id, err := parseSubjectID(subjectID)
	if err != nil {
		return nil, err
	}
	var out []*usagedomain.UsageEvent
	err = s.db.WithContext(ctx).
		Where("subject_id = ?", id).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

func parseSubjectID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, usagedomain.ErrInvalidSubject
	}
	return id, nil
}

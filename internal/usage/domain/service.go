package domain

import (
	"context"
	"errors"
	"time"
)

// RecordUsageRequest is the input for one ledger append. Deltas may be
// negative for correcting events.
type RecordUsageRequest struct {
	SubjectID          string         `json:"subject_id"`
	SubjectKind        SubjectKind    `json:"subject_kind"`
	EventTime          time.Time      `json:"event_time"`
	DeltaFlightMinutes int64          `json:"delta_flight_minutes"`
	DeltaCycles        int64          `json:"delta_cycles"`
	FlightLogID        string         `json:"flight_log_id"`
	Metadata           map[string]any `json:"metadata"`
}

type Service interface {
	// RecordUsage appends one event and invalidates the subject snapshot.
	// An event older than the snapshot watermark beyond the grace window is
	// accepted and flagged RequiresRecompute, never rejected.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*UsageEvent, error)
	// RecordBatch appends events one by one; folding is batching-invariant.
	RecordBatch(ctx context.Context, reqs []RecordUsageRequest) ([]*UsageEvent, error)
	// GetSnapshot returns the folded totals, refolding lazily when stale.
	GetSnapshot(ctx context.Context, subjectID string) (*UsageSnapshot, error)
	// ListEvents returns the subject's ledger in Seq order.
	ListEvents(ctx context.Context, subjectID string) ([]*UsageEvent, error)
}

var (
	ErrInvalidSubject     = errors.New("invalid_subject")
	ErrInvalidSubjectKind = errors.New("invalid_subject_kind")
	ErrInvalidEventTime   = errors.New("invalid_event_time")
	ErrEmptyEvent         = errors.New("empty_usage_event")
	ErrSubjectKindChanged = errors.New("subject_kind_changed")
)

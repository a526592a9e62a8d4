package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Evaluate recomputes the status of every trigger applicable to the
	// subject. It is idempotent: unchanged inputs produce identical rows
	// and no repeated fire events.
	Evaluate(ctx context.Context, subjectID string) ([]*ComplianceStatus, error)
	// Rebaseline captures the subject's current usage as the new compliance
	// baseline for the trigger, then re-evaluates. Called on aircraft
	// release.
	Rebaseline(ctx context.Context, subjectID, triggerID snowflake.ID) error
	// EvaluateHypothetical classifies the trigger as if the outstanding
	// work had just been completed (baseline moved to the current
	// snapshot). The release gate uses it as its last line of defense.
	EvaluateHypothetical(ctx context.Context, subjectID, triggerID snowflake.ID) (State, error)
	// List returns the persisted statuses for a subject without
	// re-evaluating.
	List(ctx context.Context, subjectID string) ([]*ComplianceStatus, error)
}

var (
	ErrInvalidSubject  = errors.New("invalid_subject")
	ErrInvalidTrigger  = errors.New("invalid_trigger")
	ErrNoThresholds    = errors.New("trigger_has_no_thresholds")
	ErrStatusNotFound  = errors.New("compliance_status_not_found")
	ErrUnknownMetric   = errors.New("unknown_metric")
	ErrSnapshotMissing = errors.New("usage_snapshot_missing")
)

// Package domain contains the derived compliance state per subject and
// trigger, plus the pure classification rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
)

// State classifies remaining margin against a threshold's tolerance.
type State string

const (
	StateGood     State = "GOOD"
	StateWarning  State = "WARNING"
	StateCritical State = "CRITICAL"
	StateOverdue  State = "OVERDUE"
)

// Due reports whether maintenance is due at this state.
func (s State) Due() bool {
	return s == StateCritical || s == StateOverdue
}

// severity orders states for the multi-threshold tie-break.
func (s State) severity() int {
	switch s {
	case StateWarning:
		return 1
	case StateCritical:
		return 2
	case StateOverdue:
		return 3
	default:
		return 0
	}
}

// MoreSevereThan reports strict severity ordering.
func (s State) MoreSevereThan(other State) bool {
	return s.severity() > other.severity()
}

// Classify applies the margin/tolerance bands from the maintenance program.
func Classify(margin, tolerance float64) State {
	switch {
	case margin > tolerance:
		return StateGood
	case margin > 0:
		return StateWarning
	case margin >= -tolerance:
		return StateCritical
	default:
		return StateOverdue
	}
}

// ComplianceStatus is the recomputed standing of one subject against one
// trigger. It is derived state: every evaluation folds the same inputs to
// the same row, and nothing edits it by hand.
type ComplianceStatus struct {
	ID                    snowflake.ID         `gorm:"primaryKey"`
	SubjectID             snowflake.ID         `gorm:"not null;uniqueIndex:ux_compliance_subject_trigger,priority:1"`
	TriggerID             snowflake.ID         `gorm:"not null;uniqueIndex:ux_compliance_subject_trigger,priority:2"`
	BaselineFlightMinutes int64                `gorm:"not null"`
	BaselineCycles        int64                `gorm:"not null"`
	BaselineAt            time.Time            `gorm:"not null"`
	AsOfSeq               int64                `gorm:"not null"`
	Metric                programdomain.Metric `gorm:"type:text;not null"`
	DueAtMetricValue      float64              `gorm:"not null"`
	RemainingMargin       float64              `gorm:"not null"`
	State                 State                `gorm:"type:text;not null"`
	LastFiredAt           *time.Time           `gorm:""`
	UpdatedAt             time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ComplianceStatus) TableName() string { return "compliance_statuses" }

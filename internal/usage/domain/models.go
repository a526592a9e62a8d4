// Package domain contains persistence models for the usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubjectKind distinguishes airframes from installed components. Component
// usage travels with the component across installations; totals never reset
// on reinstall.
type SubjectKind string

const (
	SubjectKindAircraft  SubjectKind = "AIRCRAFT"
	SubjectKindComponent SubjectKind = "COMPONENT"
)

// UsageEvent is one append-only usage delta for a subject. Events are never
// edited; a correction is a new event superseding the old one.
type UsageEvent struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	SubjectID          snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_usage_events_subject_seq,priority:1"`
	SubjectKind        SubjectKind       `gorm:"type:text;not null"`
	Seq                int64             `gorm:"not null;uniqueIndex:ux_usage_events_subject_seq,priority:2"`
	EventTime          time.Time         `gorm:"not null"`
	DeltaFlightMinutes int64             `gorm:"not null"`
	DeltaCycles        int64             `gorm:"not null"`
	FlightLogID        string            `gorm:"type:text"`
	RequiresRecompute  bool              `gorm:"not null;default:false"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// UsageSnapshot is the cached fold of a subject's usage events in Seq order.
// It is rebuilt lazily on read; RecordUsage only marks it stale.
type UsageSnapshot struct {
	SubjectID          snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	SubjectKind        SubjectKind  `gorm:"type:text;not null"`
	TotalFlightMinutes int64        `gorm:"not null"`
	TotalCycles        int64        `gorm:"not null"`
	AsOfSeq            int64        `gorm:"not null"`
	LatestEventTime    time.Time    `gorm:""`
	Stale              bool         `gorm:"not null;default:true"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageSnapshot) TableName() string { return "usage_snapshots" }

// TotalFlightHours converts the folded minute total for threshold math.
func (s UsageSnapshot) TotalFlightHours() float64 {
	return float64(s.TotalFlightMinutes) / 60.0
}

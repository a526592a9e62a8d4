// Package domain contains the maintenance program configuration models.
// The engine only ever reads these; program definitions are admin-managed.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
)

// Metric identifies which usage dimension a threshold measures.
type Metric string

const (
	MetricFlightHours  Metric = "FLIGHT_HOURS"
	MetricCycles       Metric = "CYCLES"
	MetricCalendarDays Metric = "CALENDAR_DAYS"
)

// MaintenanceTrigger is a configured maintenance interval. A trigger may
// carry several thresholds (hours and cycles for the same check); whichever
// crosses first makes the item due.
type MaintenanceTrigger struct {
	ID          snowflake.ID            `gorm:"primaryKey"`
	ProgramID   snowflake.ID            `gorm:"not null;index"`
	Code        string                  `gorm:"type:text;not null;uniqueIndex"`
	Description string                  `gorm:"type:text"`
	SubjectKind usagedomain.SubjectKind `gorm:"type:text;not null;index"`
	Active      bool                    `gorm:"not null;default:true"`
	Thresholds  []TriggerThreshold      `gorm:"foreignKey:TriggerID"`
	CreatedAt   time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (MaintenanceTrigger) TableName() string { return "maintenance_triggers" }

// TriggerThreshold is one metric bound of a trigger. IntervalValue and
// ToleranceValue are in the metric's unit: hours, cycles, or days.
type TriggerThreshold struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TriggerID      snowflake.ID `gorm:"not null;index"`
	Metric         Metric       `gorm:"type:text;not null"`
	IntervalValue  float64      `gorm:"not null"`
	ToleranceValue float64      `gorm:"not null"`
}

// TableName sets the database table name.
func (TriggerThreshold) TableName() string { return "trigger_thresholds" }

// TaskTemplate is one task materialized onto a work order opened from the
// trigger.
type TaskTemplate struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	TriggerID   snowflake.ID `gorm:"not null;index"`
	Seq         int          `gorm:"not null"`
	Description string       `gorm:"type:text;not null"`
	Required    bool         `gorm:"not null;default:true"`
	IsRII       bool         `gorm:"not null;default:false"`
}

// TableName sets the database table name.
func (TaskTemplate) TableName() string { return "program_task_templates" }

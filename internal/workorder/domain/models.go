// Package domain contains the work order aggregate: the order, its tasks,
// and the value references it holds onto inventory reservations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the work order lifecycle state. Transitions are validated by
// the table in transitions.go; callers never write the column directly.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusOpen              Status = "OPEN"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusPendingParts      Status = "PENDING_PARTS"
	StatusPendingInspection Status = "PENDING_INSPECTION"
	StatusCompleted         Status = "COMPLETED"
	StatusReleased          Status = "RELEASED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal reports whether no further transitions exist. Cancelled orders
// are kept forever; the audit trail never deletes an order.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

type OrderType string

const (
	OrderTypeScheduled   OrderType = "SCHEDULED"
	OrderTypeUnscheduled OrderType = "UNSCHEDULED"
	OrderTypeEmergency   OrderType = "EMERGENCY"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityAOG    Priority = "AOG"
)

// WorkOrder owns its Tasks and ReservationRefs exclusively; no other
// component mutates them. The Version column carries the optimistic
// concurrency check for every transition.
type WorkOrder struct {
	ID                    snowflake.ID      `gorm:"primaryKey"`
	AircraftID            snowflake.ID      `gorm:"not null;index"`
	Type                  OrderType         `gorm:"type:text;not null"`
	Status                Status            `gorm:"type:text;not null;index"`
	Priority              Priority          `gorm:"type:text;not null"`
	TriggerID             *snowflake.ID     `gorm:"index"`
	ConcurrentSafe        bool              `gorm:"not null;default:false"`
	BaselineFlightMinutes int64             `gorm:"not null"`
	BaselineCycles        int64             `gorm:"not null"`
	Version               int64             `gorm:"not null;default:1"`
	Tasks                 []Task            `gorm:"foreignKey:WorkOrderID"`
	Reservations          []ReservationRef  `gorm:"foreignKey:WorkOrderID"`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ReleasedAt            *time.Time        `gorm:""`
	ReleasedBy            string            `gorm:"type:text"`
	CancelledAt           *time.Time        `gorm:""`
	CancelReason          string            `gorm:"type:text"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WorkOrder) TableName() string { return "work_orders" }

type TaskStatus string

const (
	TaskStatusPending TaskStatus = "PENDING"
	TaskStatusDone    TaskStatus = "DONE"
)

// Task is one unit of work on an order. An RII task needs an inspector
// distinct from the mechanic who performed it.
type Task struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	WorkOrderID snowflake.ID `gorm:"not null;index"`
	Seq         int          `gorm:"not null"`
	Description string       `gorm:"type:text;not null"`
	Required    bool         `gorm:"not null;default:true"`
	IsRII       bool         `gorm:"not null;default:false"`
	Status      TaskStatus   `gorm:"type:text;not null"`
	CompletedBy *string      `gorm:"type:text"`
	InspectedBy *string      `gorm:"type:text"`
	CompletedAt *time.Time   `gorm:""`
	InspectedAt *time.Time   `gorm:""`
}

// TableName sets the database table name.
func (Task) TableName() string { return "work_order_tasks" }

// ReservationRef is the order's value-type handle on a stock reservation:
// ids and a quantity, never a pointer into the inventory ledger.
type ReservationRef struct {
	ReservationID string       `gorm:"primaryKey"`
	WorkOrderID   snowflake.ID `gorm:"not null;index"`
	PartNumber    string       `gorm:"type:text;not null"`
	WarehouseID   string       `gorm:"type:text;not null"`
	Quantity      int64        `gorm:"not null"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReservationRef) TableName() string { return "work_order_reservations" }

// ReadyForCompletion reports whether every required task is DONE and every
// RII task carries a distinct inspector signature.
func (w *WorkOrder) ReadyForCompletion() bool {
	for i := range w.Tasks {
		task := &w.Tasks[i]
		if task.Required && task.Status != TaskStatusDone {
			return false
		}
		if task.IsRII {
			if task.Status != TaskStatusDone || task.InspectedBy == nil || task.CompletedBy == nil {
				return false
			}
			if *task.InspectedBy == *task.CompletedBy {
				return false
			}
		}
	}
	return true
}

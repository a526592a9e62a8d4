// Package domain contains the inventory ledger models: the append-only
// stock movement log, the derived on-hand projection, and reservations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MovementType classifies a stock movement.
type MovementType string

const (
	MovementReceipt            MovementType = "RECEIPT"
	MovementReserve            MovementType = "RESERVE"
	MovementConsume            MovementType = "CONSUME"
	MovementReleaseReservation MovementType = "RELEASE_RESERVATION"
	MovementReturn             MovementType = "RETURN"
	MovementScrap              MovementType = "SCRAP"
	MovementAdjust             MovementType = "ADJUST"
)

// StockMovement is one append-only ledger line. Quantity is signed: the
// on-hand delta for RECEIPT/CONSUME/RETURN/SCRAP/ADJUST lines and the
// reserved delta for RESERVE/RELEASE_RESERVATION lines; CONSUME applies to
// both counts. Folding a part's movements from empty must reproduce the
// projection exactly.
type StockMovement struct {
	ID                   snowflake.ID      `gorm:"primaryKey"`
	Type                 MovementType      `gorm:"type:text;not null"`
	PartNumber           string            `gorm:"type:text;not null;index:idx_stock_movements_part,priority:1"`
	WarehouseID          string            `gorm:"type:text;not null;index:idx_stock_movements_part,priority:2"`
	Quantity             int64             `gorm:"not null"`
	ReservationID        string            `gorm:"type:text;index"`
	ReferenceWorkOrderID *snowflake.ID     `gorm:"index"`
	Reason               string            `gorm:"type:text"`
	Metadata             datatypes.JSONMap `gorm:"type:jsonb"`
	OccurredAt           time.Time         `gorm:"not null"`
	CreatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (StockMovement) TableName() string { return "stock_movements" }

// InventoryItem is the mutable projection over a part's movements.
// Available stock is always derived, never stored.
type InventoryItem struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	PartNumber       string       `gorm:"type:text;not null;uniqueIndex:ux_inventory_part_warehouse,priority:1"`
	WarehouseID      string       `gorm:"type:text;not null;uniqueIndex:ux_inventory_part_warehouse,priority:2"`
	QuantityOnHand   int64        `gorm:"not null"`
	QuantityReserved int64        `gorm:"not null"`
	Version          int64        `gorm:"not null;default:1"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InventoryItem) TableName() string { return "inventory_items" }

// QuantityAvailable derives free stock.
func (i InventoryItem) QuantityAvailable() int64 {
	return i.QuantityOnHand - i.QuantityReserved
}

// ReservationState tracks a hold through its life.
type ReservationState string

const (
	ReservationHeld     ReservationState = "HELD"
	ReservationConsumed ReservationState = "CONSUMED"
	ReservationReleased ReservationState = "RELEASED"
)

// Reservation is a soft hold on stock for one work order, convertible to a
// consumption or releasable back to available.
type Reservation struct {
	ID          string           `gorm:"primaryKey"`
	PartNumber  string           `gorm:"type:text;not null;index"`
	WarehouseID string           `gorm:"type:text;not null"`
	WorkOrderID snowflake.ID     `gorm:"not null;index"`
	Quantity    int64            `gorm:"not null"`
	State       ReservationState `gorm:"type:text;not null"`
	CreatedAt   time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	SettledAt   *time.Time       `gorm:""`
}

// TableName sets the database table name.
func (Reservation) TableName() string { return "inventory_reservations" }

// FoldMovements replays a part's ledger from empty. This is the audit
// invariant the reconciler checks against the projection.
func FoldMovements(movements []StockMovement) (onHand, reserved int64) {
	for _, m := range movements {
		switch m.Type {
		case MovementReserve, MovementReleaseReservation:
			reserved += m.Quantity
		case MovementConsume:
			onHand += m.Quantity
			reserved += m.Quantity
		default:
			onHand += m.Quantity
		}
	}
	return onHand, reserved
}

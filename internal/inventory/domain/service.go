package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ReserveResult reports how much of a reservation request could be held.
// A shortfall is a normal outcome the caller must handle, not an error.
type ReserveResult struct {
	Reservation *Reservation `json:"reservation,omitempty"`
	Requested   int64        `json:"requested"`
	Reserved    int64        `json:"reserved"`
	Shortfall   int64        `json:"shortfall"`
}

// ReconcileResult compares the movement fold with the projection.
type ReconcileResult struct {
	PartNumber        string `json:"part_number"`
	WarehouseID       string `json:"warehouse_id"`
	FoldedOnHand      int64  `json:"folded_on_hand"`
	FoldedReserved    int64  `json:"folded_reserved"`
	ProjectedOnHand   int64  `json:"projected_on_hand"`
	ProjectedReserved int64  `json:"projected_reserved"`
	Match             bool   `json:"match"`
}

type Service interface {
	// Receive is the procurement entry point; the only mutation not keyed
	// to a work order.
	Receive(ctx context.Context, partNumber, warehouseID string, qty int64) error
	// Reserve holds up to qty units for the work order; partial
	// satisfaction returns a shortfall, concurrent losers re-read and
	// report shortfall rather than failing silently.
	Reserve(ctx context.Context, partNumber, warehouseID string, qty int64, workOrderID snowflake.ID) (*ReserveResult, error)
	// Consume converts a HELD reservation into a consumption. A settled
	// reservation fails with ErrUnknownReservation; double consumption is
	// a safety defect, never a silent no-op.
	Consume(ctx context.Context, reservationID string) error
	// Release returns an unconsumed reservation to available stock.
	Release(ctx context.Context, reservationID string) error
	Return(ctx context.Context, partNumber, warehouseID string, qty int64, workOrderID snowflake.ID) error
	Scrap(ctx context.Context, partNumber, warehouseID string, qty int64, reason string) error
	Adjust(ctx context.Context, partNumber, warehouseID string, delta int64, reason string) error

	GetItem(ctx context.Context, partNumber, warehouseID string) (*InventoryItem, error)
	GetReservation(ctx context.Context, reservationID string) (*Reservation, error)
	ListMovements(ctx context.Context, partNumber, warehouseID string) ([]StockMovement, error)

	// Reconcile refolds the ledger and compares it with the projection;
	// a mismatch raises the integrity alarm and returns
	// ErrLedgerFoldMismatch.
	Reconcile(ctx context.Context, partNumber, warehouseID string) (*ReconcileResult, error)
	// ReconcileAll runs Reconcile over every known item.
	ReconcileAll(ctx context.Context) ([]*ReconcileResult, error)
}

var (
	ErrInvalidPart            = errors.New("invalid_part_number")
	ErrInvalidWarehouse       = errors.New("invalid_warehouse")
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrItemNotFound           = errors.New("inventory_item_not_found")
	ErrUnknownReservation     = errors.New("unknown_reservation")
	ErrInvariantViolation     = errors.New("inventory_invariant_violation")
	ErrLedgerFoldMismatch     = errors.New("ledger_fold_mismatch")
	ErrConcurrentModification = errors.New("concurrent_modification")
)

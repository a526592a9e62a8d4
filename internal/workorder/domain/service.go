package domain

import (
	"context"
	"errors"
)

// ManualTask describes a task on a manually requested order.
type ManualTask struct {
	Description string `json:"description"`
	Required    bool   `json:"required"`
	IsRII       bool   `json:"is_rii"`
}

// OpenRequest opens an order either from a fired trigger (TriggerID set,
// tasks materialized from the program template) or from a manual request
// (ManualTasks set).
type OpenRequest struct {
	AircraftID     string       `json:"aircraft_id"`
	Type           OrderType    `json:"type"`
	Priority       Priority     `json:"priority"`
	TriggerID      string       `json:"trigger_id"`
	ConcurrentSafe bool         `json:"concurrent_safe"`
	ManualTasks    []ManualTask `json:"manual_tasks"`
	Draft          bool         `json:"draft"`
}

// PartsRequest reserves stock for the order.
type PartsRequest struct {
	PartNumber  string `json:"part_number"`
	WarehouseID string `json:"warehouse_id"`
	Quantity    int64  `json:"quantity"`
}

// PartsResult reports how much of the request could be held.
type PartsResult struct {
	ReservationID string `json:"reservation_id"`
	Reserved      int64  `json:"reserved"`
	Shortfall     int64  `json:"shortfall"`
}

type Service interface {
	Open(ctx context.Context, req OpenRequest) (*WorkOrder, error)
	Get(ctx context.Context, orderID string) (*WorkOrder, error)
	ListByAircraft(ctx context.Context, aircraftID string) ([]*WorkOrder, error)

	// Transitions take the caller's last-read version; a stale version
	// fails with ErrConcurrentModification and is the caller's retry.
	Submit(ctx context.Context, orderID string, version int64) (*WorkOrder, error)
	StartWork(ctx context.Context, orderID string, version int64) (*WorkOrder, error)
	RequestParts(ctx context.Context, orderID string, version int64, req PartsRequest) (*PartsResult, error)
	Resume(ctx context.Context, orderID string, version int64) (*WorkOrder, error)
	SubmitForInspection(ctx context.Context, orderID string, version int64) (*WorkOrder, error)
	Complete(ctx context.Context, orderID string, version int64) (*WorkOrder, error)
	Release(ctx context.Context, orderID string, version int64, by string) (*WorkOrder, error)
	Cancel(ctx context.Context, orderID string, version int64, reason string) (*WorkOrder, error)

	// Task signatures bump the order version so they participate in the
	// same optimistic check as status transitions.
	CompleteTask(ctx context.Context, orderID, taskID, by string) error
	InspectTask(ctx context.Context, orderID, taskID, by string) error
}

var (
	ErrInvalidAircraft            = errors.New("invalid_aircraft")
	ErrInvalidOrderType           = errors.New("invalid_order_type")
	ErrInvalidTrigger             = errors.New("invalid_trigger")
	ErrNoTasks                    = errors.New("work_order_has_no_tasks")
	ErrOrderNotFound              = errors.New("work_order_not_found")
	ErrTaskNotFound               = errors.New("task_not_found")
	ErrDuplicateOpenOrder         = errors.New("duplicate_open_order")
	ErrInvalidTransition          = errors.New("invalid_transition")
	ErrConcurrentModification     = errors.New("concurrent_modification")
	ErrIncompleteTasks            = errors.New("incomplete_tasks")
	ErrSeparationOfDuties         = errors.New("separation_of_duties")
	ErrAlreadyInspectedBySameUser = errors.New("already_inspected_by_same_user")
	ErrNotRII                     = errors.New("task_not_rii")
	ErrTaskNotDone                = errors.New("task_not_done")
	ErrMissingActor               = errors.New("missing_actor")
	ErrInvalidQuantity            = errors.New("invalid_quantity")
	ErrOrderTerminal              = errors.New("work_order_terminal")
)

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	"github.com/flightworks/mxengine/internal/events"
	invdomain "github.com/flightworks/mxengine/internal/inventory/domain"
	obsmetrics "github.com/flightworks/mxengine/internal/observability/metrics"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	"github.com/flightworks/mxengine/internal/releasegate"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Programs   programdomain.Repository
	Usage      usagedomain.Service
	Inventory  invdomain.Service
	Compliance compliancedomain.Service
	Gate       *releasegate.Gate
	Hub        *events.Hub         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	programs   programdomain.Repository
	usage      usagedomain.Service
	inventory  invdomain.Service
	compliance compliancedomain.Service
	gate       *releasegate.Gate
	hub        *events.Hub
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) workorderdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("workorder.service"),

		genID:      p.GenID,
		programs:   p.Programs,
		usage:      p.Usage,
		inventory:  p.Inventory,
		compliance: p.Compliance,
		gate:       p.Gate,
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Open(ctx context.Context, req workorderdomain.OpenRequest) (*workorderdomain.WorkOrder, error) {
	aircraftID, err := snowflake.ParseString(strings.TrimSpace(req.AircraftID))
	if err != nil || aircraftID == 0 {
		return nil, workorderdomain.ErrInvalidAircraft
	}
	switch req.Type {
	case workorderdomain.OrderTypeScheduled, workorderdomain.OrderTypeUnscheduled, workorderdomain.OrderTypeEmergency:
	default:
		return nil, workorderdomain.ErrInvalidOrderType
	}
	priority := req.Priority
	if priority == "" {
		priority = workorderdomain.PriorityNormal
	}

	now := time.Now().UTC()
	order := &workorderdomain.WorkOrder{
		ID:             s.genID.Generate(),
		AircraftID:     aircraftID,
		Type:           req.Type,
		Status:         workorderdomain.StatusOpen,
		Priority:       priority,
		ConcurrentSafe: req.ConcurrentSafe,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Draft {
		order.Status = workorderdomain.StatusDraft
	}

	if trimmed := strings.TrimSpace(req.TriggerID); trimmed != "" {
		triggerID, err := snowflake.ParseString(trimmed)
		if err != nil || triggerID == 0 {
			return nil, workorderdomain.ErrInvalidTrigger
		}
		trigger, err := s.programs.GetTrigger(ctx, triggerID)
		if err != nil {
			if errors.Is(err, programdomain.ErrTriggerNotFound) {
				return nil, workorderdomain.ErrInvalidTrigger
			}
			return nil, err
		}
		order.TriggerID = &trigger.ID

		templates, err := s.programs.ListTaskTemplates(ctx, trigger.ID)
		if err != nil {
			return nil, err
		}
		for _, tpl := range templates {
			order.Tasks = append(order.Tasks, workorderdomain.Task{
				ID:          s.genID.Generate(),
				WorkOrderID: order.ID,
				Seq:         tpl.Seq,
				Description: tpl.Description,
				Required:    tpl.Required,
				IsRII:       tpl.IsRII,
				Status:      workorderdomain.TaskStatusPending,
			})
		}
	}
	for _, manual := range req.ManualTasks {
		order.Tasks = append(order.Tasks, workorderdomain.Task{
			ID:          s.genID.Generate(),
			WorkOrderID: order.ID,
			Seq:         len(order.Tasks) + 1,
			Description: manual.Description,
			Required:    manual.Required,
			IsRII:       manual.IsRII,
			Status:      workorderdomain.TaskStatusPending,
		})
	}
	if len(order.Tasks) == 0 {
		return nil, workorderdomain.ErrNoTasks
	}

	// The compliance baseline is frozen at open so the trigger's next
	// interval starts from a known point regardless of usage recorded while
	// the work is in progress.
	snapshot, err := s.usage.GetSnapshot(ctx, aircraftID.String())
	if err != nil && !errors.Is(err, usagedomain.ErrInvalidSubject) {
		return nil, err
	}
	if snapshot != nil {
		order.BaselineFlightMinutes = snapshot.TotalFlightMinutes
		order.BaselineCycles = snapshot.TotalCycles
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if order.TriggerID != nil {
			// One live order per (aircraft, trigger); duplicates would
			// double-book the same maintenance.
			var count int64
			err := tx.Model(&workorderdomain.WorkOrder{}).
				Where("aircraft_id = ? AND trigger_id = ? AND status NOT IN ?",
					order.AircraftID, *order.TriggerID,
					[]workorderdomain.Status{workorderdomain.StatusReleased, workorderdomain.StatusCancelled}).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				return workorderdomain.ErrDuplicateOpenOrder
			}
		}
		return tx.Create(order).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("work order opened",
		zap.String("work_order_id", order.ID.String()),
		zap.String("aircraft_id", order.AircraftID.String()),
		zap.String("type", string(order.Type)),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWorkOrderOpened(ctx, string(order.Type))
	}
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*workorderdomain.WorkOrder, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

func (s *Service) ListByAircraft(ctx context.Context, aircraftID string) ([]*workorderdomain.WorkOrder, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(aircraftID))
	if err != nil || id == 0 {
		return nil, workorderdomain.ErrInvalidAircraft
	}
	var out []*workorderdomain.WorkOrder
	err = s.db.WithContext(ctx).
		Preload("Tasks").
		Preload("Reservations").
		Where("aircraft_id = ?", id).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Service) Submit(ctx context.Context, orderID string, version int64) (*workorderdomain.WorkOrder, error) {
	return s.transition(ctx, orderID, version, workorderdomain.ActionSubmit, nil, nil)
}

func (s *Service) StartWork(ctx context.Context, orderID string, version int64) (*workorderdomain.WorkOrder, error) {
	return s.transition(ctx, orderID, version, workorderdomain.ActionStart, nil, nil)
}

func (s *Service) Resume(ctx context.Context, orderID string, version int64) (*workorderdomain.WorkOrder, error) {
	return s.transition(ctx, orderID, version, workorderdomain.ActionResume, nil, nil)
}

func (s *Service) SubmitForInspection(ctx context.Context, orderID string, version int64) (*workorderdomain.WorkOrder, error) {
	return s.transition(ctx, orderID, version, workorderdomain.ActionSubmitInspection, nil, nil)
}

func (s *Service) Complete(ctx context.Context, orderID string, version int64) (*workorderdomain.WorkOrder, error) {
	return s.transition(ctx, orderID, version, workorderdomain.ActionComplete, nil,
		func(order *workorderdomain.WorkOrder) error {
			if !order.ReadyForCompletion() {
				return workorderdomain.ErrIncompleteTasks
			}
			return nil
		})
}

func (s *Service) RequestParts(ctx context.Context, orderID string, version int64, req workorderdomain.PartsRequest) (*workorderdomain.PartsResult, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, workorderdomain.ErrInvalidQuantity
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, workorderdomain.ErrOrderTerminal
	}
	if order.Version != version {
		return nil, workorderdomain.ErrConcurrentModification
	}

	reserved, err := s.inventory.Reserve(ctx, req.PartNumber, req.WarehouseID, req.Quantity, order.ID)
	if err != nil {
		return nil, err
	}

	result := &workorderdomain.PartsResult{
		Reserved:  reserved.Reserved,
		Shortfall: reserved.Shortfall,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if reserved.Reservation != nil {
			result.ReservationID = reserved.Reservation.ID
			ref := workorderdomain.ReservationRef{
				ReservationID: reserved.Reservation.ID,
				WorkOrderID:   order.ID,
				PartNumber:    reserved.Reservation.PartNumber,
				WarehouseID:   reserved.Reservation.WarehouseID,
				Quantity:      reserved.Reservation.Quantity,
				CreatedAt:     time.Now().UTC(),
			}
			if err := tx.Create(&ref).Error; err != nil {
				return err
			}
		}

		// A shortfall parks an in-progress order until stock arrives.
		status := order.Status
		if result.Shortfall > 0 && order.Status == workorderdomain.StatusInProgress {
			next, err := workorderdomain.Next(order.Status, workorderdomain.ActionHoldForParts)
			if err != nil {
				return err
			}
			status = next
		}
		return s.commit(tx, order, map[string]any{"status": status})
	})
	if err != nil {
		// The hold committed in its own transaction; without the ref nothing
		// would ever settle it. Give the stock back before surfacing the
		// error.
		if reserved.Reservation != nil {
			if relErr := s.inventory.Release(ctx, reserved.Reservation.ID); relErr != nil && !errors.Is(relErr, invdomain.ErrUnknownReservation) {
				s.log.Error("orphaned reservation release failed",
					zap.String("work_order_id", order.ID.String()),
					zap.String("reservation_id", reserved.Reservation.ID),
					zap.Error(relErr),
				)
			}
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) Release(ctx context.Context, orderID string, version int64, by string) (*workorderdomain.WorkOrder, error) {
	by = strings.TrimSpace(by)
	if by == "" {
		return nil, workorderdomain.ErrMissingActor
	}
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}

	if err := s.gate.CanRelease(ctx, id); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order, err := s.transition(ctx, orderID, version, workorderdomain.ActionRelease, map[string]any{
		"released_at": now,
		"released_by": by,
	}, nil)
	if err != nil {
		return nil, err
	}

	// Reservations settle after the release commit; the HELD state guard in
	// the ledger makes a retried settle fail loudly instead of
	// double-consuming.
	for _, ref := range order.Reservations {
		if err := s.inventory.Consume(ctx, ref.ReservationID); err != nil {
			if errors.Is(err, invdomain.ErrUnknownReservation) {
				continue
			}
			return nil, err
		}
	}

	if order.TriggerID != nil {
		if err := s.compliance.Rebaseline(ctx, order.AircraftID, *order.TriggerID); err != nil {
			return nil, err
		}
	}

	s.log.Info("aircraft released",
		zap.String("work_order_id", order.ID.String()),
		zap.String("aircraft_id", order.AircraftID.String()),
		zap.String("released_by", by),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWorkOrderReleased(ctx)
	}
	if s.hub != nil {
		event := events.Event{
			Topic:       events.TopicAircraftReleased,
			SubjectID:   order.AircraftID,
			WorkOrderID: order.ID,
			OccurredAt:  now,
		}
		if order.TriggerID != nil {
			event.TriggerID = *order.TriggerID
		}
		s.hub.Publish(event)
	}
	return order, nil
}

func (s *Service) Cancel(ctx context.Context, orderID string, version int64, reason string) (*workorderdomain.WorkOrder, error) {
	order, err := s.transition(ctx, orderID, version, workorderdomain.ActionCancel, map[string]any{
		"cancelled_at":  time.Now().UTC(),
		"cancel_reason": reason,
	}, nil)
	if err != nil {
		return nil, err
	}

	for _, ref := range order.Reservations {
		if err := s.inventory.Release(ctx, ref.ReservationID); err != nil {
			if errors.Is(err, invdomain.ErrUnknownReservation) {
				continue
			}
			return nil, err
		}
	}
	return order, nil
}

func (s *Service) CompleteTask(ctx context.Context, orderID, taskID, by string) error {
	by = strings.TrimSpace(by)
	if by == "" {
		return workorderdomain.ErrMissingActor
	}
	return s.withTask(ctx, orderID, taskID, func(tx *gorm.DB, order *workorderdomain.WorkOrder, task *workorderdomain.Task) error {
		// The SoD check must not depend on whether the inspection was signed
		// before or after the work signature.
		if task.InspectedBy != nil && *task.InspectedBy == by {
			return workorderdomain.ErrAlreadyInspectedBySameUser
		}
		now := time.Now().UTC()
		return tx.Model(&workorderdomain.Task{}).
			Where("id = ?", task.ID).
			Updates(map[string]any{
				"status":       workorderdomain.TaskStatusDone,
				"completed_by": by,
				"completed_at": now,
			}).Error
	})
}

func (s *Service) InspectTask(ctx context.Context, orderID, taskID, by string) error {
	by = strings.TrimSpace(by)
	if by == "" {
		return workorderdomain.ErrMissingActor
	}
	return s.withTask(ctx, orderID, taskID, func(tx *gorm.DB, order *workorderdomain.WorkOrder, task *workorderdomain.Task) error {
		if !task.IsRII {
			return workorderdomain.ErrNotRII
		}
		if task.Status != workorderdomain.TaskStatusDone {
			return workorderdomain.ErrTaskNotDone
		}
		if task.CompletedBy != nil && *task.CompletedBy == by {
			return workorderdomain.ErrSeparationOfDuties
		}
		now := time.Now().UTC()
		return tx.Model(&workorderdomain.Task{}).
			Where("id = ?", task.ID).
			Updates(map[string]any{
				"inspected_by": by,
				"inspected_at": now,
			}).Error
	})
}

// withTask runs fn against one task and bumps the order version in the same
// transaction, so task signatures conflict with concurrent status
// transitions.
func (s *Service) withTask(ctx context.Context, orderID, taskID string, fn func(tx *gorm.DB, order *workorderdomain.WorkOrder, task *workorderdomain.Task) error) error {
	id, err := parseOrderID(orderID)
	if err != nil {
		return err
	}
	tID, err := snowflake.ParseString(strings.TrimSpace(taskID))
	if err != nil || tID == 0 {
		return workorderdomain.ErrTaskNotFound
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return workorderdomain.ErrOrderTerminal
	}
	var task *workorderdomain.Task
	for i := range order.Tasks {
		if order.Tasks[i].ID == tID {
			task = &order.Tasks[i]
			break
		}
	}
	if task == nil {
		return workorderdomain.ErrTaskNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx, order, task); err != nil {
			return err
		}
		return s.commit(tx, order, nil)
	})
}

// transition performs one lifecycle move under the optimistic version check.
// extra columns ride along with the status write; guard runs after the
// transition table validates the move.
func (s *Service) transition(ctx context.Context, orderID string, version int64, action workorderdomain.Action, extra map[string]any, guard func(*workorderdomain.WorkOrder) error) (*workorderdomain.WorkOrder, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, workorderdomain.ErrOrderTerminal
	}
	if order.Version != version {
		return nil, workorderdomain.ErrConcurrentModification
	}

	next, err := workorderdomain.Next(order.Status, action)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(order); err != nil {
			return nil, err
		}
	}

	updates := map[string]any{"status": next}
	for k, v := range extra {
		updates[k] = v
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.commit(tx, order, updates)
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// commit writes updates guarded by the order's last-read version. Zero rows
// affected means another writer committed first.
func (s *Service) commit(tx *gorm.DB, order *workorderdomain.WorkOrder, updates map[string]any) error {
	merged := map[string]any{
		"version":    order.Version + 1,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		merged[k] = v
	}
	result := tx.Model(&workorderdomain.WorkOrder{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(merged)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return workorderdomain.ErrConcurrentModification
	}
	return nil
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*workorderdomain.WorkOrder, error) {
	var order workorderdomain.WorkOrder
	err := s.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Preload("Reservations").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, workorderdomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func parseOrderID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, workorderdomain.ErrOrderNotFound
	}
	return id, nil
}

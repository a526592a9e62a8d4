package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flightworks/mxengine/internal/events"
	invdomain "github.com/flightworks/mxengine/internal/inventory/domain"
	obsmetrics "github.com/flightworks/mxengine/internal/observability/metrics"
	"github.com/flightworks/mxengine/pkg/repository"
)

// versionRetries bounds the re-read loop when two writers race on the same
// projection row. The loser recomputes availability against the fresh row
// instead of failing.
const versionRetries = 3

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Hub        *events.Hub         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	hub        *events.Hub
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) invdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("inventory.service"),

		genID:      p.GenID,
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Receive(ctx context.Context, partNumber, warehouseID string, qty int64) error {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return invdomain.ErrInvalidQuantity
	}
	return s.applyOnHand(ctx, partNumber, warehouseID, invdomain.StockMovement{
		Type:     invdomain.MovementReceipt,
		Quantity: qty,
	}, true)
}

func (s *Service) Return(ctx context.Context, partNumber, warehouseID string, qty int64, workOrderID snowflake.ID) error {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return invdomain.ErrInvalidQuantity
	}
	return s.applyOnHand(ctx, partNumber, warehouseID, invdomain.StockMovement{
		Type:                 invdomain.MovementReturn,
		Quantity:             qty,
		ReferenceWorkOrderID: &workOrderID,
	}, false)
}

func (s *Service) Scrap(ctx context.Context, partNumber, warehouseID string, qty int64, reason string) error {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return err
	}
	if qty <= 0 {
		return invdomain.ErrInvalidQuantity
	}
	return s.applyOnHand(ctx, partNumber, warehouseID, invdomain.StockMovement{
		Type:     invdomain.MovementScrap,
		Quantity: -qty,
		Reason:   reason,
	}, false)
}

func (s *Service) Adjust(ctx context.Context, partNumber, warehouseID string, delta int64, reason string) error {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return err
	}
	if delta == 0 {
		return invdomain.ErrInvalidQuantity
	}
	return s.applyOnHand(ctx, partNumber, warehouseID, invdomain.StockMovement{
		Type:     invdomain.MovementAdjust,
		Quantity: delta,
		Reason:   reason,
	}, false)
}

// applyOnHand appends one on-hand movement and bumps the projection under the
// optimistic version check. createMissing is true only for receipts, the one
// mutation allowed to introduce a part.
func (s *Service) applyOnHand(ctx context.Context, partNumber, warehouseID string, movement invdomain.StockMovement, createMissing bool) error {
	movement.PartNumber = partNumber
	movement.WarehouseID = warehouseID

	var lastErr error
	for attempt := 0; attempt < versionRetries; attempt++ {
		lastErr = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			item, err := s.loadItem(ctx, tx, partNumber, warehouseID)
			if err != nil {
				return err
			}
			if item == nil {
				if !createMissing {
					return invdomain.ErrItemNotFound
				}
				return s.createItem(tx, movement)
			}

			onHand := item.QuantityOnHand + movement.Quantity
			if onHand < 0 || onHand < item.QuantityReserved {
				return invdomain.ErrInvariantViolation
			}
			if err := s.appendMovement(tx, &movement); err != nil {
				return err
			}
			return s.updateItem(tx, item, onHand, item.QuantityReserved)
		})
		if lastErr != invdomain.ErrConcurrentModification {
			return lastErr
		}
	}
	return lastErr
}

func (s *Service) Reserve(ctx context.Context, partNumber, warehouseID string, qty int64, workOrderID snowflake.ID) (*invdomain.ReserveResult, error) {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, invdomain.ErrInvalidQuantity
	}

	result := &invdomain.ReserveResult{Requested: qty}
	var lastErr error
	for attempt := 0; attempt < versionRetries; attempt++ {
		lastErr = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			item, err := s.loadItem(ctx, tx, partNumber, warehouseID)
			if err != nil {
				return err
			}
			available := int64(0)
			if item != nil {
				available = item.QuantityAvailable()
			}

			held := qty
			if held > available {
				held = available
			}
			result.Reserved = held
			result.Shortfall = qty - held
			result.Reservation = nil
			if held == 0 {
				return nil
			}

			now := time.Now().UTC()
			reservation := &invdomain.Reservation{
				ID:          ulid.Make().String(),
				PartNumber:  partNumber,
				WarehouseID: warehouseID,
				WorkOrderID: workOrderID,
				Quantity:    held,
				State:       invdomain.ReservationHeld,
				CreatedAt:   now,
			}
			if err := tx.Create(reservation).Error; err != nil {
				return err
			}
			movement := invdomain.StockMovement{
				Type:                 invdomain.MovementReserve,
				PartNumber:           partNumber,
				WarehouseID:          warehouseID,
				Quantity:             held,
				ReservationID:        reservation.ID,
				ReferenceWorkOrderID: &workOrderID,
			}
			if err := s.appendMovement(tx, &movement); err != nil {
				return err
			}
			if err := s.updateItem(tx, item, item.QuantityOnHand, item.QuantityReserved+held); err != nil {
				return err
			}
			result.Reservation = reservation
			return nil
		})
		// A version conflict means another writer moved stock first; the
		// re-read turns the loss into an accurate shortfall.
		if lastErr != invdomain.ErrConcurrentModification {
			break
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if result.Shortfall > 0 {
		s.log.Warn("reservation shortfall",
			zap.String("part_number", partNumber),
			zap.String("warehouse_id", warehouseID),
			zap.Int64("requested", result.Requested),
			zap.Int64("reserved", result.Reserved),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordReservationShortfall(ctx, partNumber)
		}
	}
	return result, nil
}

func (s *Service) Consume(ctx context.Context, reservationID string) error {
	return s.settle(ctx, reservationID, invdomain.ReservationConsumed)
}

func (s *Service) Release(ctx context.Context, reservationID string) error {
	return s.settle(ctx, reservationID, invdomain.ReservationReleased)
}

// settle moves a HELD reservation to its terminal state and applies the
// matching ledger line. The state guard makes a double settle fail loudly
// instead of double-counting stock.
func (s *Service) settle(ctx context.Context, reservationID string, to invdomain.ReservationState) error {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return invdomain.ErrUnknownReservation
	}

	var lastErr error
	for attempt := 0; attempt < versionRetries; attempt++ {
		lastErr = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			reservation, err := repository.ProvideStore[invdomain.Reservation](tx).
				FindOne(ctx, &invdomain.Reservation{ID: reservationID})
			if err != nil {
				return err
			}
			if reservation == nil {
				return invdomain.ErrUnknownReservation
			}

			now := time.Now().UTC()
			settled := tx.Model(&invdomain.Reservation{}).
				Where("id = ? AND state = ?", reservationID, invdomain.ReservationHeld).
				Updates(map[string]any{"state": to, "settled_at": now})
			if settled.Error != nil {
				return settled.Error
			}
			if settled.RowsAffected == 0 {
				return invdomain.ErrUnknownReservation
			}

			item, err := s.loadItem(ctx, tx, reservation.PartNumber, reservation.WarehouseID)
			if err != nil {
				return err
			}
			if item == nil {
				return invdomain.ErrItemNotFound
			}

			movement := invdomain.StockMovement{
				PartNumber:           reservation.PartNumber,
				WarehouseID:          reservation.WarehouseID,
				ReservationID:        reservation.ID,
				ReferenceWorkOrderID: &reservation.WorkOrderID,
			}
			onHand := item.QuantityOnHand
			reserved := item.QuantityReserved - reservation.Quantity
			switch to {
			case invdomain.ReservationConsumed:
				movement.Type = invdomain.MovementConsume
				movement.Quantity = -reservation.Quantity
				onHand -= reservation.Quantity
			default:
				movement.Type = invdomain.MovementReleaseReservation
				movement.Quantity = -reservation.Quantity
			}
			if onHand < 0 || reserved < 0 {
				return invdomain.ErrInvariantViolation
			}
			if err := s.appendMovement(tx, &movement); err != nil {
				return err
			}
			return s.updateItem(tx, item, onHand, reserved)
		})
		if lastErr != invdomain.ErrConcurrentModification {
			return lastErr
		}
	}
	return lastErr
}

func (s *Service) GetItem(ctx context.Context, partNumber, warehouseID string) (*invdomain.InventoryItem, error) {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return nil, err
	}
	item, err := s.loadItem(ctx, s.db, partNumber, warehouseID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, invdomain.ErrItemNotFound
	}
	return item, nil
}

func (s *Service) GetReservation(ctx context.Context, reservationID string) (*invdomain.Reservation, error) {
	reservation, err := repository.ProvideStore[invdomain.Reservation](s.db).
		FindOne(ctx, &invdomain.Reservation{ID: strings.TrimSpace(reservationID)})
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, invdomain.ErrUnknownReservation
	}
	return reservation, nil
}

func (s *Service) ListMovements(ctx context.Context, partNumber, warehouseID string) ([]invdomain.StockMovement, error) {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return nil, err
	}
	var out []invdomain.StockMovement
	err = s.db.WithContext(ctx).
		Where("part_number = ? AND warehouse_id = ?", partNumber, warehouseID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (s *Service) Reconcile(ctx context.Context, partNumber, warehouseID string) (*invdomain.ReconcileResult, error) {
	partNumber, warehouseID, err := normalizeKeys(partNumber, warehouseID)
	if err != nil {
		return nil, err
	}
	item, err := s.GetItem(ctx, partNumber, warehouseID)
	if err != nil {
		return nil, err
	}
	movements, err := s.ListMovements(ctx, partNumber, warehouseID)
	if err != nil {
		return nil, err
	}

	onHand, reserved := invdomain.FoldMovements(movements)
	result := &invdomain.ReconcileResult{
		PartNumber:        partNumber,
		WarehouseID:       warehouseID,
		FoldedOnHand:      onHand,
		FoldedReserved:    reserved,
		ProjectedOnHand:   item.QuantityOnHand,
		ProjectedReserved: item.QuantityReserved,
		Match:             onHand == item.QuantityOnHand && reserved == item.QuantityReserved,
	}
	if result.Match {
		return result, nil
	}

	s.log.Error("ledger fold mismatch",
		zap.String("part_number", partNumber),
		zap.String("warehouse_id", warehouseID),
		zap.Int64("folded_on_hand", onHand),
		zap.Int64("projected_on_hand", item.QuantityOnHand),
		zap.Int64("folded_reserved", reserved),
		zap.Int64("projected_reserved", item.QuantityReserved),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordIntegrityAlarm(ctx, partNumber)
	}
	if s.hub != nil {
		s.hub.Publish(events.Event{
			Topic:      events.TopicIntegrityAlarm,
			PartNumber: partNumber,
			Payload: map[string]any{
				"warehouse_id":       warehouseID,
				"folded_on_hand":     onHand,
				"folded_reserved":    reserved,
				"projected_on_hand":  item.QuantityOnHand,
				"projected_reserved": item.QuantityReserved,
			},
		})
	}
	return result, invdomain.ErrLedgerFoldMismatch
}

func (s *Service) ReconcileAll(ctx context.Context) ([]*invdomain.ReconcileResult, error) {
	var items []invdomain.InventoryItem
	if err := s.db.WithContext(ctx).Order("part_number ASC, warehouse_id ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	out := make([]*invdomain.ReconcileResult, 0, len(items))
	var firstErr error
	for _, item := range items {
		result, err := s.Reconcile(ctx, item.PartNumber, item.WarehouseID)
		if err != nil && err != invdomain.ErrLedgerFoldMismatch {
			return out, err
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, result)
	}
	return out, firstErr
}

func (s *Service) loadItem(ctx context.Context, tx *gorm.DB, partNumber, warehouseID string) (*invdomain.InventoryItem, error) {
	return repository.ProvideStore[invdomain.InventoryItem](tx).
		FindOne(ctx, &invdomain.InventoryItem{PartNumber: partNumber, WarehouseID: warehouseID})
}

func (s *Service) createItem(tx *gorm.DB, movement invdomain.StockMovement) error {
	if err := s.appendMovement(tx, &movement); err != nil {
		return err
	}
	return tx.Create(&invdomain.InventoryItem{
		ID:             s.genID.Generate(),
		PartNumber:     movement.PartNumber,
		WarehouseID:    movement.WarehouseID,
		QuantityOnHand: movement.Quantity,
		Version:        1,
		UpdatedAt:      time.Now().UTC(),
	}).Error
}

func (s *Service) appendMovement(tx *gorm.DB, movement *invdomain.StockMovement) error {
	movement.ID = s.genID.Generate()
	now := time.Now().UTC()
	if movement.OccurredAt.IsZero() {
		movement.OccurredAt = now
	}
	movement.CreatedAt = now
	return tx.Create(movement).Error
}

// updateItem writes the new counts under the version guard. RowsAffected 0
// means another writer got there first.
func (s *Service) updateItem(tx *gorm.DB, item *invdomain.InventoryItem, onHand, reserved int64) error {
	result := tx.Model(&invdomain.InventoryItem{}).
		Where("id = ? AND version = ?", item.ID, item.Version).
		Updates(map[string]any{
			"quantity_on_hand":  onHand,
			"quantity_reserved": reserved,
			"version":           item.Version + 1,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return invdomain.ErrConcurrentModification
	}
	return nil
}

func normalizeKeys(partNumber, warehouseID string) (string, string, error) {
	partNumber = strings.TrimSpace(partNumber)
	if partNumber == "" {
		return "", "", invdomain.ErrInvalidPart
	}
	warehouseID = strings.TrimSpace(warehouseID)
	if warehouseID == "" {
		return "", "", invdomain.ErrInvalidWarehouse
	}
	return partNumber, warehouseID, nil
}

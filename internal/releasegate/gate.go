// Package releasegate re-verifies every release condition at the moment of
// release. It loads its own view of the order and trusts nothing the caller
// claims to have checked earlier.
package releasegate

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

// ReleaseBlockedError carries every failed condition, not just the first,
// so the operator fixes the order in one pass.
type ReleaseBlockedError struct {
	Reasons []string
}

func (e *ReleaseBlockedError) Error() string {
	return "release_blocked: " + strings.Join(e.Reasons, "; ")
}

type GateParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Compliance compliancedomain.Service
}

type Gate struct {
	db         *gorm.DB
	log        *zap.Logger
	compliance compliancedomain.Service
}

func NewGate(p GateParam) *Gate {
	return &Gate{
		db:         p.DB,
		log:        p.Log.Named("releasegate"),
		compliance: p.Compliance,
	}
}

// CanRelease loads the order fresh and checks it against all release
// conditions. It returns a *ReleaseBlockedError listing every violation, or
// nil when the aircraft may go back to service.
func (g *Gate) CanRelease(ctx context.Context, workOrderID snowflake.ID) error {
	var order workorderdomain.WorkOrder
	err := g.db.WithContext(ctx).
		Preload("Tasks").
		Where("id = ?", workOrderID).
		First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return workorderdomain.ErrOrderNotFound
		}
		return err
	}

	var reasons []string

	if order.Status != workorderdomain.StatusCompleted {
		reasons = append(reasons, fmt.Sprintf("order status is %s, not %s", order.Status, workorderdomain.StatusCompleted))
	}

	for i := range order.Tasks {
		task := &order.Tasks[i]
		if task.Required && task.Status != workorderdomain.TaskStatusDone {
			reasons = append(reasons, fmt.Sprintf("required task %d is not done", task.Seq))
		}
		if task.IsRII {
			switch {
			case task.Status != workorderdomain.TaskStatusDone:
				reasons = append(reasons, fmt.Sprintf("inspection task %d is not done", task.Seq))
			case task.InspectedBy == nil:
				reasons = append(reasons, fmt.Sprintf("inspection task %d has no inspector signature", task.Seq))
			case task.CompletedBy != nil && *task.InspectedBy == *task.CompletedBy:
				reasons = append(reasons, fmt.Sprintf("inspection task %d was inspected by the mechanic who performed it", task.Seq))
			}
		}
	}

	// A sibling order blocks release unless it is finished or explicitly
	// marked safe to carry through a release.
	var blocking []workorderdomain.WorkOrder
	err = g.db.WithContext(ctx).
		Where("aircraft_id = ? AND id <> ? AND concurrent_safe = ? AND status NOT IN ?",
			order.AircraftID, order.ID, false,
			[]workorderdomain.Status{workorderdomain.StatusReleased, workorderdomain.StatusCancelled}).
		Find(&blocking).Error
	if err != nil {
		return err
	}
	for _, sibling := range blocking {
		reasons = append(reasons, fmt.Sprintf("work order %s on the same aircraft is still %s", sibling.ID, sibling.Status))
	}

	// The compliance check is hypothetical: would the triggering requirement
	// still be overdue if this work counted as done right now.
	if order.TriggerID != nil {
		state, err := g.compliance.EvaluateHypothetical(ctx, order.AircraftID, *order.TriggerID)
		if err != nil {
			return err
		}
		if state == compliancedomain.StateOverdue {
			reasons = append(reasons, fmt.Sprintf("compliance for trigger %s would still be %s after release", order.TriggerID, state))
		}
	}

	if len(reasons) > 0 {
		g.log.Warn("release blocked",
			zap.String("work_order_id", order.ID.String()),
			zap.Strings("reasons", reasons),
		)
		return &ReleaseBlockedError{Reasons: reasons}
	}
	return nil
}

package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB *gorm.DB
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(p Params) programdomain.Repository {
	return &Repository{db: p.DB}
}

func (r *Repository) GetTrigger(ctx context.Context, triggerID snowflake.ID) (*programdomain.MaintenanceTrigger, error) {
	var trigger programdomain.MaintenanceTrigger
	err := r.db.WithContext(ctx).
		Preload("Thresholds").
		Where("id = ?", triggerID).
		First(&trigger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, programdomain.ErrTriggerNotFound
		}
		return nil, err
	}
	return &trigger, nil
}

func (r *Repository) ListActiveByKind(ctx context.Context, kind usagedomain.SubjectKind) ([]*programdomain.MaintenanceTrigger, error) {
	var triggers []*programdomain.MaintenanceTrigger
	err := r.db.WithContext(ctx).
		Preload("Thresholds").
		Where("subject_kind = ? AND active = ?", kind, true).
		Find(&triggers).Error
	return triggers, err
}

func (r *Repository) ListTaskTemplates(ctx context.Context, triggerID snowflake.ID) ([]*programdomain.TaskTemplate, error) {
	var templates []*programdomain.TaskTemplate
	err := r.db.WithContext(ctx).
		Where("trigger_id = ?", triggerID).
		Order("seq ASC").
		Find(&templates).Error
	return templates, err
}

func (r *Repository) ListCalendarTriggerIDs(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).
		Model(&programdomain.TriggerThreshold{}).
		Where("metric = ?", programdomain.MetricCalendarDays).
		Distinct("trigger_id").
		Pluck("trigger_id", &ids).Error
	return ids, err
}

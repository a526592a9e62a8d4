package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
)

// Repository is the read-only access the engine gets to program config.
type Repository interface {
	GetTrigger(ctx context.Context, triggerID snowflake.ID) (*MaintenanceTrigger, error)
	ListActiveByKind(ctx context.Context, kind usagedomain.SubjectKind) ([]*MaintenanceTrigger, error)
	ListTaskTemplates(ctx context.Context, triggerID snowflake.ID) ([]*TaskTemplate, error)
	ListCalendarTriggerIDs(ctx context.Context) ([]snowflake.ID, error)
}

var ErrTriggerNotFound = errors.New("trigger_not_found")

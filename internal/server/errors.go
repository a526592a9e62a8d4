package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	compliancedomain "github.com/flightworks/mxengine/internal/compliance/domain"
	invdomain "github.com/flightworks/mxengine/internal/inventory/domain"
	programdomain "github.com/flightworks/mxengine/internal/program/domain"
	"github.com/flightworks/mxengine/internal/releasegate"
	"github.com/flightworks/mxengine/internal/telemetry"
	usagedomain "github.com/flightworks/mxengine/internal/usage/domain"
	workorderdomain "github.com/flightworks/mxengine/internal/workorder/domain"
)

type errorPayload struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Reasons []string `json:"reasons,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware translates sentinel errors pushed onto the gin
// context into JSON error responses.
func ErrorHandlingMiddleware(metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if metrics != nil && errors.Is(lastErr.Err, workorderdomain.ErrConcurrentModification) {
			metrics.TransitionRetries.Inc()
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var blocked *releasegate.ReleaseBlockedError
	if errors.As(err, &blocked) {
		return http.StatusConflict, errorPayload{
			Type:    "release_blocked",
			Message: "release blocked",
			Reasons: blocked.Reasons,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrInvalidSubjectKind),
		errors.Is(err, usagedomain.ErrInvalidEventTime),
		errors.Is(err, usagedomain.ErrEmptyEvent),
		errors.Is(err, workorderdomain.ErrInvalidAircraft),
		errors.Is(err, workorderdomain.ErrInvalidOrderType),
		errors.Is(err, workorderdomain.ErrInvalidTrigger),
		errors.Is(err, workorderdomain.ErrNoTasks),
		errors.Is(err, workorderdomain.ErrMissingActor),
		errors.Is(err, workorderdomain.ErrInvalidQuantity),
		errors.Is(err, compliancedomain.ErrInvalidSubject),
		errors.Is(err, compliancedomain.ErrInvalidTrigger),
		errors.Is(err, invdomain.ErrInvalidPart),
		errors.Is(err, invdomain.ErrInvalidWarehouse),
		errors.Is(err, invdomain.ErrInvalidQuantity):
		return true
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrInvalidSubject),
		errors.Is(err, workorderdomain.ErrOrderNotFound),
		errors.Is(err, workorderdomain.ErrTaskNotFound),
		errors.Is(err, compliancedomain.ErrStatusNotFound),
		errors.Is(err, programdomain.ErrTriggerNotFound),
		errors.Is(err, invdomain.ErrItemNotFound),
		errors.Is(err, invdomain.ErrUnknownReservation):
		return true
	}
	return false
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, workorderdomain.ErrConcurrentModification),
		errors.Is(err, workorderdomain.ErrDuplicateOpenOrder),
		errors.Is(err, workorderdomain.ErrInvalidTransition),
		errors.Is(err, workorderdomain.ErrOrderTerminal),
		errors.Is(err, workorderdomain.ErrIncompleteTasks),
		errors.Is(err, workorderdomain.ErrSeparationOfDuties),
		errors.Is(err, workorderdomain.ErrAlreadyInspectedBySameUser),
		errors.Is(err, workorderdomain.ErrNotRII),
		errors.Is(err, workorderdomain.ErrTaskNotDone),
		errors.Is(err, usagedomain.ErrSubjectKindChanged),
		errors.Is(err, invdomain.ErrConcurrentModification),
		errors.Is(err, invdomain.ErrInvariantViolation):
		return true
	}
	return false
}

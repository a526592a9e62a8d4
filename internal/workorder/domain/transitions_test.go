package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextValidMoves(t *testing.T) {
	cases := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusDraft, ActionSubmit, StatusOpen},
		{StatusDraft, ActionCancel, StatusCancelled},
		{StatusOpen, ActionStart, StatusInProgress},
		{StatusInProgress, ActionHoldForParts, StatusPendingParts},
		{StatusPendingParts, ActionResume, StatusInProgress},
		{StatusInProgress, ActionSubmitInspection, StatusPendingInspection},
		{StatusPendingInspection, ActionResume, StatusInProgress},
		{StatusPendingInspection, ActionComplete, StatusCompleted},
		{StatusInProgress, ActionComplete, StatusCompleted},
		{StatusCompleted, ActionRelease, StatusReleased},
		{StatusCompleted, ActionCancel, StatusCancelled},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.action)
		require.NoError(t, err, "%s + %s", tc.from, tc.action)
		assert.Equal(t, tc.to, got)
	}
}

func TestNextRejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		from   Status
		action Action
	}{
		{StatusDraft, ActionStart},
		{StatusDraft, ActionRelease},
		{StatusOpen, ActionComplete},
		{StatusOpen, ActionRelease},
		{StatusPendingParts, ActionComplete},
		{StatusReleased, ActionCancel},
		{StatusReleased, ActionStart},
		{StatusCancelled, ActionSubmit},
		{StatusCancelled, ActionRelease},
	}
	for _, tc := range cases {
		_, err := Next(tc.from, tc.action)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s + %s", tc.from, tc.action)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusReleased.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusCompleted.Terminal())
	assert.False(t, StatusDraft.Terminal())
}

func TestReadyForCompletion(t *testing.T) {
	mechanic := "amt-17"
	inspector := "insp-04"

	order := &WorkOrder{Tasks: []Task{
		{Seq: 1, Required: true, Status: TaskStatusDone, CompletedBy: &mechanic},
		{Seq: 2, Required: false, Status: TaskStatusPending},
	}}
	assert.True(t, order.ReadyForCompletion(), "optional pending task does not block")

	order.Tasks[0].Status = TaskStatusPending
	assert.False(t, order.ReadyForCompletion(), "required pending task blocks")

	rii := &WorkOrder{Tasks: []Task{
		{Seq: 1, Required: true, IsRII: true, Status: TaskStatusDone, CompletedBy: &mechanic},
	}}
	assert.False(t, rii.ReadyForCompletion(), "uninspected rii task blocks")

	rii.Tasks[0].InspectedBy = &mechanic
	assert.False(t, rii.ReadyForCompletion(), "self-inspection blocks")

	rii.Tasks[0].InspectedBy = &inspector
	assert.True(t, rii.ReadyForCompletion())
}

package domain

// Action is a requested lifecycle move. Legality is decided here, in one
// table, so the guards stay auditable independent of persistence.
type Action string

const (
	ActionSubmit           Action = "SUBMIT"
	ActionStart            Action = "START"
	ActionHoldForParts     Action = "HOLD_FOR_PARTS"
	ActionSubmitInspection Action = "SUBMIT_FOR_INSPECTION"
	ActionResume           Action = "RESUME"
	ActionComplete         Action = "COMPLETE"
	ActionRelease          Action = "RELEASE"
	ActionCancel           Action = "CANCEL"
)

var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSubmit: StatusOpen,
		ActionCancel: StatusCancelled,
	},
	StatusOpen: {
		ActionStart:  StatusInProgress,
		ActionCancel: StatusCancelled,
	},
	StatusInProgress: {
		ActionHoldForParts:     StatusPendingParts,
		ActionSubmitInspection: StatusPendingInspection,
		ActionComplete:         StatusCompleted,
		ActionCancel:           StatusCancelled,
	},
	StatusPendingParts: {
		ActionResume: StatusInProgress,
		ActionCancel: StatusCancelled,
	},
	StatusPendingInspection: {
		ActionResume:   StatusInProgress,
		ActionComplete: StatusCompleted,
		ActionCancel:   StatusCancelled,
	},
	StatusCompleted: {
		ActionRelease: StatusReleased,
		ActionCancel:  StatusCancelled,
	},
}

// Next resolves the target status for an action, or ErrInvalidTransition.
func Next(from Status, action Action) (Status, error) {
	if moves, ok := transitions[from]; ok {
		if to, ok := moves[action]; ok {
			return to, nil
		}
	}
	return "", ErrInvalidTransition
}

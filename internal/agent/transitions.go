// internal/agent/transitions.go
package agent

import (
	"fmt"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// transitions lists, per status, every status the session may move to next.
var transitions = map[schemas.SessionStatus][]schemas.SessionStatus{
	schemas.StatusIdle: {
		schemas.StatusPlanning,
		schemas.StatusRunning,
		schemas.StatusFailed,
		schemas.StatusCancelled,
	},
	schemas.StatusPlanning: {
		schemas.StatusRunning,
		schemas.StatusCompleted,
		schemas.StatusFailed,
		schemas.StatusCancelled,
	},
	schemas.StatusRunning: {
		schemas.StatusPlanning,
		schemas.StatusPaused,
		schemas.StatusAwaitingConfirmation,
		schemas.StatusCompleted,
		schemas.StatusFailed,
		schemas.StatusCancelled,
	},
	schemas.StatusPaused: {
		schemas.StatusRunning,
		schemas.StatusFailed,
		schemas.StatusCancelled,
	},
	schemas.StatusAwaitingConfirmation: {
		schemas.StatusRunning,
		schemas.StatusFailed,
		schemas.StatusCancelled,
	},
}

// CanTransition reports whether a session in status from may move to status to.
func CanTransition(from, to schemas.SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to schemas.SessionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	return nil
}

package execution

import (
	"log"

	"redline/internal/models"
)

// validTransitions defines the allowed tool invocation status transitions.
// Any transition not listed here is invalid and will be rejected. Cancelled
// is a representable terminal status with no inbound edge: only an external
// cancellation path could assign it, never this engine.
var validTransitions = map[models.ToolStatus]map[models.ToolStatus]bool{
	models.ToolStatusPending: {
		models.ToolStatusApproved: true,
		models.ToolStatusDenied:   true,
	},
	models.ToolStatusApproved: {
		models.ToolStatusExecuting: true,
	},
	models.ToolStatusExecuting: {
		models.ToolStatusSuccess: true,
		models.ToolStatusError:   true,
		models.ToolStatusTimeout: true,
	},
}

// TransitionToolStatus validates and performs a tool status transition.
// Returns the new status if valid, or the current status if the transition
// is invalid.
func TransitionToolStatus(current, desired models.ToolStatus) models.ToolStatus {
	allowed, exists := validTransitions[current]
	if !exists || !allowed[desired] {
		log.Printf("⚠️ [STATE] Invalid tool transition: %s → %s (rejected)", current, desired)
		return current
	}
	return desired
}

// CanTransition reports whether a tool status transition is allowed without
// performing it.
func CanTransition(current, desired models.ToolStatus) bool {
	allowed, exists := validTransitions[current]
	return exists && allowed[desired]
}

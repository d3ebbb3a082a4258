// Package kernel provides the flow controller.
//
// The FlowController owns the process group, the scheduler and the drain
// timeout. It moves through Stopped, Starting, Running and Stopping and
// implements the drain protocol used on shutdown.
package kernel

// =============================================================================
// Valid State Transitions
// =============================================================================

// validTransitions defines allowed state transitions.
var validTransitions = map[ControllerState]map[ControllerState]bool{
	StateStopped: {
		StateStarting: true,
	},
	StateStarting: {
		StateRunning: true,
		StateStopped: true, // Start failed
	},
	StateRunning: {
		StateStopping: true,
	},
	StateStopping: {
		StateStopped: true,
	},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to ControllerState) bool {
	if targets, ok := validTransitions[from]; ok {
		return targets[to]
	}
	return false
}

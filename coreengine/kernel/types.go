package kernel

import (
	"errors"
	"fmt"
	"time"
)

// Logger is the logging interface used by the flow controller.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// Controller State
// =============================================================================

// ControllerState is the flow controller lifecycle state.
type ControllerState string

const (
	StateStopped  ControllerState = "stopped"
	StateStarting ControllerState = "starting"
	StateRunning  ControllerState = "running"
	StateStopping ControllerState = "stopping"
)

// ErrInvalidTransition is returned when an operation is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid controller state transition")

// =============================================================================
// Events
// =============================================================================

// EventType identifies a controller event.
type EventType string

const (
	EventStateChanged         EventType = "controller.state_changed"
	EventFlowStarted          EventType = "controller.flow_started"
	EventStartFailed          EventType = "controller.start_failed"
	EventFlowStopped          EventType = "controller.flow_stopped"
	EventDrainTimeoutExceeded EventType = "controller.drain_timeout_exceeded"
	EventExecutionAbandoned   EventType = "controller.execution_abandoned"
	EventStageFailed          EventType = "processor.execution_failed"
)

// Event is emitted to handlers registered with OnEvent.
type Event struct {
	Type         EventType      `json:"event_type"`
	Timestamp    time.Time      `json:"timestamp"`
	ControllerID string         `json:"controller_id"`
	Processor    string         `json:"processor,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// EventHandler handles controller events. Handlers run synchronously on the
// goroutine that emits.
type EventHandler func(*Event)

// =============================================================================
// Errors
// =============================================================================

// ShutdownError is returned by Stop when executions did not return within the
// halt grace period. The controller is stopped regardless.
type ShutdownError struct {
	Abandoned int
	Grace     time.Duration
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%d execution(s) still running after %s halt grace", e.Abandoned, e.Grace)
}

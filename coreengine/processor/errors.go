package processor

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWork may be returned from OnTrigger to report there was nothing to do.
	// The node yields and the session is rolled back without penalty.
	ErrNoWork = errors.New("no work available")

	// ErrUnknownRelationship is returned by Commit when an output targets a
	// relationship that is neither connected nor auto-terminated.
	ErrUnknownRelationship = errors.New("relationship has no connection and is not auto-terminated")

	// ErrUnroutedFlowFile is returned by Commit when a fetched or created flow
	// file was neither transferred nor removed.
	ErrUnroutedFlowFile = errors.New("flow file has no destination")

	// ErrNotRegistered is returned by Registry.New for an unknown type.
	ErrNotRegistered = errors.New("processor type not registered")

	// ErrAlreadyRegistered is returned when a type name is registered twice.
	ErrAlreadyRegistered = errors.New("processor type already registered")
)

// StageExecutionFailure wraps an error raised by one execution of a processor.
// The execution's batch is rolled back and scheduling continues.
type StageExecutionFailure struct {
	Processor string
	Err       error
}

func (e *StageExecutionFailure) Error() string {
	return fmt.Sprintf("processor %s execution failed: %v", e.Processor, e.Err)
}

func (e *StageExecutionFailure) Unwrap() error {
	return e.Err
}

// StartupResourceFailure reports that a processor could not acquire a required
// external resource while being scheduled. It aborts flow startup.
type StartupResourceFailure struct {
	Processor string
	Resource  string
	Err       error
}

func (e *StartupResourceFailure) Error() string {
	return fmt.Sprintf("processor %s cannot acquire %s: %v", e.Processor, e.Resource, e.Err)
}

func (e *StartupResourceFailure) Unwrap() error {
	return e.Err
}

// NewStartupResourceFailure creates a StartupResourceFailure.
func NewStartupResourceFailure(processor, resource string, err error) *StartupResourceFailure {
	return &StartupResourceFailure{Processor: processor, Resource: resource, Err: err}
}

// PropertyError reports an invalid processor property value.
type PropertyError struct {
	Processor string
	Property  string
	Value     string
	Reason    string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("processor %s: invalid value %q for property %q: %s", e.Processor, e.Value, e.Property, e.Reason)
}

// IsStartupResourceFailure reports whether err wraps a StartupResourceFailure.
func IsStartupResourceFailure(err error) bool {
	var target *StartupResourceFailure
	return errors.As(err, &target)
}

// IsPropertyError reports whether err wraps a PropertyError.
func IsPropertyError(err error) bool {
	var target *PropertyError
	return errors.As(err, &target)
}

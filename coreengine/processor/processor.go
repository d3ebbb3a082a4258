// Package processor provides the processing-stage capability and its runtime wrapper.
//
// A Processor holds the transformation logic. A Node wraps one processor
// instance with its scheduling metadata (strategy, period, concurrency
// limit, yield and penalization state) and its connections. A Session is
// the scoped handle an execution uses to fetch, produce and route flow files.
package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger is the logging interface used by processors and nodes.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Relationship is a named routing outcome.
type Relationship struct {
	Name        string
	Description string
}

// Common relationships.
var (
	Success = Relationship{Name: "success", Description: "Flow files processed successfully"}
	Failure = Relationship{Name: "failure", Description: "Flow files that could not be processed"}
)

// Processor is the transformation capability driven by the scheduler.
type Processor interface {
	// Relationships lists the outcomes OnTrigger may transfer to.
	Relationships() []Relationship
	// OnSchedule runs once per start before the first trigger. An error aborts start.
	OnSchedule(ctx context.Context, sc *ScheduleContext) error
	// OnTrigger performs one execution. Returning an error rolls the session back.
	OnTrigger(ctx context.Context, session *Session) error
}

// Initializer is implemented by processors that set up static state once,
// when the graph is built.
type Initializer interface {
	Initialize() error
}

// Unscheduler is implemented by processors that release resources on stop.
type Unscheduler interface {
	OnUnschedule(ctx context.Context)
}

// TriggerWhenEmpty is implemented by processors that must run even when
// their inbound connections hold nothing eligible.
type TriggerWhenEmpty interface {
	TriggerWhenEmpty() bool
}

// =============================================================================
// Registry
// =============================================================================

// Factory creates a fresh processor instance.
type Factory func() Processor

// Registry maps processor type names to factories.
// Thread-safe.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on duplicates. For init-time registration.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// New instantiates a processor of the given type.
func (r *Registry) New(name string) (Processor, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return f(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

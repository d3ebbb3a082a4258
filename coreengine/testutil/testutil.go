// Package testutil provides shared test utilities and mocks for integration tests.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring external dependencies.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
)

// =============================================================================
// COUNTING PROCESSORS
// =============================================================================

// CountingGenerator is a source that creates BatchSize flow files on every
// trigger and routes them to success.
type CountingGenerator struct {
	BatchSize int

	triggers atomic.Int64
}

// Relationships implements processor.Processor.
func (g *CountingGenerator) Relationships() []processor.Relationship {
	return []processor.Relationship{processor.Success}
}

// OnSchedule implements processor.Processor.
func (g *CountingGenerator) OnSchedule(context.Context, *processor.ScheduleContext) error {
	return nil
}

// OnTrigger implements processor.Processor.
func (g *CountingGenerator) OnTrigger(_ context.Context, s *processor.Session) error {
	n := g.triggers.Add(1)
	batch := g.BatchSize
	if batch <= 0 {
		batch = 1
	}
	for i := 0; i < batch; i++ {
		ff := s.Create()
		s.PutAttribute(ff, "generator.trigger", fmt.Sprint(n))
		s.Transfer(ff, processor.Success)
	}
	return nil
}

// Triggers returns how many times OnTrigger ran.
func (g *CountingGenerator) Triggers() int64 { return g.triggers.Load() }

// CountingSink consumes one flow file per trigger and routes it to success.
// FirstDelay makes the first trigger block for that long or until the
// execution is cancelled.
type CountingSink struct {
	FirstDelay time.Duration

	triggers atomic.Int64
	consumed atomic.Int64
}

// Relationships implements processor.Processor.
func (s *CountingSink) Relationships() []processor.Relationship {
	return []processor.Relationship{processor.Success}
}

// OnSchedule implements processor.Processor.
func (s *CountingSink) OnSchedule(context.Context, *processor.ScheduleContext) error {
	return nil
}

// OnTrigger implements processor.Processor.
func (s *CountingSink) OnTrigger(ctx context.Context, sess *processor.Session) error {
	n := s.triggers.Add(1)
	if n == 1 && s.FirstDelay > 0 {
		select {
		case <-time.After(s.FirstDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ff := sess.Get()
	if ff == nil {
		return processor.ErrNoWork
	}
	sess.Transfer(ff, processor.Success)
	s.consumed.Add(1)
	return nil
}

// Triggers returns how many times OnTrigger ran.
func (s *CountingSink) Triggers() int64 { return s.triggers.Load() }

// Consumed returns how many flow files were routed.
func (s *CountingSink) Consumed() int64 { return s.consumed.Load() }

// FailingScheduler fails OnSchedule with a StartupResourceFailure.
type FailingScheduler struct {
	Resource string
	Err      error
}

// Relationships implements processor.Processor.
func (f *FailingScheduler) Relationships() []processor.Relationship {
	return []processor.Relationship{processor.Success}
}

// OnSchedule implements processor.Processor.
func (f *FailingScheduler) OnSchedule(_ context.Context, sc *processor.ScheduleContext) error {
	return processor.NewStartupResourceFailure(sc.ProcessorName(), f.Resource, f.Err)
}

// OnTrigger implements processor.Processor.
func (f *FailingScheduler) OnTrigger(context.Context, *processor.Session) error { return nil }

// Registry returns a registry serving the given instances by type name.
// Each type always yields the same instance so tests can read its counters.
func Registry(instances map[string]processor.Processor) *processor.Registry {
	reg := processor.NewRegistry()
	for name, p := range instances {
		p := p
		reg.MustRegister(name, func() processor.Processor { return p })
	}
	return reg
}

// =============================================================================
// FLOW CONFIG HELPERS
// =============================================================================

// GeneratorSinkFlow is a two-processor flow: a timer-driven "Generator" of
// type "Generator" feeding a timer-driven "Sink" of type "Sink" over a
// connection named "gen-to-sink". Both run every period.
func GeneratorSinkFlow(period time.Duration) *config.FlowConfig {
	return &config.FlowConfig{
		ID:   "root",
		Name: "root",
		Processors: []config.ProcessorConfig{
			{
				ID:               "generator",
				Name:             "Generator",
				Type:             "Generator",
				Strategy:         processor.TimerDriven,
				SchedulingPeriod: period,
			},
			{
				ID:               "sink",
				Name:             "Sink",
				Type:             "Sink",
				Strategy:         processor.TimerDriven,
				SchedulingPeriod: period,
				AutoTerminated:   []string{"success"},
			},
		},
		Connections: []config.ConnectionConfig{
			{
				ID:            "gen-to-sink",
				Name:          "gen-to-sink",
				Source:        "generator",
				Destination:   "sink",
				Relationships: []string{"success"},
			},
		},
	}
}

// =============================================================================
// POLLING
// =============================================================================

// WaitFor polls cond every 5ms until it holds or timeout elapses.
// Returns whether cond held.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// =============================================================================
// MOCK STATE STORE
// =============================================================================

// MockStore implements state.Store for testing.
type MockStore struct {
	// State stores values by key.
	State map[string]map[string]string

	// SaveError causes Save to return this error.
	SaveError error

	// LoadError causes Load to return this error.
	LoadError error

	// SaveCount tracks the number of Save calls.
	SaveCount int

	// LoadCount tracks the number of Load calls.
	LoadCount int

	mu sync.Mutex
}

// NewMockStore creates a MockStore.
func NewMockStore() *MockStore {
	return &MockStore{State: make(map[string]map[string]string)}
}

// Load implements state.Store.
func (m *MockStore) Load(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCount++
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	values, ok := m.State[key]
	if !ok {
		return nil, state.ErrNotFound
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// Save implements state.Store.
func (m *MockStore) Save(_ context.Context, key string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCount++
	if m.SaveError != nil {
		return m.SaveError
	}
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	m.State[key] = copied
	return nil
}

// Delete implements state.Store.
func (m *MockStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.State, key)
	return nil
}

// Close implements state.Store.
func (m *MockStore) Close() error { return nil }

// Get returns the stored values for key (thread-safe).
func (m *MockStore) Get(key string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State[key]
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger captures log calls for testing.
type MockLogger struct {
	// Logs captures all log entries.
	Logs []LogEntry

	mu sync.Mutex
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{
		Logs: make([]LogEntry, 0),
	}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.log("debug", msg, keysAndValues...)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.log("info", msg, keysAndValues...)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.log("warn", msg, keysAndValues...)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.log("error", msg, keysAndValues...)
}

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make(map[string]any)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}

	m.Logs = append(m.Logs, LogEntry{
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
}

// GetLogs returns captured logs (thread-safe).
func (m *MockLogger) GetLogs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]LogEntry, len(m.Logs))
	copy(copied, m.Logs)
	return copied
}

// HasLog checks if a log message exists at the given level.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, log := range m.Logs {
		if log.Level == level && log.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured logs.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = nil
}

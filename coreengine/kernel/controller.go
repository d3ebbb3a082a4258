package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/graph"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/observability"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/scheduler"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
)

var tracer = otel.Tracer("flowkernel/kernel")

// Drain outcomes recorded in metrics and events.
const (
	drainOutcomeDrained = "drained"
	drainOutcomeTimeout = "timeout"
	drainOutcomeSkipped = "skipped"
)

// Options configures a FlowController.
type Options struct {
	Logger Logger
	// Store backs processor state. Defaults to an in-memory store.
	Store state.Store
	// Config supplies timing settings. Defaults to config.GetAgentConfig().
	Config *config.AgentConfig
}

// FlowController owns a process group and drives it through its lifecycle.
//
// Start, Stop and StopWithTimeout are serialized. State, IsRunning,
// SetDrainTimeout and DrainTimeout never block on them, so the drain timeout
// can be changed while a drain is in progress. Thread-safe.
type FlowController struct {
	id     string
	logger Logger
	group  *graph.ProcessGroup
	sched  *scheduler.Scheduler
	store  state.Store
	cfg    *config.AgentConfig

	// drainTimeout is re-read on every drain poll.
	drainTimeout atomic.Int64

	lifecycleMu      sync.Mutex
	stopHousekeeping func()

	mu        sync.RWMutex
	state     ControllerState
	startedAt time.Time

	eventHandlers []EventHandler
	eventMu       sync.RWMutex
}

// NewFlowController creates a stopped controller for group.
func NewFlowController(group *graph.ProcessGroup, opts Options) *FlowController {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.GetAgentConfig()
	}
	store := opts.Store
	if store == nil {
		store = state.NewMemoryStore()
	}

	fc := &FlowController{
		id:     uuid.NewString(),
		logger: opts.Logger,
		group:  group,
		store:  store,
		cfg:    cfg,
		state:  StateStopped,
	}
	fc.drainTimeout.Store(int64(cfg.DrainTimeout))

	var schedLogger scheduler.Logger
	if opts.Logger != nil {
		schedLogger = opts.Logger
	}
	fc.sched = scheduler.New(scheduler.Options{
		Logger:        schedLogger,
		IdlePoll:      cfg.IdlePoll,
		RetryInterval: cfg.BackpressureRetry,
		OnFailure:     fc.onStageFailure,
	})

	if fc.logger != nil {
		fc.logger.Info("flow_controller_initialized",
			"controller_id", fc.id,
			"group", group.Name(),
			"processors", len(group.Processors()),
			"connections", len(group.Connections()),
			"drain_timeout", cfg.DrainTimeout.String(),
		)
	}
	return fc
}

// ID returns the controller instance id.
func (fc *FlowController) ID() string { return fc.id }

// Group returns the root process group.
func (fc *FlowController) Group() *graph.ProcessGroup { return fc.group }

// Scheduler returns the scheduler driving the group.
func (fc *FlowController) Scheduler() *scheduler.Scheduler { return fc.sched }

// =============================================================================
// State
// =============================================================================

// State returns the current lifecycle state.
func (fc *FlowController) State() ControllerState {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.state
}

// IsRunning reports whether the controller is anywhere between the start of
// Start and the end of Stop.
func (fc *FlowController) IsRunning() bool {
	return fc.State() != StateStopped
}

// SetDrainTimeout updates the drain timeout. A drain in progress observes the
// new value on its next poll. Negative values are treated as zero.
func (fc *FlowController) SetDrainTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	prev := time.Duration(fc.drainTimeout.Swap(int64(d)))
	if fc.logger != nil && prev != d {
		fc.logger.Debug("drain_timeout_updated", "previous", prev.String(), "drain_timeout", d.String())
	}
}

// DrainTimeout returns the configured drain timeout.
func (fc *FlowController) DrainTimeout() time.Duration {
	return time.Duration(fc.drainTimeout.Load())
}

func (fc *FlowController) transition(to ControllerState) error {
	fc.mu.Lock()
	from := fc.state
	if !IsValidTransition(from, to) {
		fc.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	fc.state = to
	if to == StateRunning {
		fc.startedAt = time.Now()
	}
	fc.mu.Unlock()

	observability.RecordControllerTransition(string(from), string(to))
	fc.emit(EventStateChanged, "", map[string]any{"from": string(from), "to": string(to)})
	return nil
}

// =============================================================================
// Start
// =============================================================================

// Start schedules every processor and begins dispatching. OnSchedule runs
// for all processors concurrently; if any fails, the processors already
// scheduled are unscheduled, the controller returns to Stopped and the
// first failure is returned. Starting a running controller is a no-op.
func (fc *FlowController) Start(ctx context.Context) (err error) {
	fc.lifecycleMu.Lock()
	defer fc.lifecycleMu.Unlock()

	if fc.State() == StateRunning {
		return nil
	}
	if err := fc.transition(StateStarting); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "controller.start", trace.WithAttributes(
		attribute.String("flowkernel.controller.id", fc.id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "running")
		}
		span.End()
	}()

	nodes := fc.group.Processors()
	abort := func(err error) error {
		for _, n := range nodes {
			fc.sched.Unschedule(n)
			n.Unschedule(ctx)
		}
		_ = fc.transition(StateStopped)
		if fc.logger != nil {
			fc.logger.Error("flow_controller_start_failed", "error", err.Error())
		}
		fc.emit(EventStartFailed, "", map[string]any{"error": err.Error()})
		return err
	}

	if err := fc.scheduleAll(ctx, nodes); err != nil {
		return abort(err)
	}
	for _, n := range nodes {
		if err := fc.sched.Schedule(n); err != nil {
			return abort(err)
		}
	}
	fc.stopHousekeeping = fc.StartHousekeeping(fc.cfg.HousekeepingInterval)

	if err := fc.transition(StateRunning); err != nil {
		return err
	}
	if fc.logger != nil {
		fc.logger.Info("flow_controller_started",
			"controller_id", fc.id,
			"processors", len(nodes),
		)
	}
	fc.emit(EventFlowStarted, "", map[string]any{"processors": len(nodes)})
	return nil
}

// scheduleAll runs OnSchedule for every node concurrently. Errors that are
// neither resource nor property failures are reported as resource failures
// of the processor's schedule step.
func (fc *FlowController) scheduleAll(ctx context.Context, nodes []*processor.Node) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			var plog processor.Logger
			if fc.logger != nil {
				plog = fc.logger
			}
			err := n.Schedule(gctx, fc.store, plog)
			if err == nil || processor.IsStartupResourceFailure(err) || processor.IsPropertyError(err) {
				return err
			}
			return processor.NewStartupResourceFailure(n.Name(), "schedule", err)
		})
	}
	return g.Wait()
}

// =============================================================================
// Stop
// =============================================================================

// Stop stops the flow using the configured drain timeout.
//
// With drain set, source processors stop first and the controller waits for
// every connection to empty and every execution to finish, or for the drain
// timeout to elapse. The timeout is re-read on each poll. Remaining
// processors are then stopped and in-flight executions cancelled. Flow files
// still queued stay in their connections. Stopping a stopped controller is a
// no-op.
func (fc *FlowController) Stop(drain bool) error {
	fc.lifecycleMu.Lock()
	defer fc.lifecycleMu.Unlock()
	return fc.stopLocked(drain)
}

// StopWithTimeout sets the drain timeout and stops the flow.
func (fc *FlowController) StopWithTimeout(drain bool, timeout time.Duration) error {
	fc.SetDrainTimeout(timeout)
	return fc.Stop(drain)
}

func (fc *FlowController) stopLocked(drain bool) (err error) {
	if fc.State() == StateStopped {
		return nil
	}
	if err := fc.transition(StateStopping); err != nil {
		return err
	}

	_, span := tracer.Start(context.Background(), "controller.stop", trace.WithAttributes(
		attribute.String("flowkernel.controller.id", fc.id),
		attribute.Bool("flowkernel.drain", drain),
	))
	defer span.End()

	if fc.logger != nil {
		fc.logger.Info("flow_controller_stopping",
			"drain", drain,
			"drain_timeout", fc.DrainTimeout().String(),
			"queued", fc.group.TotalFlowFileCount(),
		)
	}

	for _, n := range fc.group.Sources() {
		fc.sched.Unschedule(n)
	}

	outcome := drainOutcomeSkipped
	if drain {
		outcome = fc.waitForDrain()
	}
	span.SetAttributes(attribute.String("flowkernel.drain.outcome", outcome))

	nodes := fc.group.Processors()
	for _, n := range nodes {
		fc.sched.Unschedule(n)
	}
	grace := fc.cfg.HaltGrace
	if grace <= 0 {
		grace = scheduler.DefaultHaltGrace
	}
	abandoned := fc.sched.Halt(grace)

	ctx := context.Background()
	for _, n := range nodes {
		n.Unschedule(ctx)
	}
	if fc.stopHousekeeping != nil {
		fc.stopHousekeeping()
		fc.stopHousekeeping = nil
	}

	if err := fc.transition(StateStopped); err != nil {
		return err
	}

	remaining := fc.group.TotalFlowFileCount()
	if fc.logger != nil {
		fc.logger.Info("flow_controller_stopped",
			"drain_outcome", outcome,
			"remaining", remaining,
			"abandoned", abandoned,
		)
	}
	fc.emit(EventFlowStopped, "", map[string]any{
		"drain_outcome": outcome,
		"remaining":     remaining,
	})

	if abandoned > 0 {
		fc.emit(EventExecutionAbandoned, "", map[string]any{"count": abandoned})
		err = &ShutdownError{Abandoned: abandoned, Grace: grace}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// waitForDrain polls until the group is idle or the live drain timeout has
// elapsed. No lock is held while waiting.
func (fc *FlowController) waitForDrain() string {
	poll := fc.cfg.DrainPollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	start := time.Now()

	for {
		if fc.group.AllQueuesEmpty() && fc.sched.InFlight() == 0 {
			elapsed := time.Since(start)
			observability.RecordDrain(drainOutcomeDrained, int(elapsed.Milliseconds()))
			if fc.logger != nil {
				fc.logger.Info("drain_completed", "elapsed", elapsed.String())
			}
			return drainOutcomeDrained
		}

		elapsed := time.Since(start)
		timeout := fc.DrainTimeout()
		if elapsed >= timeout {
			remaining := fc.group.TotalFlowFileCount()
			observability.RecordDrain(drainOutcomeTimeout, int(elapsed.Milliseconds()))
			if fc.logger != nil {
				fc.logger.Warn("drain_timeout_exceeded",
					"drain_timeout", timeout.String(),
					"elapsed", elapsed.String(),
					"remaining", remaining,
					"in_flight", fc.sched.InFlight(),
				)
			}
			fc.emit(EventDrainTimeoutExceeded, "", map[string]any{
				"drain_timeout": timeout.String(),
				"remaining":     remaining,
			})
			return drainOutcomeTimeout
		}

		time.Sleep(poll)
	}
}

// =============================================================================
// Event System
// =============================================================================

// OnEvent registers an event handler.
func (fc *FlowController) OnEvent(handler EventHandler) {
	fc.eventMu.Lock()
	defer fc.eventMu.Unlock()
	fc.eventHandlers = append(fc.eventHandlers, handler)
}

// emit emits an event to all handlers.
func (fc *FlowController) emit(eventType EventType, processorName string, data map[string]any) {
	fc.eventMu.RLock()
	handlers := make([]EventHandler, len(fc.eventHandlers))
	copy(handlers, fc.eventHandlers)
	fc.eventMu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	event := &Event{
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		ControllerID: fc.id,
		Processor:    processorName,
		Data:         data,
	}
	for _, handler := range handlers {
		handler(event)
	}
}

func (fc *FlowController) onStageFailure(failure *processor.StageExecutionFailure) {
	data := map[string]any{"error": failure.Err.Error()}
	var resource *processor.StartupResourceFailure
	if errors.As(failure.Err, &resource) {
		data["resource"] = resource.Resource
	}
	fc.emit(EventStageFailed, failure.Processor, data)
}

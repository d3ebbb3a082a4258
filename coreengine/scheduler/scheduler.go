// Package scheduler dispatches processor executions.
//
// Each scheduled node gets one dispatch loop. The loop decides when the node
// is eligible (running, not yielding, period elapsed for timer-driven nodes,
// work available, held outputs delivered, a concurrency slot free) and
// launches an execution in its own goroutine. Executions of every node share
// one cancellation generation which Halt cancels.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/connection"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/observability"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

var tracer = otel.Tracer("flowkernel/scheduler")

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ErrAlreadyScheduled is returned by Schedule for a node that already has a dispatch loop.
var ErrAlreadyScheduled = errors.New("node already scheduled")

// Outcome classifies one execution.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeNoWork    Outcome = "no_work"
	OutcomeYielded   Outcome = "yielded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Defaults applied to zero-valued Options.
const (
	DefaultIdlePoll   = 100 * time.Millisecond
	DefaultHaltGrace  = 30 * time.Second
	DefaultRetryDelay = processor.DefaultRetryInterval
)

// Options configures a Scheduler.
type Options struct {
	Logger Logger
	// IdlePoll bounds how long an idle loop sleeps before it re-checks
	// eligibility without an enqueue or completion signal.
	IdlePoll time.Duration
	// RetryInterval is handed to sessions for backpressured commits.
	RetryInterval time.Duration
	// OnFailure is called for every failed execution.
	OnFailure func(*processor.StageExecutionFailure)
	// OnExecuted is called after every execution with its outcome.
	OnExecuted func(node *processor.Node, outcome Outcome)
}

// Scheduler drives node executions. Thread-safe.
type Scheduler struct {
	opts Options

	mu     sync.Mutex
	loops  map[string]*loop
	wakers map[string]chan struct{}
	gen    *generation

	inFlight atomic.Int64
}

type loop struct {
	node *processor.Node
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// generation groups executions cancelled together by Halt.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newGeneration() *generation {
	ctx, cancel := context.WithCancel(context.Background())
	return &generation{ctx: ctx, cancel: cancel}
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	if opts.IdlePoll <= 0 {
		opts.IdlePoll = DefaultIdlePoll
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryDelay
	}
	return &Scheduler{
		opts:   opts,
		loops:  make(map[string]*loop),
		wakers: make(map[string]chan struct{}),
		gen:    newGeneration(),
	}
}

// =============================================================================
// Loop management
// =============================================================================

// Schedule marks node running and starts its dispatch loop.
// A yield already set on the node is honored.
func (s *Scheduler) Schedule(node *processor.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loops[node.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyScheduled, node.ID())
	}

	wake, ok := s.wakers[node.ID()]
	if !ok {
		wake = make(chan struct{}, 1)
		s.wakers[node.ID()] = wake
		for _, c := range node.Inbound() {
			c.OnEnqueue(func(*connection.Connection) { signal(wake) })
		}
	}

	l := &loop{
		node: node,
		wake: wake,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.loops[node.ID()] = l
	node.SetState(processor.StateRunning)

	SafeGo(s.opts.Logger, "dispatch_loop", func() { s.run(l) }, func(any) {
		node.SetState(processor.StateStopped)
	})

	if s.opts.Logger != nil {
		s.opts.Logger.Debug("node_scheduled",
			"processor", node.Name(),
			"strategy", string(node.Strategy()),
			"period", node.SchedulingPeriod().String(),
		)
	}
	return nil
}

// Unschedule stops dispatching new executions of node and waits for its loop
// to exit. Executions already in flight keep running.
func (s *Scheduler) Unschedule(node *processor.Node) {
	s.mu.Lock()
	l, ok := s.loops[node.ID()]
	delete(s.loops, node.ID())
	s.mu.Unlock()

	node.SetState(processor.StateStopped)
	if !ok {
		return
	}
	close(l.stop)
	<-l.done

	if s.opts.Logger != nil {
		s.opts.Logger.Debug("node_unscheduled", "processor", node.Name())
	}
}

// IsScheduled reports whether node has a dispatch loop.
func (s *Scheduler) IsScheduled(node *processor.Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[node.ID()]
	return ok
}

// Scheduled returns the number of nodes with a dispatch loop.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// InFlight returns the number of executions currently running on any node.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// Halt cancels every in-flight execution and waits up to grace for them to
// return. It returns the number of executions still running when grace ran
// out. Later executions belong to a fresh generation.
func (s *Scheduler) Halt(grace time.Duration) int {
	if grace <= 0 {
		grace = DefaultHaltGrace
	}

	s.mu.Lock()
	gen := s.gen
	s.gen = newGeneration()
	s.mu.Unlock()

	gen.cancel()

	done := make(chan struct{})
	go func() {
		gen.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return 0
	case <-timer.C:
		abandoned := s.InFlight()
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("execution_abandoned",
				"count", abandoned,
				"grace", grace.String(),
			)
		}
		return abandoned
	}
}

func (s *Scheduler) current() *generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// =============================================================================
// Dispatch loop
// =============================================================================

func (s *Scheduler) run(l *loop) {
	defer close(l.done)
	n := l.node
	var lastDispatch time.Time

	for {
		if !n.IsRunning() {
			return
		}
		if d := delay(n, lastDispatch, time.Now()); d > 0 {
			if !l.sleep(d, false) {
				return
			}
			continue
		}
		if !n.FlushHeld() || !n.HasWork() || !n.TryAcquire() {
			if !l.sleep(s.opts.IdlePoll, true) {
				return
			}
			continue
		}
		lastDispatch = time.Now()
		s.launch(l)
	}
}

// delay returns how long node must wait before its next dispatch.
// A timer-driven period counts from the latest dispatch or completion.
func delay(n *processor.Node, lastDispatch, now time.Time) time.Duration {
	next := n.YieldUntil()
	if n.Strategy() == processor.TimerDriven {
		mark := lastDispatch
		if c := n.LastCompleted(); c.After(mark) {
			mark = c
		}
		if !mark.IsZero() {
			if t := mark.Add(n.SchedulingPeriod()); t.After(next) {
				next = t
			}
		}
	}
	if next.After(now) {
		return next.Sub(now)
	}
	return 0
}

// sleep waits for d. With wakeable set an enqueue or completion ends the wait
// early. Returns false when the loop must exit.
func (l *loop) sleep(d time.Duration, wakeable bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var wake chan struct{}
	if wakeable {
		wake = l.wake
	}
	select {
	case <-l.stop:
		return false
	case <-timer.C:
	case <-wake:
	}
	return true
}

func (s *Scheduler) launch(l *loop) {
	n := l.node
	gen := s.current()
	gen.wg.Add(1)
	s.inFlight.Add(1)
	observability.SetActiveExecutions(n.Name(), n.ActiveExecutions())

	SafeGo(s.opts.Logger, "execution", func() {
		defer func() {
			n.MarkCompleted(time.Now())
			n.Release()
			observability.SetActiveExecutions(n.Name(), n.ActiveExecutions())
			s.inFlight.Add(-1)
			gen.wg.Done()
			signal(l.wake)
		}()
		s.execute(gen.ctx, n)
	}, nil)
}

// =============================================================================
// Execution
// =============================================================================

// execute runs one OnTrigger with its session and settles the batch.
func (s *Scheduler) execute(ctx context.Context, n *processor.Node) Outcome {
	ctx, span := tracer.Start(ctx, "processor.trigger", trace.WithAttributes(
		attribute.String("flowkernel.processor.id", n.ID()),
		attribute.String("flowkernel.processor.name", n.Name()),
	))
	defer span.End()

	start := time.Now()
	sess := processor.NewSession(ctx, n, processor.SessionOptions{
		RetryInterval: s.opts.RetryInterval,
		Logger:        s.opts.Logger,
	})

	err := SafeExecute(s.opts.Logger, "on_trigger", func() error {
		return n.Processor().OnTrigger(ctx, sess)
	})
	outcome, err := s.settle(ctx, n, sess, err)

	durationMS := int(time.Since(start).Milliseconds())
	n.RecordTrigger(outcome == OutcomeFailed)
	observability.RecordTrigger(n.Name(), string(outcome), durationMS)

	span.SetAttributes(
		attribute.String("flowkernel.outcome", string(outcome)),
		attribute.Int("flowkernel.fetched", sess.Fetched()),
		attribute.Int("flowkernel.transferred", sess.Transferred()),
		attribute.Int("duration_ms", durationMS),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, string(outcome))
	}

	if s.opts.OnExecuted != nil {
		s.opts.OnExecuted(n, outcome)
	}
	return outcome
}

// settle commits or rolls back whatever the execution left pending.
func (s *Scheduler) settle(ctx context.Context, n *processor.Node, sess *processor.Session, err error) (Outcome, error) {
	switch {
	case errors.Is(err, processor.ErrNoWork):
		sess.Rollback(false)
		n.Yield()
		return OutcomeNoWork, nil
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		sess.Rollback(false)
		return OutcomeCancelled, nil
	case err != nil:
		return OutcomeFailed, s.fail(n, sess, err)
	}

	if sess.HasPending() {
		if cerr := sess.Commit(); cerr != nil {
			return OutcomeFailed, s.fail(n, sess, cerr)
		}
	}

	switch {
	case ctx.Err() != nil:
		return OutcomeCancelled, nil
	case sess.YieldRequested():
		n.Yield()
		return OutcomeYielded, nil
	case sess.Fetched() == 0 && sess.Commits() == 0:
		n.Yield()
		return OutcomeNoWork, nil
	}
	return OutcomeCommitted, nil
}

func (s *Scheduler) fail(n *processor.Node, sess *processor.Session, err error) error {
	sess.Rollback(true)
	n.Yield()

	failure := &processor.StageExecutionFailure{Processor: n.Name(), Err: err}
	if s.opts.Logger != nil {
		s.opts.Logger.Error("trigger_failed",
			"processor", n.Name(),
			"error", err.Error(),
		)
	}
	if s.opts.OnFailure != nil {
		s.opts.OnFailure(failure)
	}
	return failure
}

package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/connection"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/flowfile"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
)

// =============================================================================
// Scheduling metadata
// =============================================================================

// Strategy selects how a node becomes eligible for execution.
type Strategy string

const (
	// TimerDriven runs the node once its period has elapsed since the last completed execution.
	TimerDriven Strategy = "TIMER_DRIVEN"
	// EventDriven runs the node when an inbound connection receives work.
	EventDriven Strategy = "EVENT_DRIVEN"
)

// ParseStrategy accepts the strategy names case-insensitively. Empty means TimerDriven.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(TimerDriven):
		return TimerDriven, nil
	case string(EventDriven):
		return EventDriven, nil
	default:
		return "", fmt.Errorf("unknown scheduling strategy %q", s)
	}
}

// State is the node run state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Defaults applied to zero-valued node settings.
const (
	DefaultYieldPeriod        = time.Second
	DefaultPenalizationPeriod = 30 * time.Second
)

// Config is the node's scheduling configuration.
type Config struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Type               string         `json:"type"`
	Strategy           Strategy       `json:"scheduling_strategy"`
	SchedulingPeriod   time.Duration  `json:"scheduling_period"`
	MaxConcurrentTasks int            `json:"max_concurrent_tasks"`
	YieldPeriod        time.Duration  `json:"yield_period"`
	PenalizationPeriod time.Duration  `json:"penalization_period"`
	AutoTerminated     []string       `json:"auto_terminated_relationships"`
	Properties         map[string]any `json:"properties"`
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = TimerDriven
	}
	if c.MaxConcurrentTasks < 1 {
		c.MaxConcurrentTasks = 1
	}
	if c.YieldPeriod <= 0 {
		c.YieldPeriod = DefaultYieldPeriod
	}
	if c.PenalizationPeriod <= 0 {
		c.PenalizationPeriod = DefaultPenalizationPeriod
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.Properties == nil {
		c.Properties = map[string]any{}
	}
}

// Delivery is an output flow file bound to the connection it must enter.
type Delivery struct {
	FlowFile   *flowfile.FlowFile
	Connection *connection.Connection
}

// Stats is a point-in-time view of node counters.
type Stats struct {
	Triggers         int64 `json:"triggers"`
	Failures         int64 `json:"failures"`
	Commits          int64 `json:"commits"`
	FlowFilesIn      int64 `json:"flowfiles_in"`
	FlowFilesOut     int64 `json:"flowfiles_out"`
	Dropped          int64 `json:"auto_terminated"`
	ActiveExecutions int   `json:"active_executions"`
	Held             int   `json:"held"`
}

// =============================================================================
// Node
// =============================================================================

// Node wraps a processor with its scheduling state and connections.
// Thread-safe.
type Node struct {
	cfg            Config
	proc           Processor
	autoTerminated map[string]bool

	connMu      sync.RWMutex
	inbound     []*connection.Connection
	outbound    map[string][]*connection.Connection
	nextInbound atomic.Uint32

	mu        sync.Mutex
	state     State
	held      []Delivery
	scheduled bool

	yieldUntil    atomic.Int64
	lastCompleted atomic.Int64
	active        atomic.Int32

	triggers atomic.Int64
	failures atomic.Int64
	commits  atomic.Int64
	in       atomic.Int64
	out      atomic.Int64
	dropped  atomic.Int64
}

// NewNode wraps proc. Zero-valued settings get defaults.
func NewNode(cfg Config, proc Processor) (*Node, error) {
	if cfg.ID == "" {
		return nil, errors.New("processor id is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor %s: nil implementation", cfg.ID)
	}
	cfg.applyDefaults()

	n := &Node{
		cfg:            cfg,
		proc:           proc,
		autoTerminated: make(map[string]bool, len(cfg.AutoTerminated)),
		outbound:       make(map[string][]*connection.Connection),
		state:          StateStopped,
	}
	for _, rel := range cfg.AutoTerminated {
		n.autoTerminated[rel] = true
	}
	return n, nil
}

// ID returns the node id.
func (n *Node) ID() string { return n.cfg.ID }

// Name returns the node name.
func (n *Node) Name() string { return n.cfg.Name }

// Type returns the registered processor type.
func (n *Node) Type() string { return n.cfg.Type }

// Config returns a copy of the node configuration.
func (n *Node) Config() Config { return n.cfg }

// Processor returns the wrapped implementation.
func (n *Node) Processor() Processor { return n.proc }

// Strategy returns how the scheduler triggers the node.
func (n *Node) Strategy() Strategy { return n.cfg.Strategy }

// SchedulingPeriod returns the minimum gap between timer-driven triggers.
func (n *Node) SchedulingPeriod() time.Duration { return n.cfg.SchedulingPeriod }

// MaxConcurrentTasks returns how many executions may run at once.
func (n *Node) MaxConcurrentTasks() int { return n.cfg.MaxConcurrentTasks }

// PenalizationPeriod returns how long a penalized flow file is held back.
func (n *Node) PenalizationPeriod() time.Duration { return n.cfg.PenalizationPeriod }

// YieldPeriod returns how long the node sits out after yielding.
func (n *Node) YieldPeriod() time.Duration { return n.cfg.YieldPeriod }

// IsAutoTerminated reports whether outputs on rel are dropped.
func (n *Node) IsAutoTerminated(rel string) bool {
	return n.autoTerminated[rel]
}

// SupportsRelationship reports whether the processor declares rel.
func (n *Node) SupportsRelationship(rel string) bool {
	for _, r := range n.proc.Relationships() {
		if r.Name == rel {
			return true
		}
	}
	return false
}

// =============================================================================
// Connections
// =============================================================================

// AddInbound attaches a connection this node consumes from.
func (n *Node) AddInbound(c *connection.Connection) {
	n.connMu.Lock()
	defer n.connMu.Unlock()
	n.inbound = append(n.inbound, c)
}

// AddOutbound attaches a connection for each relationship it routes.
func (n *Node) AddOutbound(c *connection.Connection) {
	n.connMu.Lock()
	defer n.connMu.Unlock()
	for _, rel := range c.Config().Relationships {
		n.outbound[rel] = append(n.outbound[rel], c)
	}
}

// Inbound returns the inbound connections.
func (n *Node) Inbound() []*connection.Connection {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	out := make([]*connection.Connection, len(n.inbound))
	copy(out, n.inbound)
	return out
}

// Outbound returns the connections routed from rel.
func (n *Node) Outbound(rel string) []*connection.Connection {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	out := make([]*connection.Connection, len(n.outbound[rel]))
	copy(out, n.outbound[rel])
	return out
}

// IsSource reports whether the node has no inbound connections.
func (n *Node) IsSource() bool {
	n.connMu.RLock()
	defer n.connMu.RUnlock()
	return len(n.inbound) == 0
}

// HasWork reports whether an execution could find something to do.
func (n *Node) HasWork() bool {
	if t, ok := n.proc.(TriggerWhenEmpty); ok && t.TriggerWhenEmpty() {
		return true
	}
	inbound := n.Inbound()
	if len(inbound) == 0 {
		return true
	}
	for _, c := range inbound {
		if c.HasEligible() {
			return true
		}
	}
	return false
}

// inboundRotation returns inbound connections starting at a rotating offset.
func (n *Node) inboundRotation() []*connection.Connection {
	in := n.Inbound()
	if len(in) < 2 {
		return in
	}
	start := int(n.nextInbound.Add(1)-1) % len(in)
	out := make([]*connection.Connection, 0, len(in))
	out = append(out, in[start:]...)
	return append(out, in[:start]...)
}

// =============================================================================
// Yield
// =============================================================================

// Yield excludes the node from scheduling for its yield period.
func (n *Node) Yield() {
	n.YieldFor(n.cfg.YieldPeriod)
}

// YieldFor excludes the node from scheduling for d. An existing longer yield is kept.
func (n *Node) YieldFor(d time.Duration) {
	until := time.Now().Add(d).UnixNano()
	for {
		cur := n.yieldUntil.Load()
		if cur >= until || n.yieldUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

// ClearYield makes the node immediately eligible.
func (n *Node) ClearYield() {
	n.yieldUntil.Store(0)
}

// YieldUntil returns when the current yield ends. Zero when not yielding.
func (n *Node) YieldUntil() time.Time {
	v := n.yieldUntil.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// IsYielding reports whether now is inside the yield window.
func (n *Node) IsYielding(now time.Time) bool {
	return now.UnixNano() < n.yieldUntil.Load()
}

// =============================================================================
// Concurrency gate
// =============================================================================

// TryAcquire reserves an execution slot. Returns false at the concurrency limit.
func (n *Node) TryAcquire() bool {
	limit := int32(n.cfg.MaxConcurrentTasks)
	for {
		cur := n.active.Load()
		if cur >= limit {
			return false
		}
		if n.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees an execution slot acquired with TryAcquire.
func (n *Node) Release() {
	n.active.Add(-1)
}

// ActiveExecutions returns the number of executions in flight.
func (n *Node) ActiveExecutions() int {
	return int(n.active.Load())
}

// MarkCompleted records the completion time of an execution.
func (n *Node) MarkCompleted(t time.Time) {
	n.lastCompleted.Store(t.UnixNano())
}

// LastCompleted returns when the last execution completed. Zero before the first.
func (n *Node) LastCompleted() time.Time {
	v := n.lastCompleted.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// =============================================================================
// Run state
// =============================================================================

// State returns the run state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// IsRunning reports whether the node is in the running state.
func (n *Node) IsRunning() bool {
	return n.State() == StateRunning
}

// SetState sets the run state. Returns the previous state.
func (n *Node) SetState(s State) State {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.state
	n.state = s
	return prev
}

// Schedule runs the processor's OnSchedule. It is a no-op when already scheduled.
func (n *Node) Schedule(ctx context.Context, store state.Store, logger Logger) error {
	n.mu.Lock()
	if n.scheduled {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if err := n.proc.OnSchedule(ctx, NewScheduleContext(n, store, logger)); err != nil {
		return err
	}

	n.mu.Lock()
	n.scheduled = true
	n.mu.Unlock()
	return nil
}

// Unschedule runs OnUnschedule if implemented, allowing the next start to schedule again.
func (n *Node) Unschedule(ctx context.Context) {
	n.mu.Lock()
	was := n.scheduled
	n.scheduled = false
	n.mu.Unlock()

	if !was {
		return
	}
	if u, ok := n.proc.(Unscheduler); ok {
		u.OnUnschedule(ctx)
	}
}

// IsScheduled reports whether OnSchedule has completed since the last Unschedule.
func (n *Node) IsScheduled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scheduled
}

// =============================================================================
// Held outputs
// =============================================================================

// Hold keeps deliveries a cancelled commit could not complete.
func (n *Node) Hold(ds []Delivery) {
	if len(ds) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.held = append(n.held, ds...)
}

// HeldCount returns the number of held outputs.
func (n *Node) HeldCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.held)
}

// FlushHeld tries to deliver held outputs in order without waiting.
// Returns true when nothing remains held.
func (n *Node) FlushHeld() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(n.held) > 0 {
		d := n.held[0]
		if err := d.Connection.TryEnqueue(d.FlowFile); err != nil {
			return false
		}
		n.out.Add(1)
		n.held = n.held[1:]
	}
	n.held = nil
	return true
}

// =============================================================================
// Counters
// =============================================================================

// RecordTrigger counts one execution and whether it failed.
func (n *Node) RecordTrigger(failed bool) {
	n.triggers.Add(1)
	if failed {
		n.failures.Add(1)
	}
}

// Stats returns a snapshot of node counters.
func (n *Node) Stats() Stats {
	return Stats{
		Triggers:         n.triggers.Load(),
		Failures:         n.failures.Load(),
		Commits:          n.commits.Load(),
		FlowFilesIn:      n.in.Load(),
		FlowFilesOut:     n.out.Load(),
		Dropped:          n.dropped.Load(),
		ActiveExecutions: n.ActiveExecutions(),
		Held:             n.HeldCount(),
	}
}

package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/graph"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/testutil"
)

// =============================================================================
// Test helpers
// =============================================================================

type harness struct {
	fc     *FlowController
	gen    *testutil.CountingGenerator
	sink   *testutil.CountingSink
	logger *testutil.MockLogger
	queue  func() int64

	mu     sync.Mutex
	events []EventType
}

func (h *harness) recorded() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]EventType(nil), h.events...)
}

func testAgentConfig() *config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.IdlePoll = 10 * time.Millisecond
	cfg.DrainPollInterval = 5 * time.Millisecond
	cfg.HousekeepingInterval = 20 * time.Millisecond
	cfg.BackpressureRetry = 5 * time.Millisecond
	return cfg
}

// newHarness builds the generator to sink flow. genPeriod is the generator's
// scheduling period; the sink runs every 100ms.
func newHarness(t *testing.T, genPeriod time.Duration, batch int, sink *testutil.CountingSink) *harness {
	t.Helper()

	flow := testutil.GeneratorSinkFlow(100 * time.Millisecond)
	flow.Processors[0].SchedulingPeriod = genPeriod

	h := &harness{
		gen:    &testutil.CountingGenerator{BatchSize: batch},
		sink:   sink,
		logger: testutil.NewMockLogger(),
	}
	reg := testutil.Registry(map[string]processor.Processor{"Generator": h.gen, "Sink": h.sink})

	group, err := graph.Build(flow, reg)
	require.NoError(t, err)
	conn, ok := group.FindConnection("gen-to-sink")
	require.True(t, ok)
	h.queue = conn.Size

	h.fc = NewFlowController(group, Options{Logger: h.logger, Config: testAgentConfig()})
	h.fc.OnEvent(func(e *Event) {
		h.mu.Lock()
		h.events = append(h.events, e.Type)
		h.mu.Unlock()
	})
	t.Cleanup(func() { _ = h.fc.Stop(false) })
	return h
}

func (h *harness) sinkNode(t *testing.T) *processor.Node {
	t.Helper()
	n, ok := h.fc.Group().FindProcessor("Sink")
	require.True(t, ok)
	return n
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestFlowController_StartStop(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, 3, &testutil.CountingSink{})
	assert.False(t, h.fc.IsRunning())
	assert.Equal(t, StateStopped, h.fc.State())

	require.NoError(t, h.fc.Start(context.Background()))
	assert.True(t, h.fc.IsRunning())
	assert.Equal(t, StateRunning, h.fc.State())

	require.NoError(t, h.fc.Start(context.Background()), "start while running is a no-op")

	require.True(t, testutil.WaitFor(2*time.Second, func() bool { return h.sink.Consumed() > 0 }))

	require.NoError(t, h.fc.StopWithTimeout(true, 5*time.Second))
	assert.False(t, h.fc.IsRunning())
	assert.Equal(t, StateStopped, h.fc.State())
	assert.Equal(t, int64(0), h.queue())

	events := h.recorded()
	assert.Contains(t, events, EventFlowStarted)
	assert.Contains(t, events, EventFlowStopped)
	assert.True(t, h.logger.HasLog("info", "flow_controller_started"))
	assert.True(t, h.logger.HasLog("info", "drain_completed"))
}

func TestFlowController_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, 1, &testutil.CountingSink{})

	require.NoError(t, h.fc.Stop(true), "stop before start is a no-op")
	require.NoError(t, h.fc.Start(context.Background()))
	require.NoError(t, h.fc.Stop(false))
	require.NoError(t, h.fc.Stop(false))
	require.NoError(t, h.fc.Stop(true))

	stopped := 0
	for _, e := range h.recorded() {
		if e == EventFlowStopped {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
}

func TestFlowController_Restart(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, 1, &testutil.CountingSink{})

	require.NoError(t, h.fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool { return h.gen.Triggers() >= 1 }))
	require.NoError(t, h.fc.Stop(false))
	before := h.gen.Triggers()

	require.NoError(t, h.fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool { return h.gen.Triggers() > before }))
	require.NoError(t, h.fc.Stop(false))
}

func TestFlowController_StopWithoutDrainHaltsImmediately(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, 3, &testutil.CountingSink{})
	h.sinkNode(t).YieldFor(time.Hour)

	require.NoError(t, h.fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool { return h.queue() > 0 }))

	h.fc.SetDrainTimeout(time.Hour)
	start := time.Now()
	require.NoError(t, h.fc.Stop(false))

	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, h.queue(), int64(0), "queued flow files stay in their connection")
	assert.Equal(t, int64(0), h.sink.Triggers())
	assert.NotContains(t, h.recorded(), EventDrainTimeoutExceeded)
}

func TestFlowController_StartFailureRollsBack(t *testing.T) {
	boom := errors.New("bookmark store unreachable")
	flow := testutil.GeneratorSinkFlow(100 * time.Millisecond)
	flow.Processors[1].Type = "Broken"

	gen := &testutil.CountingGenerator{}
	reg := testutil.Registry(map[string]processor.Processor{
		"Generator": gen,
		"Broken":    &testutil.FailingScheduler{Resource: "bookmark", Err: boom},
	})
	group, err := graph.Build(flow, reg)
	require.NoError(t, err)

	var events []EventType
	fc := NewFlowController(group, Options{Config: testAgentConfig()})
	fc.OnEvent(func(e *Event) { events = append(events, e.Type) })

	err = fc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, processor.IsStartupResourceFailure(err))
	assert.ErrorIs(t, err, boom)

	assert.False(t, fc.IsRunning())
	assert.Equal(t, StateStopped, fc.State())
	assert.Equal(t, 0, fc.Scheduler().Scheduled())
	assert.Contains(t, events, EventStartFailed)
	assert.NotContains(t, events, EventFlowStarted)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(0), gen.Triggers())
}

func TestFlowController_PlainScheduleErrorIsResourceFailure(t *testing.T) {
	flow := testutil.GeneratorSinkFlow(100 * time.Millisecond)
	flow.Processors[1].Type = "Plain"

	reg := testutil.Registry(map[string]processor.Processor{
		"Generator": &testutil.CountingGenerator{},
		"Plain":     &plainFailure{},
	})
	group, err := graph.Build(flow, reg)
	require.NoError(t, err)

	fc := NewFlowController(group, Options{Config: testAgentConfig()})
	err = fc.Start(context.Background())

	var rf *processor.StartupResourceFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, "Sink", rf.Processor)
	assert.Equal(t, "schedule", rf.Resource)
}

type plainFailure struct{ testutil.CountingSink }

func (p *plainFailure) OnSchedule(context.Context, *processor.ScheduleContext) error {
	return errors.New("socket refused")
}

func TestFlowController_SetDrainTimeout(t *testing.T) {
	h := newHarness(t, time.Second, 1, &testutil.CountingSink{})

	h.fc.SetDrainTimeout(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, h.fc.DrainTimeout())

	h.fc.SetDrainTimeout(-time.Second)
	assert.Equal(t, time.Duration(0), h.fc.DrainTimeout())
}

func TestFlowController_StageFailureEvent(t *testing.T) {
	flow := testutil.GeneratorSinkFlow(20 * time.Millisecond)
	flow.Processors[1].Type = "Exploding"

	reg := testutil.Registry(map[string]processor.Processor{
		"Generator": &testutil.CountingGenerator{},
		"Exploding": &explodingSink{},
	})
	group, err := graph.Build(flow, reg)
	require.NoError(t, err)

	failures := make(chan *Event, 16)
	fc := NewFlowController(group, Options{Config: testAgentConfig()})
	fc.OnEvent(func(e *Event) {
		if e.Type == EventStageFailed {
			select {
			case failures <- e:
			default:
			}
		}
	})
	require.NoError(t, fc.Start(context.Background()))
	defer fc.Stop(false)

	select {
	case e := <-failures:
		assert.Equal(t, "Sink", e.Processor)
		assert.Contains(t, e.Data["error"], "disk full")
	case <-time.After(2 * time.Second):
		t.Fatal("no execution failure event")
	}
}

type explodingSink struct{ testutil.CountingSink }

func (e *explodingSink) OnTrigger(_ context.Context, s *processor.Session) error {
	if s.Get() == nil {
		return processor.ErrNoWork
	}
	return errors.New("disk full")
}

// =============================================================================
// DRAIN TESTS
// =============================================================================

func TestFlowController_DrainTimesOutWhileSinkYields(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, 3, &testutil.CountingSink{})
	h.sinkNode(t).YieldFor(10 * time.Second)

	require.NoError(t, h.fc.Start(context.Background()))
	time.Sleep(time.Second)
	assert.Greater(t, h.queue(), int64(10))

	require.NoError(t, h.fc.StopWithTimeout(true, 100*time.Millisecond))

	assert.False(t, h.fc.IsRunning())
	assert.Greater(t, h.queue(), int64(0))
	assert.Equal(t, int64(0), h.sink.Triggers())
	assert.Contains(t, h.recorded(), EventDrainTimeoutExceeded)
	assert.True(t, h.logger.HasLog("warn", "drain_timeout_exceeded"))
}

func TestFlowController_DrainCompletesWithinTimeout(t *testing.T) {
	h := newHarness(t, 10*time.Second, 3, &testutil.CountingSink{})
	h.sinkNode(t).YieldFor(100 * time.Millisecond)

	require.NoError(t, h.fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool {
		return h.queue() == 3 && h.gen.Triggers() == 1
	}))

	require.NoError(t, h.fc.StopWithTimeout(true, 10*time.Second))

	assert.Equal(t, int64(1), h.gen.Triggers())
	assert.Equal(t, int64(3), h.sink.Triggers())
	assert.Equal(t, int64(0), h.queue())
	assert.NotContains(t, h.recorded(), EventDrainTimeoutExceeded)
}

func TestFlowController_DrainTimeoutCancelsSlowExecution(t *testing.T) {
	h := newHarness(t, 10*time.Second, 3, &testutil.CountingSink{FirstDelay: 1500 * time.Millisecond})

	require.NoError(t, h.fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool { return h.sink.Triggers() == 1 }))

	start := time.Now()
	require.NoError(t, h.fc.StopWithTimeout(true, time.Second))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 1400*time.Millisecond)
	assert.Equal(t, int64(1), h.sink.Triggers())
	assert.Equal(t, int64(3), h.queue(), "the cancelled batch stays queued")
}

func TestFlowController_DrainTimeoutExtendedDuringStop(t *testing.T) {
	h := newHarness(t, 10*time.Second, 3, &testutil.CountingSink{FirstDelay: 1500 * time.Millisecond})
	h.fc.SetDrainTimeout(time.Second)

	require.NoError(t, h.fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool { return h.sink.Triggers() == 1 }))

	stopped := make(chan error, 1)
	go func() { stopped <- h.fc.Stop(true) }()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case err := <-stopped:
			require.NoError(t, err)
			done = true
		case <-ticker.C:
			if h.fc.IsRunning() {
				h.fc.SetDrainTimeout(h.fc.DrainTimeout() + 500*time.Millisecond)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("stop did not return")
		}
	}

	assert.Equal(t, int64(3), h.sink.Triggers())
	assert.Equal(t, int64(0), h.queue())
	assert.NotContains(t, h.recorded(), EventDrainTimeoutExceeded)
}

func TestFlowController_StateObservableDuringStop(t *testing.T) {
	h := newHarness(t, 10*time.Second, 3, &testutil.CountingSink{})
	h.sinkNode(t).YieldFor(time.Hour)

	require.NoError(t, h.fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool { return h.queue() == 3 }))

	stopped := make(chan struct{})
	go func() {
		_ = h.fc.StopWithTimeout(true, 300*time.Millisecond)
		close(stopped)
	}()

	require.True(t, testutil.WaitFor(time.Second, func() bool { return h.fc.State() == StateStopping }))
	assert.True(t, h.fc.IsRunning())
	<-stopped
	assert.False(t, h.fc.IsRunning())
}

// =============================================================================
// SHUTDOWN TESTS
// =============================================================================

func TestFlowController_AbandonedExecutionReported(t *testing.T) {
	flow := testutil.GeneratorSinkFlow(10 * time.Second)
	flow.Processors[1].Type = "Stubborn"

	release := make(chan struct{})
	defer close(release)
	reg := testutil.Registry(map[string]processor.Processor{
		"Generator": &testutil.CountingGenerator{},
		"Stubborn":  &stubbornSink{release: release},
	})
	group, err := graph.Build(flow, reg)
	require.NoError(t, err)

	cfg := testAgentConfig()
	cfg.HaltGrace = 50 * time.Millisecond
	logger := testutil.NewMockLogger()
	fc := NewFlowController(group, Options{Logger: logger, Config: cfg})

	require.NoError(t, fc.Start(context.Background()))
	require.True(t, testutil.WaitFor(time.Second, func() bool { return fc.Scheduler().InFlight() == 1 }))

	err = fc.Stop(false)
	var se *ShutdownError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Abandoned)
	assert.Equal(t, StateStopped, fc.State())
}

// stubbornSink ignores cancellation until released.
type stubbornSink struct {
	testutil.CountingSink
	release chan struct{}
}

func (s *stubbornSink) OnTrigger(_ context.Context, sess *processor.Session) error {
	if sess.Get() == nil {
		return processor.ErrNoWork
	}
	<-s.release
	return errors.New("released")
}

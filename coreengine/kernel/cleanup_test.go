package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/flowfile"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/graph"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/testutil"
)

func newIdleController(t *testing.T, expiration time.Duration) (*FlowController, *testutil.MockLogger) {
	t.Helper()
	flow := testutil.GeneratorSinkFlow(time.Second)
	flow.Connections[0].Expiration = expiration

	reg := testutil.Registry(map[string]processor.Processor{
		"Generator": &testutil.CountingGenerator{},
		"Sink":      &testutil.CountingSink{},
	})
	group, err := graph.Build(flow, reg)
	require.NoError(t, err)

	logger := testutil.NewMockLogger()
	return NewFlowController(group, Options{Logger: logger, Config: testAgentConfig()}), logger
}

func TestFlowController_StartHousekeeping(t *testing.T) {
	fc, logger := newIdleController(t, 0)

	stop := fc.StartHousekeeping(10 * time.Millisecond)
	require.NotNil(t, stop)

	time.Sleep(50 * time.Millisecond)
	stop()

	assert.True(t, logger.HasLog("debug", "housekeeping_cycle_completed"))
}

func TestFlowController_StartHousekeeping_DefaultInterval(t *testing.T) {
	fc, _ := newIdleController(t, 0)

	// Zero interval falls back to the default.
	stop := fc.StartHousekeeping(0)
	require.NotNil(t, stop)
	stop()
}

func TestFlowController_runHousekeepingCycle_LeavesExpiredQueued(t *testing.T) {
	fc, logger := newIdleController(t, 5*time.Millisecond)
	conn, ok := fc.Group().FindConnection("gen-to-sink")
	require.True(t, ok)

	require.NoError(t, conn.TryEnqueue(flowfile.New()))
	require.NoError(t, conn.TryEnqueue(flowfile.New()))
	time.Sleep(10 * time.Millisecond)

	fc.runHousekeepingCycle()
	fc.runHousekeepingCycle()

	// Past their expiration but untouched until a consumer reads.
	assert.Equal(t, int64(2), conn.Size())
	assert.Equal(t, int64(0), conn.ExpiredCount())

	var found bool
	for _, entry := range logger.GetLogs() {
		if entry.Message == "housekeeping_cycle_completed" {
			found = true
			assert.Equal(t, int64(2), entry.Fields["queued"])
			assert.Equal(t, int64(0), entry.Fields["expired_total"])
		}
	}
	assert.True(t, found)

	assert.Empty(t, conn.Dequeue(0))
	assert.Equal(t, int64(2), conn.ExpiredCount())
	assert.True(t, conn.IsEmpty())
}

func TestFlowController_runHousekeepingCycle_PanicRecovery(t *testing.T) {
	fc, _ := newIdleController(t, 0)
	fc.group = nil

	// This should not panic
	assert.NotPanics(t, func() {
		fc.runHousekeepingCycle()
	})
}

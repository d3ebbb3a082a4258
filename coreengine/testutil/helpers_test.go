package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
)

// =============================================================================
// CONFIG HELPER TESTS
// =============================================================================

func TestGeneratorSinkFlow(t *testing.T) {
	flow := GeneratorSinkFlow(100 * time.Millisecond)

	require.NoError(t, flow.Validate())
	require.Len(t, flow.Processors, 2)
	assert.Equal(t, 100*time.Millisecond, flow.Processors[0].SchedulingPeriod)
	assert.Equal(t, []string{"success"}, flow.Processors[1].AutoTerminated)
	require.Len(t, flow.Connections, 1)
	assert.Equal(t, "generator", flow.Connections[0].Source)
	assert.Equal(t, "sink", flow.Connections[0].Destination)
}

func TestRegistry(t *testing.T) {
	gen := &CountingGenerator{}
	reg := Registry(map[string]processor.Processor{"Generator": gen})

	p, err := reg.New("Generator")
	require.NoError(t, err)
	assert.Same(t, gen, p)
}

// =============================================================================
// PROCESSOR TESTS
// =============================================================================

func TestCountingSink_FirstDelayObservesCancel(t *testing.T) {
	sink := &CountingSink{FirstDelay: time.Hour}
	node, err := processor.NewNode(processor.Config{ID: "sink"}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.OnTrigger(ctx, processor.NewSession(ctx, node, processor.SessionOptions{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), sink.Triggers())
	assert.Equal(t, int64(0), sink.Consumed())
}

func TestFailingScheduler(t *testing.T) {
	boom := errors.New("boom")
	node, err := processor.NewNode(processor.Config{ID: "f"}, &FailingScheduler{Resource: "socket", Err: boom})
	require.NoError(t, err)

	err = node.Schedule(context.Background(), nil, nil)
	assert.True(t, processor.IsStartupResourceFailure(err))
	assert.ErrorIs(t, err, boom)
}

func TestWaitFor(t *testing.T) {
	start := time.Now()
	assert.True(t, WaitFor(time.Second, func() bool { return time.Since(start) > 20*time.Millisecond }))
	assert.False(t, WaitFor(20*time.Millisecond, func() bool { return false }))
}

// =============================================================================
// MOCK TESTS
// =============================================================================

func TestMockStore(t *testing.T) {
	mock := NewMockStore()
	ctx := context.Background()

	_, err := mock.Load(ctx, "k")
	assert.ErrorIs(t, err, state.ErrNotFound)

	require.NoError(t, mock.Save(ctx, "k", map[string]string{"offset": "10"}))
	loaded, err := mock.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "10", loaded["offset"])

	mock.SaveError = errors.New("disk full")
	assert.Error(t, mock.Save(ctx, "k", nil))

	assert.Equal(t, 2, mock.SaveCount)
	assert.Equal(t, 2, mock.LoadCount)
}

func TestMockLogger(t *testing.T) {
	logger := NewMockLogger()

	logger.Info("test message", "key", "value")
	logger.Error("error message", "error", "something")

	logs := logger.GetLogs()
	assert.Len(t, logs, 2)
	assert.Equal(t, "info", logs[0].Level)
	assert.Equal(t, "value", logs[0].Fields["key"])
	assert.Equal(t, "error", logs[1].Level)
	assert.True(t, logger.HasLog("info", "test message"))
	assert.True(t, logger.HasLog("error", "error message"))

	logger.Clear()
	assert.Empty(t, logger.GetLogs())
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/graph"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/grpc"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/kernel"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/testutil"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newAgent serves a generator to sink flow on an in-memory listener.
func newAgent(t *testing.T) (*kernel.FlowController, dialFunc) {
	t.Helper()

	cfg := config.DefaultAgentConfig()
	cfg.IdlePoll = 10 * time.Millisecond
	cfg.DrainPollInterval = 5 * time.Millisecond

	reg := testutil.Registry(map[string]processor.Processor{
		"Generator": &testutil.CountingGenerator{BatchSize: 1},
		"Sink":      &testutil.CountingSink{},
	})
	group, err := graph.Build(testutil.GeneratorSinkFlow(20*time.Millisecond), reg)
	require.NoError(t, err)

	logger := testutil.NewMockLogger()
	fc := kernel.NewFlowController(group, kernel.Options{Logger: logger, Config: cfg})
	t.Cleanup(func() { _ = fc.Stop(false) })

	client, cleanup, err := grpc.StartBufconnServer(grpc.NewControlServer(logger, fc))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	return fc, func(string) (*grpc.ControlClient, io.Closer, error) {
		return client, nopCloser{}, nil
	}
}

// runCLI executes flowctl with args and decodes its JSON output.
func runCLI(t *testing.T, dial dialFunc, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(dial)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result), out.String())
	return result, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestCLI_StartStatusStop(t *testing.T) {
	fc, dial := newAgent(t)

	out, err := runCLI(t, dial, "start")
	require.NoError(t, err)
	assert.Equal(t, "running", out["state"])

	out, err = runCLI(t, dial, "running")
	require.NoError(t, err)
	assert.Equal(t, true, out["running"])

	out, err = runCLI(t, dial, "status")
	require.NoError(t, err)
	assert.Equal(t, fc.ID(), out["controller_id"])

	out, err = runCLI(t, dial, "stop", "--timeout", "200 ms")
	require.NoError(t, err)
	assert.Equal(t, "stopped", out["state"])
	assert.Equal(t, 200*time.Millisecond, fc.DrainTimeout())
	assert.False(t, fc.IsRunning())
}

func TestCLI_StopWithoutDrain(t *testing.T) {
	fc, dial := newAgent(t)
	require.NoError(t, fc.Start(t.Context()))

	out, err := runCLI(t, dial, "stop", "--drain=false")

	require.NoError(t, err)
	assert.Equal(t, "stopped", out["state"])
}

func TestCLI_DrainTimeout(t *testing.T) {
	fc, dial := newAgent(t)

	out, err := runCLI(t, dial, "drain-timeout", "2m")

	require.NoError(t, err)
	assert.Equal(t, "2m0s", out["drain_timeout"])
	assert.Equal(t, 2*time.Minute, fc.DrainTimeout())
}

func TestCLI_InvalidArguments(t *testing.T) {
	_, dial := newAgent(t)

	tests := [][]string{
		{"drain-timeout", "soon"},
		{"drain-timeout"},
		{"stop", "--timeout", "-3s"},
		{"status", "extra"},
	}
	for _, args := range tests {
		_, err := runCLI(t, dial, args...)
		assert.Error(t, err, args)
	}
}

func TestCLI_DialFailure(t *testing.T) {
	dial := func(string) (*grpc.ControlClient, io.Closer, error) {
		return nil, nil, errors.New("connection refused")
	}

	_, err := runCLI(t, dial, "--addr", "nowhere:1", "status")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect nowhere:1")
}

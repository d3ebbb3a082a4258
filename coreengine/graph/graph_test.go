package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/flowfile"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

type nopProcessor struct {
	initErr     error
	initialized bool
}

func (p *nopProcessor) Relationships() []processor.Relationship {
	return []processor.Relationship{processor.Success, processor.Failure}
}
func (p *nopProcessor) OnSchedule(context.Context, *processor.ScheduleContext) error { return nil }
func (p *nopProcessor) OnTrigger(context.Context, *processor.Session) error          { return nil }
func (p *nopProcessor) Initialize() error {
	p.initialized = true
	return p.initErr
}

func testRegistry() *processor.Registry {
	reg := processor.NewRegistry()
	reg.MustRegister("Nop", func() processor.Processor { return &nopProcessor{} })
	reg.MustRegister("Broken", func() processor.Processor { return &nopProcessor{initErr: errors.New("no licence")} })
	return reg
}

func testFlow() *config.FlowConfig {
	return &config.FlowConfig{
		ID:   "root",
		Name: "root",
		Processors: []config.ProcessorConfig{
			{ID: "gen", Name: "Generator", Type: "Nop"},
			{ID: "mid", Name: "Middle", Type: "Nop"},
		},
		Connections: []config.ConnectionConfig{
			{ID: "c1", Name: "gen-mid", Source: "Generator", Destination: "mid", Relationships: []string{"success"}},
			{Name: "mid-sink", Source: "mid", Destination: "Sink", Relationships: []string{"success", "failure"}, MaxCount: 10},
		},
		Groups: []config.FlowConfig{{
			ID:         "child",
			Name:       "child",
			Processors: []config.ProcessorConfig{{ID: "sink", Name: "Sink", Type: "Nop"}},
		}},
	}
}

func TestBuild(t *testing.T) {
	g, err := Build(testFlow(), testRegistry())
	require.NoError(t, err)

	assert.Equal(t, "root", g.ID())
	assert.Nil(t, g.Parent())
	require.Len(t, g.Groups(), 1)
	assert.Same(t, g, g.Groups()[0].Parent())

	assert.Len(t, g.Processors(), 3)
	assert.Len(t, g.Connections(), 2)
	assert.Len(t, g.Groups()[0].Processors(), 1)

	sources := g.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, "gen", sources[0].ID())

	mid, ok := g.FindProcessor("Middle")
	require.True(t, ok)
	assert.Len(t, mid.Inbound(), 1)
	assert.Len(t, mid.Outbound("success"), 1)
	assert.Len(t, mid.Outbound("failure"), 1)
	assert.True(t, mid.Processor().(*nopProcessor).initialized)

	c, ok := g.FindConnection("mid-sink")
	require.True(t, ok)
	assert.NotEmpty(t, c.ID(), "generated id")
	assert.Equal(t, "mid", c.SourceID())
	assert.Equal(t, "sink", c.DestinationID())
	assert.Equal(t, int64(10), c.Config().MaxCount)

	_, ok = g.FindProcessor("nope")
	assert.False(t, ok)
	_, ok = g.FindConnection("c1")
	assert.True(t, ok)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.FlowConfig)
		check  func(t *testing.T, err error)
	}{
		{"invalid flow", func(f *config.FlowConfig) { f.Processors[0].Type = "" }, func(t *testing.T, err error) {
			assert.True(t, config.IsConfigError(err))
		}},
		{"unregistered type", func(f *config.FlowConfig) { f.Processors[0].Type = "Missing" }, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, processor.ErrNotRegistered)
		}},
		{"initialize fails", func(f *config.FlowConfig) { f.Groups[0].Processors[0].Type = "Broken" }, func(t *testing.T, err error) {
			assert.Contains(t, err.Error(), "no licence")
		}},
		{"undeclared relationship", func(f *config.FlowConfig) {
			f.Connections[0].Relationships = []string{"original"}
		}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnknownRelationship)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testFlow()
			tt.mutate(f)
			_, err := Build(f, testRegistry())
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	_, err := Build(nil, testRegistry())
	assert.Error(t, err)
}

func TestTotalFlowFileCount(t *testing.T) {
	g, err := Build(testFlow(), testRegistry())
	require.NoError(t, err)
	assert.True(t, g.AllQueuesEmpty())

	c1, _ := g.FindConnection("c1")
	require.NoError(t, c1.TryEnqueue(flowfile.New()))
	require.NoError(t, c1.TryEnqueue(flowfile.New()))
	assert.Equal(t, int64(2), g.TotalFlowFileCount())

	gen, _ := g.FindProcessor("gen")
	gen.Hold([]processor.Delivery{{FlowFile: flowfile.New(), Connection: c1}})
	assert.Equal(t, int64(3), g.TotalFlowFileCount())
	assert.False(t, g.AllQueuesEmpty())

	stats := g.QueueStats()
	assert.Equal(t, int64(2), stats["gen-mid"].Count)
	assert.Equal(t, int64(0), stats["mid-sink"].Count)

	c1.Drain()
	require.True(t, gen.FlushHeld())
	c1.Drain()
	assert.True(t, g.AllQueuesEmpty())
}

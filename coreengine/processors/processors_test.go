package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/connection"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/flowfile"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/testutil"
)

// =============================================================================
// Test helpers
// =============================================================================

type rig struct {
	node   *processor.Node
	in     *connection.Connection
	out    *connection.Connection
	store  state.Store
	logger *testutil.MockLogger
}

// newRig wires p behind an inbound connection (unless source) and in front of
// a success connection.
func newRig(t *testing.T, p processor.Processor, props map[string]any, source bool) *rig {
	t.Helper()
	node, err := processor.NewNode(processor.Config{ID: "under-test", Name: "UnderTest", Properties: props}, p)
	require.NoError(t, err)

	r := &rig{node: node, store: state.NewMemoryStore(), logger: testutil.NewMockLogger()}
	r.out = connection.New(connection.Config{Name: "out", SourceID: node.ID(), Relationships: []string{"success"}})
	node.AddOutbound(r.out)
	if !source {
		r.in = connection.New(connection.Config{Name: "in", DestinationID: node.ID()})
		node.AddInbound(r.in)
	}
	return r
}

func (r *rig) schedule(t *testing.T) error {
	t.Helper()
	r.node.Unschedule(context.Background())
	return r.node.Schedule(context.Background(), r.store, r.logger)
}

// trigger runs one execution and commits whatever is left pending.
func (r *rig) trigger(t *testing.T) (*processor.Session, error) {
	t.Helper()
	ctx := context.Background()
	sess := processor.NewSession(ctx, r.node, processor.SessionOptions{})
	if err := r.node.Processor().OnTrigger(ctx, sess); err != nil {
		sess.Rollback(false)
		return sess, err
	}
	return sess, sess.Commit()
}

func (r *rig) drainOut() []*flowfile.FlowFile {
	return r.out.Dequeue(int(r.out.Size()) + 1)
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	for _, name := range []string{TypeGenerateFlowFile, TypeLogAttribute, TypeTailEvents} {
		assert.True(t, reg.Has(name), name)
	}
	assert.Same(t, reg, DefaultRegistry())

	a, err := reg.New(TypeTailEvents)
	require.NoError(t, err)
	b, err := reg.New(TypeTailEvents)
	require.NoError(t, err)
	assert.NotSame(t, a, b, "each node gets its own instance")

	assert.ErrorIs(t, Register(reg), processor.ErrAlreadyRegistered)
}

// =============================================================================
// GENERATE FLOW FILE TESTS
// =============================================================================

func TestGenerateFlowFile_Batch(t *testing.T) {
	r := newRig(t, &GenerateFlowFile{}, map[string]any{"Batch Size": "3", "File Size": "16 B"}, true)
	require.NoError(t, r.schedule(t))

	sess, err := r.trigger(t)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Commits())

	out := r.drainOut()
	require.Len(t, out, 3)
	for i, ff := range out {
		assert.Equal(t, int64(16), ff.Size())
		idx, _ := ff.Attribute("generate.index")
		assert.Equal(t, fmt.Sprint(i), idx)
	}
	assert.NotEqual(t, out[0].Content().Inline, out[1].Content().Inline, "unique by default")
}

func TestGenerateFlowFile_SharedPayload(t *testing.T) {
	r := newRig(t, &GenerateFlowFile{}, map[string]any{
		"Batch Size":       2,
		"File Size":        "8 B",
		"Unique FlowFiles": "false",
	}, true)
	require.NoError(t, r.schedule(t))

	_, err := r.trigger(t)
	require.NoError(t, err)
	out := r.drainOut()
	require.Len(t, out, 2)
	assert.Equal(t, out[0].Content().Inline, out[1].Content().Inline)
}

func TestGenerateFlowFile_InvalidProperties(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
	}{
		{"bad batch size", map[string]any{"Batch Size": "lots"}},
		{"bad file size", map[string]any{"File Size": "huge"}},
		{"bad data format", map[string]any{"Data Format": "Hex"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, &GenerateFlowFile{}, tt.props, true)
			err := r.schedule(t)
			require.Error(t, err)
			assert.True(t, processor.IsPropertyError(err))
		})
	}
}

// =============================================================================
// LOG ATTRIBUTE TESTS
// =============================================================================

func TestLogAttribute_LogsAndRoutes(t *testing.T) {
	r := newRig(t, &LogAttribute{}, map[string]any{
		"FlowFiles To Log":  "0",
		"Attributes to Log": "color",
		"Log Payload":       "true",
	}, false)
	require.NoError(t, r.schedule(t))

	for _, c := range []string{"red", "green"} {
		ff := flowfile.NewWithContent([]byte("body-" + c))
		ff.SetAttribute("color", c)
		ff.SetAttribute("secret", "x")
		require.NoError(t, r.in.TryEnqueue(ff))
	}

	_, err := r.trigger(t)
	require.NoError(t, err)
	assert.Len(t, r.drainOut(), 2)

	var attrLogs []testutil.LogEntry
	for _, e := range r.logger.GetLogs() {
		if e.Message == "flowfile_attributes" {
			attrLogs = append(attrLogs, e)
		}
	}
	require.Len(t, attrLogs, 2)
	assert.Equal(t, "info", attrLogs[0].Level)
	assert.Equal(t, "red", attrLogs[0].Fields["attr.color"])
	assert.Equal(t, "body-red", attrLogs[0].Fields["payload"])
	assert.NotContains(t, attrLogs[0].Fields, "attr.secret")
	assert.True(t, r.logger.HasLog("info", "flowfiles_logged"))
}

func TestLogAttribute_DefaultTakesOne(t *testing.T) {
	r := newRig(t, &LogAttribute{}, map[string]any{"Log Level": "debug"}, false)
	require.NoError(t, r.schedule(t))
	require.NoError(t, r.in.TryEnqueue(flowfile.New()))
	require.NoError(t, r.in.TryEnqueue(flowfile.New()))

	_, err := r.trigger(t)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.out.Size())
	assert.Equal(t, int64(1), r.in.Size())
	assert.True(t, r.logger.HasLog("debug", "flowfiles_logged"))
}

func TestLogAttribute_NoWork(t *testing.T) {
	r := newRig(t, &LogAttribute{}, nil, false)
	require.NoError(t, r.schedule(t))

	_, err := r.trigger(t)
	assert.ErrorIs(t, err, processor.ErrNoWork)
}

func TestLogAttribute_InvalidLevel(t *testing.T) {
	r := newRig(t, &LogAttribute{}, map[string]any{"Log Level": "trace"}, false)
	assert.True(t, processor.IsPropertyError(r.schedule(t)))
}

// =============================================================================
// TAIL EVENTS TESTS
// =============================================================================

func tailRig(t *testing.T, props map[string]any) (*rig, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	if props == nil {
		props = map[string]any{}
	}
	props["File Path"] = path
	return newRig(t, &TailEvents{}, props, true), path
}

func TestTailEvents_FirstRunStartsAtEnd(t *testing.T) {
	r, path := tailRig(t, map[string]any{"Output Format": "Text"})
	appendLines(t, path, "event zero: in the past")
	require.NoError(t, r.schedule(t))

	_, err := r.trigger(t)
	assert.ErrorIs(t, err, processor.ErrNoWork)
	assert.Equal(t, int64(0), r.out.Size())

	appendLines(t, path, "event one")
	_, err = r.trigger(t)
	require.NoError(t, err)
	out := r.drainOut()
	require.Len(t, out, 1)
	assert.Equal(t, "event one", string(out[0].Content().Inline))

	appendLines(t, path, "event two", "event three")
	_, err = r.trigger(t)
	require.NoError(t, err)
	assert.Len(t, r.drainOut(), 2)
}

func TestTailEvents_ProcessOldEvents(t *testing.T) {
	r, path := tailRig(t, map[string]any{"Output Format": "Text", "Process Old Events": true})
	appendLines(t, path, "old one", "old two")
	require.NoError(t, r.schedule(t))

	_, err := r.trigger(t)
	require.NoError(t, err)
	assert.Len(t, r.drainOut(), 2)
}

func TestTailEvents_BookmarkSurvivesRestart(t *testing.T) {
	r, path := tailRig(t, map[string]any{"Output Format": "Text", "State Key": "tail/app"})
	require.NoError(t, r.schedule(t))

	appendLines(t, path, "a", "b", "c")
	_, err := r.trigger(t)
	require.NoError(t, err)
	assert.Len(t, r.drainOut(), 3)

	saved, err := r.store.Load(context.Background(), "tail/app")
	require.NoError(t, err)
	assert.Equal(t, "6", saved["offset"])

	appendLines(t, path, "d")

	// A fresh instance with the same store resumes from the bookmark.
	restarted := newRig(t, &TailEvents{}, map[string]any{
		"File Path":     path,
		"Output Format": "Text",
		"State Key":     "tail/app",
	}, true)
	restarted.store = r.store
	require.NoError(t, restarted.schedule(t))

	_, err = restarted.trigger(t)
	require.NoError(t, err)
	out := restarted.drainOut()
	require.Len(t, out, 1)
	assert.Equal(t, "d", string(out[0].Content().Inline))
}

func TestTailEvents_OutputFormats(t *testing.T) {
	tests := []struct {
		format string
		want   int
	}{
		{"Text", 1},
		{"JSON", 1},
		{"Both", 2},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			r, path := tailRig(t, map[string]any{"Output Format": tt.format})
			require.NoError(t, r.schedule(t))

			appendLines(t, path, "event one")
			_, err := r.trigger(t)
			require.NoError(t, err)
			out := r.drainOut()
			require.Len(t, out, tt.want)

			for _, ff := range out {
				mime, _ := ff.Attribute("mime.type")
				if mime != "application/json" {
					continue
				}
				var rec map[string]any
				require.NoError(t, json.Unmarshal(ff.Content().Inline, &rec))
				assert.Equal(t, "event one", rec["message"])
			}
		})
	}
}

func TestTailEvents_InvalidOutputFormatFailsFast(t *testing.T) {
	r, _ := tailRig(t, map[string]any{"Output Format": "XML"})
	err := r.schedule(t)
	require.Error(t, err)
	assert.True(t, processor.IsPropertyError(err))
	assert.False(t, r.node.IsScheduled())
}

func TestTailEvents_JSONPassThrough(t *testing.T) {
	r, path := tailRig(t, map[string]any{"Output Format": "JSON"})
	require.NoError(t, r.schedule(t))

	appendLines(t, path, `{"level":"warn","msg":"disk"}`)
	_, err := r.trigger(t)
	require.NoError(t, err)
	out := r.drainOut()
	require.Len(t, out, 1)
	assert.JSONEq(t, `{"level":"warn","msg":"disk"}`, string(out[0].Content().Inline))
}

func TestTailEvents_BatchCommitSize(t *testing.T) {
	tests := []struct {
		batch   int
		commits int
	}{
		{1000, 1},
		{5, 1},
		{4, 2},
		{3, 2},
		{2, 3},
		{1, 5},
		{0, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("batch_%d", tt.batch), func(t *testing.T) {
			r, path := tailRig(t, map[string]any{"Output Format": "Text", "Batch Commit Size": tt.batch})
			appendLines(t, path, "event zero")
			require.NoError(t, r.schedule(t))

			appendLines(t, path, "one", "two", "three", "four", "five")
			sess, err := r.trigger(t)
			require.NoError(t, err)
			assert.Equal(t, tt.commits, sess.Commits())
			assert.Len(t, r.drainOut(), 5)
		})
	}
}

func TestTailEvents_PartialLineWaits(t *testing.T) {
	r, path := tailRig(t, map[string]any{"Output Format": "Text"})
	require.NoError(t, r.schedule(t))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("half")
	require.NoError(t, err)

	_, err = r.trigger(t)
	assert.ErrorIs(t, err, processor.ErrNoWork)

	_, err = f.WriteString(" done\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = r.trigger(t)
	require.NoError(t, err)
	out := r.drainOut()
	require.Len(t, out, 1)
	assert.Equal(t, "half done", string(out[0].Content().Inline))
}

func TestTailEvents_Truncation(t *testing.T) {
	r, path := tailRig(t, map[string]any{"Output Format": "Text", "Process Old Events": true})
	appendLines(t, path, "first line is long")
	require.NoError(t, r.schedule(t))
	_, err := r.trigger(t)
	require.NoError(t, err)
	r.drainOut()

	require.NoError(t, os.WriteFile(path, []byte("new\n"), 0o644))
	_, err = r.trigger(t)
	require.NoError(t, err)
	out := r.drainOut()
	require.Len(t, out, 1)
	assert.Equal(t, "new", string(out[0].Content().Inline))
	assert.True(t, r.logger.HasLog("warn", "tail_file_truncated"))
}

func TestTailEvents_StartupResourceFailures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		r := newRig(t, &TailEvents{}, map[string]any{
			"File Path": filepath.Join(t.TempDir(), "absent.log"),
		}, true)
		err := r.schedule(t)
		require.Error(t, err)
		assert.True(t, processor.IsStartupResourceFailure(err))
	})

	t.Run("bookmark unavailable", func(t *testing.T) {
		r, _ := tailRig(t, nil)
		store := testutil.NewMockStore()
		store.LoadError = errors.New("connection refused")
		r.store = store

		err := r.schedule(t)
		var rf *processor.StartupResourceFailure
		require.ErrorAs(t, err, &rf)
		assert.Equal(t, "bookmark", rf.Resource)
		assert.True(t, strings.Contains(err.Error(), "connection refused"))
	})

	t.Run("bookmark cannot be created", func(t *testing.T) {
		r, _ := tailRig(t, nil)
		store := testutil.NewMockStore()
		store.SaveError = errors.New("read-only")
		r.store = store

		assert.True(t, processor.IsStartupResourceFailure(r.schedule(t)))
	})

	t.Run("missing path property", func(t *testing.T) {
		r := newRig(t, &TailEvents{}, nil, true)
		assert.True(t, processor.IsPropertyError(r.schedule(t)))
	})
}

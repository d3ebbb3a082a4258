package processors

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/flowfile"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
)

// Output formats for TailEvents.
const (
	OutputText = "Text"
	OutputJSON = "JSON"
	OutputBoth = "Both"
)

const (
	bookmarkOffset = "offset"
	bookmarkPath   = "path"

	defaultBatchCommitSize = 1000
)

// TailEvents reads newline-delimited records appended to a file. Its position
// is kept as a bookmark in the state store and saved after every commit, so a
// restart resumes after the last committed record.
//
// On the first run, with no bookmark, reading starts at the end of the file
// unless Process Old Events is set. Batch Commit Size commits every that many
// records; 0 commits once per trigger.
type TailEvents struct {
	path        string
	processOld  bool
	format      string
	batchCommit int
	stateKey    string

	store  state.Store
	logger processor.Logger

	mu     sync.Mutex
	offset int64
}

// Relationships implements processor.Processor.
func (t *TailEvents) Relationships() []processor.Relationship {
	return []processor.Relationship{processor.Success}
}

// OnSchedule implements processor.Processor.
func (t *TailEvents) OnSchedule(ctx context.Context, sc *processor.ScheduleContext) error {
	path, ok := sc.Property("File Path")
	if !ok || path == "" {
		return &processor.PropertyError{Processor: sc.ProcessorName(), Property: "File Path", Reason: "required"}
	}
	t.path = path

	var err error
	if t.processOld, err = sc.BoolProperty("Process Old Events", false); err != nil {
		return err
	}
	if t.format, err = sc.EnumProperty("Output Format", OutputBoth, OutputText, OutputJSON, OutputBoth); err != nil {
		return err
	}
	if t.batchCommit, err = sc.IntProperty("Batch Commit Size", defaultBatchCommitSize); err != nil {
		return err
	}
	if t.batchCommit < 0 {
		t.batchCommit = 0
	}
	t.stateKey = sc.PropertyOr("State Key", sc.StateKey())
	t.store = sc.StateStore()
	t.logger = sc.Logger()

	info, err := os.Stat(t.path)
	if err != nil {
		return processor.NewStartupResourceFailure(sc.ProcessorName(), "file "+t.path, err)
	}

	bookmark, err := t.store.Load(ctx, t.stateKey)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return processor.NewStartupResourceFailure(sc.ProcessorName(), "bookmark", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if raw, found := bookmark[bookmarkOffset]; found && bookmark[bookmarkPath] == t.path {
		off, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || off < 0 {
			return processor.NewStartupResourceFailure(sc.ProcessorName(), "bookmark",
				fmt.Errorf("corrupt offset %q", raw))
		}
		t.offset = off
	} else {
		t.offset = 0
		if !t.processOld {
			t.offset = info.Size()
		}
		if err := t.saveBookmark(ctx, t.offset); err != nil {
			return processor.NewStartupResourceFailure(sc.ProcessorName(), "bookmark", err)
		}
	}

	if t.logger != nil {
		t.logger.Debug("tail_events_configured",
			"processor", sc.ProcessorName(),
			"path", t.path,
			"offset", t.offset,
			"output_format", t.format,
			"batch_commit_size", t.batchCommit,
		)
	}
	return nil
}

// OnTrigger implements processor.Processor.
func (t *TailEvents) OnTrigger(ctx context.Context, s *processor.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < t.offset {
		if t.logger != nil {
			t.logger.Warn("tail_file_truncated", "path", t.path, "offset", t.offset, "size", info.Size())
		}
		t.offset = 0
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	pos := t.offset
	processed := 0
	pending := 0

	for ctx.Err() == nil {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// A trailing partial line is read again once it is complete.
			break
		}
		start := pos
		pos += int64(len(line))
		t.emit(s, bytes.TrimRight(line, "\r\n"), start)
		processed++
		pending++

		if t.batchCommit > 0 && pending >= t.batchCommit {
			if err := t.commit(ctx, s, pos); err != nil {
				return err
			}
			pending = 0
		}
	}
	if pending > 0 {
		if err := t.commit(ctx, s, pos); err != nil {
			return err
		}
	}

	if t.logger != nil {
		t.logger.Debug("tail_events_processed", "processor", s.Node().Name(), "events", processed, "commits", s.Commits())
	}
	if processed == 0 {
		return processor.ErrNoWork
	}
	return nil
}

func (t *TailEvents) emit(s *processor.Session, record []byte, offset int64) {
	if t.format == OutputText || t.format == OutputBoth {
		ff := s.Create()
		s.Write(ff, append([]byte(nil), record...))
		t.tag(s, ff, offset, "text/plain")
		s.Transfer(ff, processor.Success)
	}
	if t.format == OutputJSON || t.format == OutputBoth {
		ff := s.Create()
		s.Write(ff, jsonRecord(record, t.path, offset))
		t.tag(s, ff, offset, "application/json")
		s.Transfer(ff, processor.Success)
	}
}

func (t *TailEvents) tag(s *processor.Session, ff *flowfile.FlowFile, offset int64, mime string) {
	s.PutAttribute(ff, "tail.file", t.path)
	s.PutAttribute(ff, "tail.offset", strconv.FormatInt(offset, 10))
	s.PutAttribute(ff, "mime.type", mime)
}

// commit commits the session and then records pos as the bookmark. A failed
// save is logged; the in-memory position still advances so records are not
// emitted twice while running.
func (t *TailEvents) commit(ctx context.Context, s *processor.Session, pos int64) error {
	if err := s.Commit(); err != nil {
		return err
	}
	t.offset = pos
	if err := t.saveBookmark(ctx, pos); err != nil && t.logger != nil {
		t.logger.Warn("bookmark_save_failed", "path", t.path, "offset", pos, "error", err.Error())
	}
	return nil
}

func (t *TailEvents) saveBookmark(ctx context.Context, offset int64) error {
	return t.store.Save(ctx, t.stateKey, map[string]string{
		bookmarkPath:   t.path,
		bookmarkOffset: strconv.FormatInt(offset, 10),
	})
}

// Offset returns the position after the last committed record.
func (t *TailEvents) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// jsonRecord passes JSON objects through and wraps anything else.
func jsonRecord(record []byte, path string, offset int64) []byte {
	trimmed := bytes.TrimSpace(record)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return append([]byte(nil), trimmed...)
	}
	out, _ := json.Marshal(map[string]any{
		"file":    path,
		"offset":  offset,
		"message": string(record),
	})
	return out
}

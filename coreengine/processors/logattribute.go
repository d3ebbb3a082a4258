package processors

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

// LogAttribute logs the attributes of incoming flow files and routes them to
// success. FlowFiles To Log caps how many are taken per trigger; 0 takes
// everything eligible.
type LogAttribute struct {
	level      string
	attributes []string
	payload    bool
	batch      int
	logger     processor.Logger
}

// maxLogBatch bounds a FlowFiles To Log value of 0.
const maxLogBatch = 10000

// Relationships implements processor.Processor.
func (l *LogAttribute) Relationships() []processor.Relationship {
	return []processor.Relationship{processor.Success}
}

// OnSchedule implements processor.Processor.
func (l *LogAttribute) OnSchedule(_ context.Context, sc *processor.ScheduleContext) error {
	level, err := sc.EnumProperty("Log Level", "info", "debug", "info", "warn", "error")
	if err != nil {
		return err
	}
	l.level = level
	if l.payload, err = sc.BoolProperty("Log Payload", false); err != nil {
		return err
	}
	if l.batch, err = sc.IntProperty("FlowFiles To Log", 1); err != nil {
		return err
	}
	if l.batch <= 0 {
		l.batch = maxLogBatch
	}
	l.attributes = nil
	for _, a := range strings.Split(sc.PropertyOr("Attributes to Log", ""), ",") {
		if a = strings.TrimSpace(a); a != "" {
			l.attributes = append(l.attributes, a)
		}
	}
	l.logger = sc.Logger()
	return nil
}

// OnTrigger implements processor.Processor.
func (l *LogAttribute) OnTrigger(_ context.Context, s *processor.Session) error {
	batch := s.GetBatch(l.batch)
	if len(batch) == 0 {
		return processor.ErrNoWork
	}
	for _, ff := range batch {
		kv := []any{"processor", s.Node().Name(), "uuid", ff.ID(), "size", ff.Size()}
		keys := l.attributes
		if len(keys) == 0 {
			keys = ff.Attributes().Keys()
		}
		for _, k := range keys {
			if v, ok := ff.Attribute(k); ok {
				kv = append(kv, "attr."+k, v)
			}
		}
		if l.payload {
			kv = append(kv, "payload", string(ff.Content().Inline))
		}
		l.log("flowfile_attributes", kv...)
		s.Transfer(ff, processor.Success)
	}
	l.log("flowfiles_logged", "processor", s.Node().Name(), "count", len(batch), "summary", fmt.Sprintf("Logged %d flow files", len(batch)))
	return nil
}

func (l *LogAttribute) log(msg string, kv ...any) {
	if l.logger == nil {
		return
	}
	switch l.level {
	case "debug":
		l.logger.Debug(msg, kv...)
	case "warn":
		l.logger.Warn(msg, kv...)
	case "error":
		l.logger.Error(msg, kv...)
	default:
		l.logger.Info(msg, kv...)
	}
}

package processors

import (
	"context"
	"crypto/rand"
	"strconv"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

// Data formats for GenerateFlowFile.
const (
	DataFormatText   = "Text"
	DataFormatBinary = "Binary"
)

const textAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateFlowFile creates Batch Size flow files of File Size bytes on every
// trigger. With Unique FlowFiles set each flow file gets fresh content,
// otherwise one payload is generated at schedule time and shared.
type GenerateFlowFile struct {
	batchSize int
	fileSize  int64
	unique    bool
	format    string
	shared    []byte
}

// Relationships implements processor.Processor.
func (g *GenerateFlowFile) Relationships() []processor.Relationship {
	return []processor.Relationship{processor.Success}
}

// OnSchedule implements processor.Processor.
func (g *GenerateFlowFile) OnSchedule(_ context.Context, sc *processor.ScheduleContext) error {
	var err error
	if g.batchSize, err = sc.IntProperty("Batch Size", 1); err != nil {
		return err
	}
	if g.fileSize, err = sc.DataSizeProperty("File Size", 1000); err != nil {
		return err
	}
	if g.unique, err = sc.BoolProperty("Unique FlowFiles", true); err != nil {
		return err
	}
	if g.format, err = sc.EnumProperty("Data Format", DataFormatText, DataFormatText, DataFormatBinary); err != nil {
		return err
	}
	if g.batchSize < 1 {
		g.batchSize = 1
	}
	if !g.unique {
		g.shared = g.payload()
	}
	return nil
}

// OnTrigger implements processor.Processor.
func (g *GenerateFlowFile) OnTrigger(_ context.Context, s *processor.Session) error {
	for i := 0; i < g.batchSize; i++ {
		ff := s.Create()
		data := g.shared
		if g.unique {
			data = g.payload()
		}
		s.Write(ff, data)
		s.PutAttribute(ff, "generate.index", strconv.Itoa(i))
		s.Transfer(ff, processor.Success)
	}
	return nil
}

func (g *GenerateFlowFile) payload() []byte {
	if g.fileSize <= 0 {
		return nil
	}
	buf := make([]byte, g.fileSize)
	_, _ = rand.Read(buf)
	if g.format == DataFormatText {
		for i, b := range buf {
			buf[i] = textAlphabet[int(b)%len(textAlphabet)]
		}
	}
	return buf
}

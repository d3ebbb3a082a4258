// Package processors contains the built-in processor types.
package processors

import (
	"sync"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

// Built-in type names.
const (
	TypeGenerateFlowFile = "GenerateFlowFile"
	TypeLogAttribute     = "LogAttribute"
	TypeTailEvents       = "TailEvents"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *processor.Registry
)

// Register adds the built-in types to reg.
func Register(reg *processor.Registry) error {
	for name, f := range map[string]processor.Factory{
		TypeGenerateFlowFile: func() processor.Processor { return &GenerateFlowFile{} },
		TypeLogAttribute:     func() processor.Processor { return &LogAttribute{} },
		TypeTailEvents:       func() processor.Processor { return &TailEvents{} },
	} {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRegistry returns a shared registry holding the built-in types.
// Callers may register further types on it.
func DefaultRegistry() *processor.Registry {
	defaultOnce.Do(func() {
		defaultRegistry = processor.NewRegistry()
		if err := Register(defaultRegistry); err != nil {
			panic(err)
		}
	})
	return defaultRegistry
}

package config

import (
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

// ProcessorConfig declares one processor instance.
type ProcessorConfig struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	Strategy           processor.Strategy `json:"scheduling_strategy"`
	SchedulingPeriod   time.Duration      `json:"scheduling_period"`
	MaxConcurrentTasks int                `json:"max_concurrent_tasks"`
	YieldPeriod        time.Duration      `json:"yield_period"`
	PenalizationPeriod time.Duration      `json:"penalization_period"`
	AutoTerminated     []string           `json:"auto_terminated_relationships"`
	Properties         map[string]any     `json:"properties"`
}

// NodeConfig converts to the processor package's node configuration.
func (p ProcessorConfig) NodeConfig() processor.Config {
	return processor.Config{
		ID:                 p.ID,
		Name:               p.Name,
		Type:               p.Type,
		Strategy:           p.Strategy,
		SchedulingPeriod:   p.SchedulingPeriod,
		MaxConcurrentTasks: p.MaxConcurrentTasks,
		YieldPeriod:        p.YieldPeriod,
		PenalizationPeriod: p.PenalizationPeriod,
		AutoTerminated:     append([]string(nil), p.AutoTerminated...),
		Properties:         p.Properties,
	}
}

// ConnectionConfig declares a connection. Source and Destination name a
// processor by id or name anywhere in the flow.
type ConnectionConfig struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Source        string        `json:"source"`
	Destination   string        `json:"destination"`
	Relationships []string      `json:"relationships"`
	MaxCount      int64         `json:"max_work_queue_size"`
	MaxBytes      int64         `json:"max_work_queue_data_size"`
	Expiration    time.Duration `json:"flowfile_expiration"`
}

// FlowConfig is a process group definition. The root group is the flow.
type FlowConfig struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Processors  []ProcessorConfig  `json:"processors"`
	Connections []ConnectionConfig `json:"connections"`
	Groups      []FlowConfig       `json:"process_groups"`
}

// Walk calls fn for this group and every nested group, depth first.
func (f *FlowConfig) Walk(fn func(group *FlowConfig)) {
	fn(f)
	for i := range f.Groups {
		f.Groups[i].Walk(fn)
	}
}

// AllProcessors returns every processor in the flow, depth first.
func (f *FlowConfig) AllProcessors() []ProcessorConfig {
	var out []ProcessorConfig
	f.Walk(func(g *FlowConfig) { out = append(out, g.Processors...) })
	return out
}

// Validate checks the flow for structural errors.
//
// Processor ids must be unique across the whole flow. Names may repeat, but
// a connection endpoint given by name must match exactly one processor.
func (f *FlowConfig) Validate() error {
	ids := make(map[string]bool)
	names := make(map[string]int)
	for i, p := range f.AllProcessors() {
		path := fmt.Sprintf("processors[%d]", i)
		if p.ID == "" {
			return &ConfigError{Path: path, Field: "id", Reason: "is required"}
		}
		path = fmt.Sprintf("processors[%s]", p.ID)
		if ids[p.ID] {
			return &ConfigError{Path: path, Reason: "duplicate processor id"}
		}
		ids[p.ID] = true
		if p.Name != "" {
			names[p.Name]++
		}
		if p.Type == "" {
			return &ConfigError{Path: path, Field: "type", Reason: "is required"}
		}
		if _, err := processor.ParseStrategy(string(p.Strategy)); err != nil {
			return &ConfigError{Path: path, Field: "scheduling_strategy", Reason: err.Error()}
		}
		if p.SchedulingPeriod < 0 || p.YieldPeriod < 0 || p.PenalizationPeriod < 0 {
			return &ConfigError{Path: path, Reason: "durations must not be negative"}
		}
		if p.MaxConcurrentTasks < 0 {
			return &ConfigError{Path: path, Field: "max_concurrent_tasks", Reason: "must not be negative"}
		}
	}

	resolves := func(ref string) error {
		switch {
		case ref == "":
			return fmt.Errorf("is required")
		case ids[ref]:
			return nil
		case names[ref] == 1:
			return nil
		case names[ref] > 1:
			return fmt.Errorf("processor name %q is ambiguous", ref)
		default:
			return fmt.Errorf("unknown processor %q", ref)
		}
	}

	connIDs := make(map[string]bool)
	var err error
	f.Walk(func(g *FlowConfig) {
		for i, c := range g.Connections {
			if err != nil {
				return
			}
			path := fmt.Sprintf("connections[%d]", i)
			if c.Name != "" {
				path = fmt.Sprintf("connections[%s]", c.Name)
			}
			if c.ID != "" {
				if connIDs[c.ID] {
					err = &ConfigError{Path: path, Reason: "duplicate connection id"}
					return
				}
				connIDs[c.ID] = true
			}
			if rerr := resolves(c.Source); rerr != nil {
				err = &ConfigError{Path: path, Field: "source", Reason: rerr.Error()}
				return
			}
			if rerr := resolves(c.Destination); rerr != nil {
				err = &ConfigError{Path: path, Field: "destination", Reason: rerr.Error()}
				return
			}
			if len(c.Relationships) == 0 {
				err = &ConfigError{Path: path, Field: "relationships", Reason: "at least one relationship is required"}
				return
			}
			if c.MaxCount < 0 || c.MaxBytes < 0 || c.Expiration < 0 {
				err = &ConfigError{Path: path, Reason: "limits must not be negative"}
				return
			}
		}
	})
	return err
}

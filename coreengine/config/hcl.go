package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/typeutil"
)

// hclGroup is the decoding schema of a flow or process_group body.
//
//	name = "MiNiFi Flow"
//	processor "Generator" {
//	  type              = "GenerateFlowFile"
//	  scheduling_period = "100 ms"
//	  properties        = { "Batch Size" = 3 }
//	}
//	connection "Gen" {
//	  source        = "Generator"
//	  destination   = "Sink"
//	  relationships = ["success"]
//	}
//	process_group "child" { ... }
type hclGroup struct {
	ID          *string          `hcl:"id,optional"`
	Name        *string          `hcl:"name,optional"`
	Processors  []*hclProcessor  `hcl:"processor,block"`
	Connections []*hclConnection `hcl:"connection,block"`
	Groups      []*hclChildGroup `hcl:"process_group,block"`
}

type hclChildGroup struct {
	Label string   `hcl:"name,label"`
	Body  hcl.Body `hcl:",remain"`
}

type hclProcessor struct {
	Name               string    `hcl:"name,label"`
	ID                 *string   `hcl:"id,optional"`
	Type               string    `hcl:"type"`
	SchedulingStrategy *string   `hcl:"scheduling_strategy,optional"`
	SchedulingPeriod   *string   `hcl:"scheduling_period,optional"`
	MaxConcurrentTasks *int      `hcl:"max_concurrent_tasks,optional"`
	YieldPeriod        *string   `hcl:"yield_period,optional"`
	PenalizationPeriod *string   `hcl:"penalization_period,optional"`
	AutoTerminated     []string  `hcl:"auto_terminated,optional"`
	Properties         cty.Value `hcl:"properties,optional"`
}

type hclConnection struct {
	Name          string   `hcl:"name,label"`
	ID            *string  `hcl:"id,optional"`
	Source        string   `hcl:"source"`
	Destination   string   `hcl:"destination"`
	Relationships []string `hcl:"relationships"`
	MaxCount      *int64   `hcl:"max_work_queue_size,optional"`
	MaxDataSize   *string  `hcl:"max_work_queue_data_size,optional"`
	Expiration    *string  `hcl:"flowfile_expiration,optional"`
}

// ParseFlowHCL parses an HCL flow definition and validates it.
// filename is used in diagnostics only.
func ParseFlowHCL(data []byte, filename string) (*FlowConfig, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	flow, err := decodeHCLGroup(file.Body, "", filename)
	if err != nil {
		return nil, err
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	return flow, nil
}

func decodeHCLGroup(body hcl.Body, label, filename string) (*FlowConfig, error) {
	var g hclGroup
	if diags := gohcl.DecodeBody(body, nil, &g); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	flow := &FlowConfig{ID: deref(g.ID), Name: deref(g.Name)}
	if flow.Name == "" {
		flow.Name = label
	}
	if flow.ID == "" {
		flow.ID = flow.Name
	}

	for _, p := range g.Processors {
		pc, err := p.toConfig()
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("%s processor[%s]", filename, p.Name), Reason: err.Error()}
		}
		flow.Processors = append(flow.Processors, pc)
	}
	for _, c := range g.Connections {
		cc, err := c.toConfig()
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("%s connection[%s]", filename, c.Name), Reason: err.Error()}
		}
		flow.Connections = append(flow.Connections, cc)
	}
	for _, child := range g.Groups {
		cf, err := decodeHCLGroup(child.Body, child.Label, filename)
		if err != nil {
			return nil, err
		}
		flow.Groups = append(flow.Groups, *cf)
	}
	return flow, nil
}

func (p *hclProcessor) toConfig() (ProcessorConfig, error) {
	strategy, err := processor.ParseStrategy(deref(p.SchedulingStrategy))
	if err != nil {
		return ProcessorConfig{}, err
	}
	pc := ProcessorConfig{
		ID:             deref(p.ID),
		Name:           p.Name,
		Type:           p.Type,
		Strategy:       strategy,
		AutoTerminated: p.AutoTerminated,
	}
	if pc.ID == "" {
		pc.ID = p.Name
	}
	if p.MaxConcurrentTasks != nil {
		pc.MaxConcurrentTasks = *p.MaxConcurrentTasks
	}
	if pc.SchedulingPeriod, err = optionalDuration(p.SchedulingPeriod); err != nil {
		return pc, err
	}
	if pc.YieldPeriod, err = optionalDuration(p.YieldPeriod); err != nil {
		return pc, err
	}
	if pc.PenalizationPeriod, err = optionalDuration(p.PenalizationPeriod); err != nil {
		return pc, err
	}

	if !p.Properties.IsNull() && p.Properties.IsKnown() {
		props, ok := ctyToGo(p.Properties).(map[string]any)
		if !ok {
			return pc, fmt.Errorf("properties must be an object")
		}
		pc.Properties = props
	}
	return pc, nil
}

func (c *hclConnection) toConfig() (ConnectionConfig, error) {
	cc := ConnectionConfig{
		ID:            deref(c.ID),
		Name:          c.Name,
		Source:        c.Source,
		Destination:   c.Destination,
		Relationships: c.Relationships,
	}
	if cc.ID == "" {
		cc.ID = c.Name
	}
	if c.MaxCount != nil {
		cc.MaxCount = *c.MaxCount
	}
	if c.MaxDataSize != nil {
		n, err := typeutil.ParseDataSize(*c.MaxDataSize)
		if err != nil {
			return cc, err
		}
		cc.MaxBytes = n
	}
	var err error
	if cc.Expiration, err = optionalDuration(c.Expiration); err != nil {
		return cc, err
	}
	return cc, nil
}

func optionalDuration(s *string) (d time.Duration, err error) {
	if s == nil {
		return 0, nil
	}
	return typeutil.ParseDuration(*s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ctyToGo converts a cty value to plain Go values: string, int64 or float64,
// bool, []any and map[string]any.
func ctyToGo(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString()
	case t == cty.Bool:
		return v.True()
	case t == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i
			}
		}
		f, _ := bf.Float64()
		return f
	case t.IsListType() || t.IsSetType() || t.IsTupleType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ctyToGo(ev))
		}
		return out
	case t.IsMapType() || t.IsObjectType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = ctyToGo(ev)
		}
		return out
	default:
		return nil
	}
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/typeutil"
)

// yamlFlow mirrors the MiNiFi flow definition layout.
type yamlFlow struct {
	FlowController struct {
		Name string `yaml:"name"`
		ID   string `yaml:"id"`
	} `yaml:"Flow Controller"`
	yamlGroup `yaml:",inline"`
}

type yamlGroup struct {
	Name        string           `yaml:"name"`
	ID          string           `yaml:"id"`
	Processors  []yamlProcessor  `yaml:"Processors"`
	Connections []yamlConnection `yaml:"Connections"`
	Groups      []yamlGroup      `yaml:"Process Groups"`
}

type yamlProcessor struct {
	Name               string         `yaml:"name"`
	ID                 string         `yaml:"id"`
	Class              string         `yaml:"class"`
	Type               string         `yaml:"type"`
	MaxConcurrentTasks any            `yaml:"max concurrent tasks"`
	SchedulingStrategy string         `yaml:"scheduling strategy"`
	SchedulingPeriod   any            `yaml:"scheduling period"`
	PenalizationPeriod any            `yaml:"penalization period"`
	YieldPeriod        any            `yaml:"yield period"`
	AutoTerminated     []string       `yaml:"auto-terminated relationships list"`
	Properties         map[string]any `yaml:"Properties"`
}

type yamlConnection struct {
	Name                    string   `yaml:"name"`
	ID                      string   `yaml:"id"`
	SourceName              string   `yaml:"source name"`
	SourceID                string   `yaml:"source id"`
	SourceRelationshipName  string   `yaml:"source relationship name"`
	SourceRelationshipNames []string `yaml:"source relationship names"`
	DestinationName         string   `yaml:"destination name"`
	DestinationID           string   `yaml:"destination id"`
	MaxWorkQueueSize        any      `yaml:"max work queue size"`
	MaxWorkQueueDataSize    any      `yaml:"max work queue data size"`
	FlowFileExpiration      any      `yaml:"flowfile expiration"`
}

// ParseFlowYAML parses a MiNiFi-style YAML flow definition and validates it.
func ParseFlowYAML(data []byte) (*FlowConfig, error) {
	var raw yamlFlow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse flow YAML: %w", err)
	}

	root := raw.yamlGroup
	if root.Name == "" {
		root.Name = raw.FlowController.Name
	}
	if root.ID == "" {
		root.ID = raw.FlowController.ID
	}

	flow, err := root.toFlow("")
	if err != nil {
		return nil, err
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	return flow, nil
}

func (g yamlGroup) toFlow(parent string) (*FlowConfig, error) {
	path := g.Name
	if parent != "" {
		path = parent + "/" + g.Name
	}
	flow := &FlowConfig{ID: g.ID, Name: g.Name}

	for i, p := range g.Processors {
		pc, err := p.toConfig()
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("%s processors[%d]", path, i), Reason: err.Error()}
		}
		flow.Processors = append(flow.Processors, pc)
	}
	for i, c := range g.Connections {
		cc, err := c.toConfig()
		if err != nil {
			return nil, &ConfigError{Path: fmt.Sprintf("%s connections[%d]", path, i), Reason: err.Error()}
		}
		flow.Connections = append(flow.Connections, cc)
	}
	for _, child := range g.Groups {
		cf, err := child.toFlow(path)
		if err != nil {
			return nil, err
		}
		flow.Groups = append(flow.Groups, *cf)
	}
	return flow, nil
}

func (p yamlProcessor) toConfig() (ProcessorConfig, error) {
	strategy, err := processor.ParseStrategy(p.SchedulingStrategy)
	if err != nil {
		return ProcessorConfig{}, err
	}
	pc := ProcessorConfig{
		ID:             p.ID,
		Name:           p.Name,
		Type:           p.Type,
		Strategy:       strategy,
		AutoTerminated: p.AutoTerminated,
		Properties:     p.Properties,
	}
	if pc.ID == "" {
		pc.ID = p.Name
	}
	if pc.Type == "" {
		pc.Type = className(p.Class)
	}
	if p.MaxConcurrentTasks != nil {
		n, ok := typeutil.SafeInt(p.MaxConcurrentTasks)
		if !ok {
			return pc, fmt.Errorf("invalid max concurrent tasks %v", p.MaxConcurrentTasks)
		}
		pc.MaxConcurrentTasks = n
	}
	for _, d := range []struct {
		name string
		raw  any
		dst  *time.Duration
	}{
		{"scheduling period", p.SchedulingPeriod, &pc.SchedulingPeriod},
		{"penalization period", p.PenalizationPeriod, &pc.PenalizationPeriod},
		{"yield period", p.YieldPeriod, &pc.YieldPeriod},
	} {
		if d.raw == nil {
			continue
		}
		v, ok := typeutil.SafeDuration(d.raw)
		if !ok {
			return pc, fmt.Errorf("invalid %s %v", d.name, d.raw)
		}
		*d.dst = v
	}
	return pc, nil
}

func (c yamlConnection) toConfig() (ConnectionConfig, error) {
	cc := ConnectionConfig{
		ID:          c.ID,
		Name:        c.Name,
		Source:      firstNonEmpty(c.SourceID, c.SourceName),
		Destination: firstNonEmpty(c.DestinationID, c.DestinationName),
	}
	if cc.ID == "" {
		cc.ID = c.Name
	}
	if c.SourceRelationshipName != "" {
		cc.Relationships = append(cc.Relationships, c.SourceRelationshipName)
	}
	cc.Relationships = append(cc.Relationships, c.SourceRelationshipNames...)

	if c.MaxWorkQueueSize != nil {
		n, ok := typeutil.SafeInt(c.MaxWorkQueueSize)
		if !ok {
			return cc, fmt.Errorf("invalid max work queue size %v", c.MaxWorkQueueSize)
		}
		cc.MaxCount = int64(n)
	}
	if c.MaxWorkQueueDataSize != nil {
		n, ok := typeutil.SafeDataSize(c.MaxWorkQueueDataSize)
		if !ok {
			return cc, fmt.Errorf("invalid max work queue data size %v", c.MaxWorkQueueDataSize)
		}
		cc.MaxBytes = n
	}
	if c.FlowFileExpiration != nil {
		d, ok := typeutil.SafeDuration(c.FlowFileExpiration)
		if !ok {
			return cc, fmt.Errorf("invalid flowfile expiration %v", c.FlowFileExpiration)
		}
		cc.Expiration = d
	}
	return cc, nil
}

// className strips a Java-style package prefix from a processor class.
func className(class string) string {
	if i := strings.LastIndex(class, "."); i >= 0 {
		return class[i+1:]
	}
	return class
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// File loaders
// =============================================================================

// LoadFlowFile reads a flow definition, choosing the parser by extension
// (.yml/.yaml or .hcl).
func LoadFlowFile(path string) (*FlowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return ParseFlowYAML(data)
	case ".hcl":
		return ParseFlowHCL(data, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadAgentConfigFile reads a YAML agent configuration on top of the defaults.
func LoadAgentConfigFile(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent config: %w", err)
	}
	return ParseAgentConfigYAML(data)
}

// ParseAgentConfigYAML decodes YAML agent configuration on top of the defaults.
func ParseAgentConfigYAML(data []byte) (*AgentConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}

	cfg := DefaultAgentConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	d, ok := typeutil.SafeDuration(data)
	if !ok {
		return nil, fmt.Errorf("invalid duration %v", data)
	}
	return d, nil
}

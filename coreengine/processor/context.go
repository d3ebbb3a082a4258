package processor

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/typeutil"
)

// ScheduleContext gives OnSchedule access to properties and the state store.
type ScheduleContext struct {
	node   *Node
	store  state.Store
	logger Logger
}

// NewScheduleContext creates a context for node. A nil store falls back to memory.
func NewScheduleContext(node *Node, store state.Store, logger Logger) *ScheduleContext {
	if store == nil {
		store = state.NewMemoryStore()
	}
	return &ScheduleContext{node: node, store: store, logger: logger}
}

// ProcessorID returns the id of the scheduled node.
func (c *ScheduleContext) ProcessorID() string { return c.node.ID() }

// ProcessorName returns the name of the scheduled node.
func (c *ScheduleContext) ProcessorName() string { return c.node.Name() }

// StateStore returns the injected state store.
func (c *ScheduleContext) StateStore() state.Store { return c.store }

// StateKey is the default state key for the scheduled node.
func (c *ScheduleContext) StateKey() string { return "processor/" + c.node.ID() }

// Logger returns the node logger. May be nil.
func (c *ScheduleContext) Logger() Logger { return c.logger }

// RawProperty returns the configured value as loaded.
func (c *ScheduleContext) RawProperty(name string) (any, bool) {
	v, ok := c.node.cfg.Properties[name]
	return v, ok
}

// Property returns a property as a string.
func (c *ScheduleContext) Property(name string) (string, bool) {
	v, ok := c.RawProperty(name)
	if !ok {
		return "", false
	}
	return typeutil.SafeString(v)
}

// PropertyOr returns a property or def when unset.
func (c *ScheduleContext) PropertyOr(name, def string) string {
	if s, ok := c.Property(name); ok {
		return s
	}
	return def
}

// IntProperty returns def when unset and a PropertyError when set but invalid.
func (c *ScheduleContext) IntProperty(name string, def int) (int, error) {
	v, ok := c.RawProperty(name)
	if !ok {
		return def, nil
	}
	i, ok := typeutil.SafeInt(v)
	if !ok {
		return 0, c.invalid(name, v, "not an integer")
	}
	return i, nil
}

// BoolProperty returns def when unset and a PropertyError when set but invalid.
func (c *ScheduleContext) BoolProperty(name string, def bool) (bool, error) {
	v, ok := c.RawProperty(name)
	if !ok {
		return def, nil
	}
	b, ok := typeutil.SafeBool(v)
	if !ok {
		return false, c.invalid(name, v, "not a boolean")
	}
	return b, nil
}

// DurationProperty returns def when unset and a PropertyError when set but invalid.
func (c *ScheduleContext) DurationProperty(name string, def time.Duration) (time.Duration, error) {
	v, ok := c.RawProperty(name)
	if !ok {
		return def, nil
	}
	d, ok := typeutil.SafeDuration(v)
	if !ok {
		return 0, c.invalid(name, v, "not a duration")
	}
	return d, nil
}

// DataSizeProperty returns def when unset and a PropertyError when set but invalid.
func (c *ScheduleContext) DataSizeProperty(name string, def int64) (int64, error) {
	v, ok := c.RawProperty(name)
	if !ok {
		return def, nil
	}
	n, ok := typeutil.SafeDataSize(v)
	if !ok {
		return 0, c.invalid(name, v, "not a data size")
	}
	return n, nil
}

// EnumProperty validates a property against allowed values.
func (c *ScheduleContext) EnumProperty(name, def string, allowed ...string) (string, error) {
	s := c.PropertyOr(name, def)
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", c.invalid(name, s, fmt.Sprintf("must be one of %v", allowed))
}

// DecodeProperties decodes all properties into out using `mapstructure` tags.
// Strings are weakly converted, durations accept "100 ms" style values.
func (c *ScheduleContext) DecodeProperties(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(c.node.cfg.Properties); err != nil {
		return &PropertyError{Processor: c.node.Name(), Property: "*", Reason: err.Error()}
	}
	return nil
}

func (c *ScheduleContext) invalid(name string, v any, reason string) error {
	return &PropertyError{
		Processor: c.node.Name(),
		Property:  name,
		Value:     typeutil.SafeStringDefault(v, fmt.Sprint(v)),
		Reason:    reason,
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return typeutil.ParseDuration(reflect.ValueOf(data).String())
	case reflect.Int, reflect.Int64, reflect.Float64:
		if d, ok := typeutil.SafeDuration(data); ok {
			return d, nil
		}
	}
	return data, nil
}

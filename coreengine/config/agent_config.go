// Package config provides agent and flow configuration.
//
// AgentConfig holds process-wide settings for the flow controller and its
// outer surfaces. FlowConfig describes the processing graph and is loaded
// from YAML or HCL flow definitions.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/typeutil"
)

// AgentConfig holds agent-wide configuration.
type AgentConfig struct {
	// Shutdown
	DrainTimeout      time.Duration `json:"drain_timeout" yaml:"drain_timeout" mapstructure:"drain_timeout"`
	DrainPollInterval time.Duration `json:"drain_poll_interval" yaml:"drain_poll_interval" mapstructure:"drain_poll_interval"`
	HaltGrace         time.Duration `json:"halt_grace" yaml:"halt_grace" mapstructure:"halt_grace"`

	// Scheduling
	HousekeepingInterval time.Duration `json:"housekeeping_interval" yaml:"housekeeping_interval" mapstructure:"housekeeping_interval"`
	BackpressureRetry    time.Duration `json:"backpressure_retry" yaml:"backpressure_retry" mapstructure:"backpressure_retry"`
	IdlePoll             time.Duration `json:"idle_poll" yaml:"idle_poll" mapstructure:"idle_poll"`

	// State
	StateDSN string `json:"state_dsn" yaml:"state_dsn" mapstructure:"state_dsn"`

	// Surfaces (empty = disabled)
	GRPCAddr        string `json:"grpc_addr" yaml:"grpc_addr" mapstructure:"grpc_addr"`
	HTTPAddr        string `json:"http_addr" yaml:"http_addr" mapstructure:"http_addr"`
	TracingEndpoint string `json:"tracing_endpoint" yaml:"tracing_endpoint" mapstructure:"tracing_endpoint"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" mapstructure:"log_format"`
}

// DefaultAgentConfig returns an AgentConfig with default values.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		DrainTimeout:      0,
		DrainPollInterval: 10 * time.Millisecond,
		HaltGrace:         30 * time.Second,

		HousekeepingInterval: 5 * time.Second,
		BackpressureRetry:    50 * time.Millisecond,
		IdlePoll:             100 * time.Millisecond,

		StateDSN: "memory://",

		LogLevel:  "INFO",
		LogFormat: "text",
	}
}

// AgentConfigFromMap creates an AgentConfig from a map.
// Unknown keys are ignored. Durations accept "10 s", Go syntax or integer milliseconds.
func AgentConfigFromMap(config map[string]any) *AgentConfig {
	c := DefaultAgentConfig()

	if v, ok := typeutil.SafeDuration(config["drain_timeout"]); ok {
		c.DrainTimeout = v
	}
	if v, ok := typeutil.SafeDuration(config["drain_poll_interval"]); ok {
		c.DrainPollInterval = v
	}
	if v, ok := typeutil.SafeDuration(config["halt_grace"]); ok {
		c.HaltGrace = v
	}
	if v, ok := typeutil.SafeDuration(config["housekeeping_interval"]); ok {
		c.HousekeepingInterval = v
	}
	if v, ok := typeutil.SafeDuration(config["backpressure_retry"]); ok {
		c.BackpressureRetry = v
	}
	if v, ok := typeutil.SafeDuration(config["idle_poll"]); ok {
		c.IdlePoll = v
	}
	if v, ok := typeutil.SafeString(config["state_dsn"]); ok {
		c.StateDSN = v
	}
	if v, ok := typeutil.SafeString(config["grpc_addr"]); ok {
		c.GRPCAddr = v
	}
	if v, ok := typeutil.SafeString(config["http_addr"]); ok {
		c.HTTPAddr = v
	}
	if v, ok := typeutil.SafeString(config["tracing_endpoint"]); ok {
		c.TracingEndpoint = v
	}
	if v, ok := typeutil.SafeString(config["log_level"]); ok {
		c.LogLevel = v
	}
	if v, ok := typeutil.SafeString(config["log_format"]); ok {
		c.LogFormat = v
	}

	return c
}

// ToMap converts config to a map. Durations are rendered in Go syntax.
func (c *AgentConfig) ToMap() map[string]any {
	return map[string]any{
		"drain_timeout":         c.DrainTimeout.String(),
		"drain_poll_interval":   c.DrainPollInterval.String(),
		"halt_grace":            c.HaltGrace.String(),
		"housekeeping_interval": c.HousekeepingInterval.String(),
		"backpressure_retry":    c.BackpressureRetry.String(),
		"idle_poll":             c.IdlePoll.String(),
		"state_dsn":             c.StateDSN,
		"grpc_addr":             c.GRPCAddr,
		"http_addr":             c.HTTPAddr,
		"tracing_endpoint":      c.TracingEndpoint,
		"log_level":             c.LogLevel,
		"log_format":            c.LogFormat,
	}
}

// Validate checks value ranges.
func (c *AgentConfig) Validate() error {
	if c.DrainTimeout < 0 {
		return &ConfigError{Field: "drain_timeout", Reason: "must not be negative"}
	}
	if c.DrainPollInterval <= 0 {
		return &ConfigError{Field: "drain_poll_interval", Reason: "must be positive"}
	}
	if c.HaltGrace <= 0 {
		return &ConfigError{Field: "halt_grace", Reason: "must be positive"}
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return &ConfigError{Field: "log_level", Reason: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return &ConfigError{Field: "log_format", Reason: fmt.Sprintf("unknown format %q", c.LogFormat)}
	}
	return nil
}

// =============================================================================
// GLOBAL CONFIG (set by the agent binary at startup)
// =============================================================================

var (
	globalAgentConfig *AgentConfig
	configMu          sync.RWMutex
)

// GetAgentConfig gets the agent configuration instance.
// Returns the injected config or defaults.
func GetAgentConfig() *AgentConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalAgentConfig == nil {
		return DefaultAgentConfig()
	}
	return globalAgentConfig
}

// SetAgentConfig sets the agent configuration instance.
func SetAgentConfig(config *AgentConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalAgentConfig = config
}

// ResetAgentConfig resets agent config to nil (useful for testing).
// After reset, GetAgentConfig() will return defaults.
func ResetAgentConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalAgentConfig = nil
}

package main

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/graph"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processors"
)

// loadAgentConfig reads --config (or defaults), applies --log-level and validates.
func loadAgentConfig(cmd *cobra.Command) (*config.AgentConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.DefaultAgentConfig()
	if path != "" {
		loaded, err := config.LoadAgentConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadGroup parses --flow and builds the process group from the built-in processors.
func loadGroup(cmd *cobra.Command) (*config.FlowConfig, *graph.ProcessGroup, error) {
	path, _ := cmd.Flags().GetString("flow")
	if path == "" {
		return nil, nil, errors.New("--flow is required")
	}
	flow, err := config.LoadFlowFile(path)
	if err != nil {
		return nil, nil, err
	}
	group, err := graph.Build(flow, processors.DefaultRegistry())
	if err != nil {
		return nil, nil, err
	}
	return flow, group, nil
}

// newLogger builds the process logger. *slog.Logger satisfies every
// package-level Logger interface directly.
func newLogger(w io.Writer, cfg *config.AgentConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

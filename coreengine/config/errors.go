package config

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned by LoadFlowFile for unknown file extensions.
var ErrUnsupportedFormat = errors.New("unsupported flow definition format")

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	// Path locates the offending element, e.g. "processors[2]" or "connections[Gen]".
	Path   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Path != "" && e.Field != "":
		return fmt.Sprintf("config %s.%s: %s", e.Path, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	case e.Path != "":
		return fmt.Sprintf("config %s: %s", e.Path, e.Reason)
	default:
		return "config: " + e.Reason
	}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

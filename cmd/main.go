// Flowkernel agent
//
// Runs a flow definition under the flow controller, exposing the operator
// surfaces over gRPC and HTTP.
//
// Usage:
//
//	flowkernel run --flow flow.yml                    # Start the flow and serve
//	flowkernel run --flow flow.hcl --config agent.yml # With agent settings
//	flowkernel validate --flow flow.yml               # Check a definition
//	flowkernel version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information
const (
	Version   = "0.3.0"
	BuildTime = "2026-10-01"
)

var rootCmd = &cobra.Command{
	Use:           "flowkernel",
	Short:         "Flowkernel runs dataflow graphs of processors and queues",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("flow", "f", "", "Flow definition (.yml, .yaml or .hcl)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Agent configuration file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

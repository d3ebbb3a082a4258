// Package main provides flowctl, the operator CLI for a running flowkernel agent.
//
// Every command prints a JSON document to stdout.
//
// Usage:
//
//	flowctl start
//	flowctl stop                      # drain with the agent's drain timeout
//	flowctl stop --timeout 30s        # drain for at most 30s
//	flowctl stop --drain=false        # halt immediately
//	flowctl drain-timeout 2m          # extend a drain already in progress
//	flowctl status
//	flowctl running
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/grpc"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/typeutil"
)

// dialFunc connects to the agent. The closer releases the connection.
type dialFunc func(address string) (*grpc.ControlClient, io.Closer, error)

func dialAgent(address string) (*grpc.ControlClient, io.Closer, error) {
	client, conn, err := grpc.DialControl(address)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}

func newRootCmd(dial dialFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "flowctl",
		Short:         "Control a running flowkernel agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("addr", "localhost:50051", "Agent gRPC address")
	root.PersistentFlags().Duration("rpc-timeout", 0, "Deadline for the call (0 = none)")

	// withClient runs fn against a fresh connection and prints its result.
	withClient := func(fn func(ctx context.Context, c *grpc.ControlClient) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			client, closer, err := dial(addr)
			if err != nil {
				return fmt.Errorf("connect %s: %w", addr, err)
			}
			defer closer.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if d, _ := cmd.Flags().GetDuration("rpc-timeout"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			out, err := fn(ctx, client)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the flow",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *grpc.ControlClient) (any, error) {
			return c.Start(ctx)
		}),
	})

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the flow, draining queued work first unless --drain=false",
		Args:  cobra.NoArgs,
	}
	stop.Flags().Bool("drain", true, "Let queued work drain before halting")
	stop.Flags().String("timeout", "", `Drain timeout, e.g. "30s" or "1500" (ms); empty keeps the agent setting`)
	stop.RunE = withClient(func(ctx context.Context, c *grpc.ControlClient) (any, error) {
		drain, _ := stop.Flags().GetBool("drain")
		var timeout *time.Duration
		if raw, _ := stop.Flags().GetString("timeout"); raw != "" {
			d, err := typeutil.ParseDuration(raw)
			if err != nil {
				return nil, err
			}
			if d < 0 {
				return nil, fmt.Errorf("timeout must not be negative")
			}
			timeout = &d
		}
		return c.Stop(ctx, drain, timeout)
	})
	root.AddCommand(stop)

	root.AddCommand(&cobra.Command{
		Use:   "drain-timeout DURATION",
		Short: "Change the drain timeout, including for a stop in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := typeutil.ParseDuration(args[0])
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *grpc.ControlClient) (any, error) {
				if err := c.SetDrainTimeout(ctx, d); err != nil {
					return nil, err
				}
				return map[string]any{"drain_timeout": d.String()}, nil
			})(cmd, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show controller, processor and queue status",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *grpc.ControlClient) (any, error) {
			return c.Status(ctx)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "running",
		Short: "Report whether the flow is running or still stopping",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *grpc.ControlClient) (any, error) {
			running, err := c.IsRunning(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"running": running}, nil
		}),
	})

	return root
}

func main() {
	if err := newRootCmd(dialAgent).Execute(); err != nil {
		enc := json.NewEncoder(os.Stderr)
		_ = enc.Encode(map[string]string{"error": err.Error()})
		os.Exit(1)
	}
}

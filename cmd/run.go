package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/grpc"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/httpapi"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/kernel"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/observability"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/state"
)

const surfaceShutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a flow until SIGINT or SIGTERM, then drain and stop",
	RunE:  runAgent,
}

func init() {
	runCmd.Flags().Bool("no-start", false, "Serve the operator surfaces but leave the flow stopped")
	runCmd.Flags().String("grpc-addr", "", "Override the configured gRPC address")
	runCmd.Flags().String("http-addr", "", "Override the configured HTTP address")
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadAgentConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("grpc-addr"); v != "" {
		cfg.GRPCAddr = v
	}
	if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
		cfg.HTTPAddr = v
	}
	config.SetAgentConfig(cfg)

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	logger.Info("flowkernel_starting", "version", Version, "grpc_addr", cfg.GRPCAddr, "http_addr", cfg.HTTPAddr)

	if cfg.TracingEndpoint != "" {
		shutdown, err := observability.InitTracer("flowkernel", cfg.TracingEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), surfaceShutdownTimeout)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err.Error())
			}
		}()
	}

	store, err := state.Open(cfg.StateDSN)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	flow, group, err := loadGroup(cmd)
	if err != nil {
		return err
	}

	fc := kernel.NewFlowController(group, kernel.Options{Logger: logger, Store: store, Config: cfg})
	fc.OnEvent(func(e *kernel.Event) {
		logger.Debug("controller_event", "event_type", string(e.Type), "processor", e.Processor)
	})

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	g, gctx := errgroup.WithContext(serveCtx)

	if cfg.GRPCAddr != "" {
		server := grpc.NewGracefulServer(grpc.NewControlServer(logger, fc), cfg.GRPCAddr)
		g.Go(func() error {
			return ignoreCanceled(server.Start(gctx))
		})
	}
	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.NewHandler(logger, fc),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http_server_started", "address", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), surfaceShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return srv.Close()
			}
			return nil
		})
	}

	if noStart, _ := cmd.Flags().GetBool("no-start"); !noStart {
		if err := fc.Start(sigCtx); err != nil {
			cancelServe()
			_ = g.Wait()
			return err
		}
	}
	logger.Info("flowkernel_ready", "flow", flow.Name, "processors", len(group.Processors()))

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown_signal_received")
	case <-gctx.Done():
		logger.Warn("operator_surface_failed")
	}

	stopErr := fc.Stop(true)
	cancelServe()
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("flowkernel_stopped")
	return stopErr
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

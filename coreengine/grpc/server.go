// Package grpc provides the operator control surface of the agent over gRPC.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/kernel"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/typeutil"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Controller is the part of the flow controller exposed to operators.
type Controller interface {
	Start(ctx context.Context) error
	Stop(drain bool) error
	StopWithTimeout(drain bool, timeout time.Duration) error
	IsRunning() bool
	SetDrainTimeout(d time.Duration)
	DrainTimeout() time.Duration
	Status() kernel.Status
}

// ControlServer implements FlowControlServer on top of a Controller.
type ControlServer struct {
	logger     Logger
	controller Controller
}

// NewControlServer creates a control server.
func NewControlServer(logger Logger, controller Controller) *ControlServer {
	return &ControlServer{logger: logger, controller: controller}
}

// =============================================================================
// Flow Control
// =============================================================================

// Start starts the flow.
func (s *ControlServer) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.controller.Start(ctx); err != nil {
		return nil, toStatus("start", err)
	}
	s.logger.Info("flow_started_by_operator")
	return statusStruct(s.controller.Status())
}

// Stop stops the flow. The request may carry "drain" (bool, default true) and
// "timeout" (a duration string such as "10s" or "500 ms", or a number of
// milliseconds). A timeout replaces the configured drain timeout.
func (s *ControlServer) Stop(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	drain := true
	var timeout *time.Duration
	timeoutLabel := "configured"

	fields := req.GetFields()
	if v, ok := fields["drain"]; ok {
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, InvalidArgument("drain", "must be a boolean")
		}
		drain = b.BoolValue
	}
	if v, ok := fields["timeout"]; ok {
		d, ok := typeutil.SafeDuration(v.AsInterface())
		if !ok || d < 0 {
			return nil, InvalidArgument("timeout", "must be a non-negative duration")
		}
		timeout = &d
		timeoutLabel = d.String()
	}

	s.logger.Info("flow_stop_requested", "drain", drain, "timeout", timeoutLabel)

	var err error
	if timeout != nil {
		err = s.controller.StopWithTimeout(drain, *timeout)
	} else {
		err = s.controller.Stop(drain)
	}
	if err != nil {
		return nil, toStatus("stop", err)
	}
	return statusStruct(s.controller.Status())
}

// IsRunning reports whether the flow is running or still stopping.
func (s *ControlServer) IsRunning(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.controller.IsRunning()), nil
}

// SetDrainTimeout updates the drain timeout, also for a stop in progress.
func (s *ControlServer) SetDrainTimeout(_ context.Context, req *durationpb.Duration) (*emptypb.Empty, error) {
	d, err := validateDuration(req, "drain_timeout")
	if err != nil {
		return nil, err
	}
	s.controller.SetDrainTimeout(d)
	s.logger.Debug("drain_timeout_set", "drain_timeout", d.String())
	return &emptypb.Empty{}, nil
}

// GetStatus returns a controller snapshot.
func (s *ControlServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return statusStruct(s.controller.Status())
}

// statusStruct converts a status through its JSON form.
func statusStruct(st kernel.Status) (*structpb.Struct, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, Internal("encode status", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, Internal("encode status", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, Internal("encode status", err)
	}
	return out, nil
}

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer wraps a gRPC server with graceful shutdown support.
// It listens for context cancellation and shuts down cleanly.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     Logger
	address    string
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a server hosting the control service. Without
// options the standard interceptors and the OpenTelemetry stats handler are
// installed.
func NewGracefulServer(control *ControlServer, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(control.logger)
	}

	grpcServer := grpc.NewServer(opts...)
	RegisterFlowControlServer(grpcServer, control)

	return &GracefulServer{
		grpcServer: grpcServer,
		logger:     control.logger,
		address:    address,
	}
}

// Start listens on the configured address and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled or the server fails.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc_server_started", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated",
			"reason", ctx.Err().Error(),
		)
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop stops accepting connections and waits for in-flight RPCs.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout performs graceful shutdown with a timeout.
// If shutdown doesn't complete within timeout, it forces an immediate stop.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout",
			"timeout_ms", timeout.Milliseconds(),
		)
		s.grpcServer.Stop()
	}
}

// GRPCServer returns the underlying grpc.Server.
func (s *GracefulServer) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// Address returns the configured address.
func (s *GracefulServer) Address() string {
	return s.address
}

// tracingOption installs the OpenTelemetry stats handler.
func tracingOption() grpc.ServerOption {
	return grpc.StatsHandler(otelgrpc.NewServerHandler())
}

package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ControlClient calls the FlowControl service.
type ControlClient struct {
	conn grpc.ClientConnInterface
}

// NewControlClient wraps an existing connection.
func NewControlClient(conn grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{conn: conn}
}

// DialControl opens an insecure connection to address.
// The caller closes the returned connection.
func DialControl(address string, opts ...grpc.DialOption) (*ControlClient, *grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewControlClient(conn), conn, nil
}

// Start starts the flow and returns the resulting status.
func (c *ControlClient) Start(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodStart, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Stop stops the flow. A nil timeout keeps the configured drain timeout.
func (c *ControlClient) Stop(ctx context.Context, drain bool, timeout *time.Duration) (map[string]any, error) {
	fields := map[string]any{"drain": drain}
	if timeout != nil {
		fields["timeout"] = timeout.String()
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodStop, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// IsRunning reports whether the flow is running or still stopping.
func (c *ControlClient) IsRunning(ctx context.Context) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.conn.Invoke(ctx, MethodIsRunning, &emptypb.Empty{}, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// SetDrainTimeout updates the drain timeout.
func (c *ControlClient) SetDrainTimeout(ctx context.Context, d time.Duration) error {
	return c.conn.Invoke(ctx, MethodSetDrainTimeout, durationpb.New(d), &emptypb.Empty{})
}

// Status returns the controller snapshot.
func (c *ControlClient) Status(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, MethodGetStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

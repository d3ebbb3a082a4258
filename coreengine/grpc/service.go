package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "flowkernel.v1.FlowControl"

// Full method names.
const (
	MethodStart           = "/" + ServiceName + "/Start"
	MethodStop            = "/" + ServiceName + "/Stop"
	MethodIsRunning       = "/" + ServiceName + "/IsRunning"
	MethodSetDrainTimeout = "/" + ServiceName + "/SetDrainTimeout"
	MethodGetStatus       = "/" + ServiceName + "/GetStatus"
)

// FlowControlServer is the operator control service.
//
// Messages are protobuf well-known types:
//
//	Start(Empty) -> Struct                 status after start
//	Stop(Struct{drain, timeout}) -> Struct status after stop
//	IsRunning(Empty) -> BoolValue
//	SetDrainTimeout(Duration) -> Empty
//	GetStatus(Empty) -> Struct
type FlowControlServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IsRunning(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	SetDrainTimeout(context.Context, *durationpb.Duration) (*emptypb.Empty, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterFlowControlServer registers srv on s.
func RegisterFlowControlServer(s grpc.ServiceRegistrar, srv FlowControlServer) {
	s.RegisterService(&FlowControlServiceDesc, srv)
}

// FlowControlServiceDesc describes the FlowControl service.
var FlowControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FlowControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: startHandler},
		{MethodName: "Stop", Handler: stopHandler},
		{MethodName: "IsRunning", Handler: isRunningHandler},
		{MethodName: "SetDrainTimeout", Handler: setDrainTimeoutHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flowkernel/v1/flow_control.proto",
}

func startHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FlowControlServer).Start(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodStart}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FlowControlServer).Start(ctx, req.(*emptypb.Empty))
	})
}

func stopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FlowControlServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodStop}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FlowControlServer).Stop(ctx, req.(*structpb.Struct))
	})
}

func isRunningHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FlowControlServer).IsRunning(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodIsRunning}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FlowControlServer).IsRunning(ctx, req.(*emptypb.Empty))
	})
}

func setDrainTimeoutHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(durationpb.Duration)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FlowControlServer).SetDrainTimeout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSetDrainTimeout}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FlowControlServer).SetDrainTimeout(ctx, req.(*durationpb.Duration))
	})
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FlowControlServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetStatus}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FlowControlServer).GetStatus(ctx, req.(*emptypb.Empty))
	})
}

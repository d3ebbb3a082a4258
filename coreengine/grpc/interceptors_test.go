package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// LOGGING INTERCEPTOR TESTS
// =============================================================================

func TestLoggingInterceptor_Success(t *testing.T) {
	logger := &TestLogger{}
	interceptor := LoggingInterceptor(logger)

	info := &grpc.UnaryServerInfo{FullMethod: MethodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return "response", nil
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.NoError(t, err)
	assert.Equal(t, "response", resp)

	require.Len(t, logger.DebugCalls, 2)
	assert.Equal(t, "grpc_request_started", logger.DebugCalls[0].Message)
	assert.Equal(t, "grpc_request_completed", logger.DebugCalls[1].Message)
	assert.Equal(t, MethodGetStatus, logger.DebugCalls[1].Fields["method"])
}

func TestLoggingInterceptor_Error(t *testing.T) {
	logger := &TestLogger{}
	interceptor := LoggingInterceptor(logger)

	info := &grpc.UnaryServerInfo{FullMethod: MethodStop}
	handler := func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.DeadlineExceeded, "halt grace exceeded")
	}

	_, err := interceptor(context.Background(), "request", info, handler)

	require.Error(t, err)
	require.Len(t, logger.ErrorCalls, 1)
	call := logger.ErrorCalls[0]
	assert.Equal(t, "grpc_request_failed", call.Message)
	assert.Equal(t, MethodStop, call.Fields["method"])
	assert.Equal(t, "DeadlineExceeded", call.Fields["code"])
	assert.Contains(t, call.Fields["error"], "halt grace exceeded")
}

// =============================================================================
// RECOVERY INTERCEPTOR TESTS
// =============================================================================

func TestRecoveryInterceptor_NoPanic(t *testing.T) {
	logger := &TestLogger{}
	interceptor := RecoveryInterceptor(logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: MethodIsRunning}
	handler := func(ctx context.Context, req any) (any, error) {
		return "safe response", nil
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.NoError(t, err)
	assert.Equal(t, "safe response", resp)
	assert.Empty(t, logger.Errors())
}

func TestRecoveryInterceptor_Panic(t *testing.T) {
	logger := &TestLogger{}
	interceptor := RecoveryInterceptor(logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: MethodStart}
	handler := func(ctx context.Context, req any) (any, error) {
		panic("test panic")
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.Error(t, err)
	assert.Nil(t, resp)

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Contains(t, st.Message(), "test panic")

	errs := logger.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "grpc_panic_recovered", errs[0].Message)
	assert.Equal(t, "test panic", errs[0].Fields["panic"])
	assert.NotEmpty(t, errs[0].Fields["stack"])
}

func TestRecoveryInterceptor_CustomHandler(t *testing.T) {
	logger := &TestLogger{}
	customHandler := func(p any) error {
		return status.Errorf(codes.Aborted, "custom: %v", p)
	}
	interceptor := RecoveryInterceptor(logger, customHandler)

	info := &grpc.UnaryServerInfo{FullMethod: MethodStart}
	handler := func(ctx context.Context, req any) (any, error) {
		panic("custom panic")
	}

	_, err := interceptor(context.Background(), "request", info, handler)

	require.Error(t, err)
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Aborted, st.Code())
	assert.Contains(t, st.Message(), "custom: custom panic")
}

func TestDefaultRecoveryHandler(t *testing.T) {
	err := DefaultRecoveryHandler("boom")
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "panic recovered: boom", st.Message())
}

// =============================================================================
// METRICS INTERCEPTOR TESTS
// =============================================================================

func TestMetricsInterceptor_StatusCodes(t *testing.T) {
	interceptor := MetricsInterceptor()

	testCases := []struct {
		name string
		code codes.Code
	}{
		{"OK", codes.OK},
		{"InvalidArgument", codes.InvalidArgument},
		{"FailedPrecondition", codes.FailedPrecondition},
		{"DeadlineExceeded", codes.DeadlineExceeded},
		{"Internal", codes.Internal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			info := &grpc.UnaryServerInfo{FullMethod: MethodStop}
			handler := func(ctx context.Context, req any) (any, error) {
				if tc.code == codes.OK {
					return "ok", nil
				}
				return nil, status.Error(tc.code, "error")
			}

			_, err := interceptor(context.Background(), "request", info, handler)

			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

// =============================================================================
// SERVER OPTIONS TESTS
// =============================================================================

func TestServerOptions(t *testing.T) {
	opts := ServerOptions(&TestLogger{})
	// Interceptor chain plus stats handler.
	assert.Len(t, opts, 2)
}

func TestServerOptions_RecoveryThroughChain(t *testing.T) {
	logger := &TestLogger{}
	ctrl := newMockController()
	ctrl.startPanic = true

	client, cleanup, err := StartBufconnServer(NewControlServer(logger, ctrl), ServerOptions(logger)...)
	require.NoError(t, err)
	defer cleanup()

	_, err = client.Start(context.Background())
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.True(t, logger.HasMessage("grpc_panic_recovered"))
}

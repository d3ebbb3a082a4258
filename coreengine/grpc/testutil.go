// Shared test helpers for the grpc package.
//
// Shared test helpers belong in the same package, not a parallel test directory.
// This follows stdlib patterns (net/http/httptest, testing/iotest).

package grpc

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// =============================================================================
// LOGGER MOCKS
// =============================================================================

// TestLogger is a mock logger capturing message strings and structured fields.
// Thread-safe.
type TestLogger struct {
	mu         sync.Mutex
	DebugCalls []LogCall
	InfoCalls  []LogCall
	WarnCalls  []LogCall
	ErrorCalls []LogCall
}

// LogCall represents a single log call with message and structured fields.
type LogCall struct {
	Message string
	Fields  map[string]any
}

func (l *TestLogger) Debug(msg string, keysAndValues ...any) {
	l.record(&l.DebugCalls, msg, keysAndValues)
}

func (l *TestLogger) Info(msg string, keysAndValues ...any) {
	l.record(&l.InfoCalls, msg, keysAndValues)
}

func (l *TestLogger) Warn(msg string, keysAndValues ...any) {
	l.record(&l.WarnCalls, msg, keysAndValues)
}

func (l *TestLogger) Error(msg string, keysAndValues ...any) {
	l.record(&l.ErrorCalls, msg, keysAndValues)
}

func (l *TestLogger) record(calls *[]LogCall, msg string, keysAndValues []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*calls = append(*calls, LogCall{Message: msg, Fields: toMap(msg, keysAndValues)})
}

// toMap converts key-value pairs to a map for structured assertions.
func toMap(msg string, keysAndValues []any) map[string]any {
	m := map[string]any{"msg": msg}
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			m[key] = keysAndValues[i+1]
		}
	}
	return m
}

// HasMessage checks whether any call at any level logged msg.
func (l *TestLogger) HasMessage(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, calls := range [][]LogCall{l.DebugCalls, l.InfoCalls, l.WarnCalls, l.ErrorCalls} {
		for _, call := range calls {
			if call.Message == msg {
				return true
			}
		}
	}
	return false
}

// Errors returns a copy of the error calls.
func (l *TestLogger) Errors() []LogCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogCall(nil), l.ErrorCalls...)
}

// =============================================================================
// IN-PROCESS SERVER
// =============================================================================

// StartBufconnServer serves control on an in-memory listener and returns a
// client connected to it. cleanup stops both.
func StartBufconnServer(control *ControlServer, opts ...grpc.ServerOption) (*ControlClient, func(), error) {
	lis := bufconn.Listen(1 << 20)
	server := NewGracefulServer(control, "bufconn", opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = server.Serve(ctx, lis)
		close(done)
	}()

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		cancel()
		<-done
		return nil, nil, err
	}

	cleanup := func() {
		_ = conn.Close()
		cancel()
		<-done
	}
	return NewControlClient(conn), cleanup, nil
}

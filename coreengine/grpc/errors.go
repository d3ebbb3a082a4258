package grpc

import (
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/kernel"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

// =============================================================================
// ARGUMENT VALIDATION
// =============================================================================

// validateDuration converts d, rejecting nil, malformed and negative values.
func validateDuration(d *durationpb.Duration, fieldName string) (time.Duration, error) {
	if d == nil {
		return 0, InvalidArgument(fieldName, "is required")
	}
	if err := d.CheckValid(); err != nil {
		return 0, InvalidArgument(fieldName, err.Error())
	}
	v := d.AsDuration()
	if v < 0 {
		return 0, InvalidArgument(fieldName, "must not be negative")
	}
	return v, nil
}

// =============================================================================
// ERROR CODES
// =============================================================================

// InvalidArgument returns a gRPC InvalidArgument error.
func InvalidArgument(fieldName, reason string) error {
	return status.Errorf(codes.InvalidArgument, "%s %s", fieldName, reason)
}

// Internal wraps an unexpected failure with the operation name.
func Internal(operation string, cause error) error {
	return status.Errorf(codes.Internal, "%s failed: %v", operation, cause)
}

// toStatus maps controller errors onto gRPC codes.
func toStatus(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var shutdown *kernel.ShutdownError
	switch {
	case processor.IsStartupResourceFailure(err):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", operation, err)
	case processor.IsPropertyError(err), config.IsConfigError(err):
		return status.Errorf(codes.InvalidArgument, "%s: %v", operation, err)
	case errors.Is(err, kernel.ErrInvalidTransition):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", operation, err)
	case errors.As(err, &shutdown):
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", operation, err)
	default:
		return Internal(operation, err)
	}
}

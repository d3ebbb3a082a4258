package connection

import (
	"errors"
)

var (
	// ErrBackpressure indicates the connection is at its count or byte-size limit.
	// The producer keeps ownership of the flow file and retries later.
	//
	// Callers should use `errors.Is(err, ErrBackpressure)`.
	ErrBackpressure = errors.New("connection at capacity")

	// ErrItemTooLarge indicates a single flow file exceeds the connection's byte-size limit
	// and can never be admitted.
	ErrItemTooLarge = errors.New("flow file larger than connection byte limit")

	// ErrNilFlowFile is returned when a nil flow file is offered.
	ErrNilFlowFile = errors.New("nil flow file")
)

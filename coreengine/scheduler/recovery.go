package scheduler

import (
	"fmt"
	"runtime/debug"
)

// SafeExecute runs fn and converts a panic into an error.
// The operation parameter is used for logging context.
func SafeExecute(logger Logger, operation string, fn func() error) error {
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				err = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		err = fn()
	}()

	return err
}

// SafeGo runs fn in a goroutine with panic recovery.
// If fn panics, the panic is logged and onPanic (when set) is called.
func SafeGo(logger Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine_panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

package kernel

import (
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/observability"
)

// DefaultHousekeepingInterval is used when no interval is configured.
const DefaultHousekeepingInterval = 5 * time.Second

// StartHousekeeping starts a background goroutine that periodically publishes
// the depth of every connection. It never drops flow files: expiry happens
// when a consumer reads or an operator inspects the queue.
// Returns a stop function that must be called to stop the loop.
func (fc *FlowController) StartHousekeeping(interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				fc.runHousekeepingCycle()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runHousekeepingCycle performs a single housekeeping cycle with panic recovery.
func (fc *FlowController) runHousekeepingCycle() {
	defer func() {
		if r := recover(); r != nil {
			if fc.logger != nil {
				fc.logger.Error("housekeeping_panic_recovered", "error", r)
			}
		}
	}()

	var queued, inFlight, expired int64
	for _, c := range fc.group.Connections() {
		size := c.Size()
		observability.SetQueueDepth(c.Name(), size, c.ByteSize())
		queued += size
		inFlight += c.InFlight()
		expired += c.ExpiredCount()
	}

	if fc.logger != nil {
		fc.logger.Debug("housekeeping_cycle_completed",
			"queued", queued,
			"in_flight", inFlight,
			"expired_total", expired,
		)
	}
}

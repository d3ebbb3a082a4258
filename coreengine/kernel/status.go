package kernel

import (
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/connection"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
)

// ProcessorStatus is the runtime view of one processor.
type ProcessorStatus struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Running  bool            `json:"running"`
	Yielding bool            `json:"yielding"`
	Stats    processor.Stats `json:"stats"`
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	ControllerID string                      `json:"controller_id"`
	State        ControllerState             `json:"state"`
	Running      bool                        `json:"running"`
	DrainTimeout time.Duration               `json:"drain_timeout_ns"`
	StartedAt    *time.Time                  `json:"started_at,omitempty"`
	Queued       int64                       `json:"queued"`
	InFlight     int                         `json:"in_flight"`
	Processors   []ProcessorStatus           `json:"processors"`
	Connections  map[string]connection.Stats `json:"connections"`
}

// Status returns a snapshot of the controller and its graph.
// Inspecting connections drops expired flow files.
func (fc *FlowController) Status() Status {
	fc.mu.RLock()
	state := fc.state
	started := fc.startedAt
	fc.mu.RUnlock()

	st := Status{
		ControllerID: fc.id,
		State:        state,
		Running:      state != StateStopped,
		DrainTimeout: fc.DrainTimeout(),
		Queued:       fc.group.TotalFlowFileCount(),
		InFlight:     fc.sched.InFlight(),
		Connections:  fc.group.QueueStats(),
	}
	if state == StateRunning && !started.IsZero() {
		st.StartedAt = &started
	}

	now := time.Now()
	for _, n := range fc.group.Processors() {
		st.Processors = append(st.Processors, ProcessorStatus{
			ID:       n.ID(),
			Name:     n.Name(),
			Type:     n.Type(),
			Running:  n.IsRunning(),
			Yielding: n.IsYielding(now),
			Stats:    n.Stats(),
		})
	}
	return st
}

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/connection"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/flowfile"
)

// DefaultRetryInterval bounds how long a stalled commit waits between enqueue attempts.
const DefaultRetryInterval = 50 * time.Millisecond

// ErrForeignFlowFile is returned by Commit when a transferred flow file was
// not fetched or created by this session.
var ErrForeignFlowFile = errors.New("flow file does not belong to this session")

// SessionOptions tunes a Session.
type SessionOptions struct {
	// RetryInterval is the longest wait between enqueue attempts under backpressure.
	RetryInterval time.Duration
	Logger        Logger
}

type fetched struct {
	ff   *flowfile.FlowFile
	from *connection.Connection
}

// Session is the scoped handle one execution uses to move flow files.
//
// Fetched flow files leave their connection and are owned by the session
// until Commit moves them (or their outputs) downstream, or Rollback returns
// them. Until then each one keeps its slot in the inbound connection. A session may commit several times; each commit starts a fresh batch.
// Not safe for concurrent use.
type Session struct {
	ctx     context.Context
	node    *Node
	logger  Logger
	retry   time.Duration
	fetched []fetched

	snapshots map[string]flowfile.Snapshot
	created   map[string]*flowfile.FlowFile
	routes    map[string]string
	order     []*flowfile.FlowFile
	removed   map[string]bool
	yield     bool

	totalFetched int
	totalOut     int
	commits      int
}

// NewSession creates a session bound to node. ctx is the execution's
// cancellation signal, observed while fetching and while a commit is stalled.
func NewSession(ctx context.Context, node *Node, opts SessionOptions) *Session {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	s := &Session{
		ctx:    ctx,
		node:   node,
		logger: opts.Logger,
		retry:  opts.RetryInterval,
	}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.fetched = nil
	s.snapshots = make(map[string]flowfile.Snapshot)
	s.created = make(map[string]*flowfile.FlowFile)
	s.routes = make(map[string]string)
	s.order = nil
	s.removed = make(map[string]bool)
}

// Context returns the execution context.
func (s *Session) Context() context.Context { return s.ctx }

// Node returns the node this session executes for.
func (s *Session) Node() *Node { return s.node }

// =============================================================================
// Fetch
// =============================================================================

// Get fetches one flow file, or nil when nothing is eligible.
func (s *Session) Get() *flowfile.FlowFile {
	batch := s.GetBatch(1)
	if len(batch) == 0 {
		return nil
	}
	return batch[0]
}

// GetBatch fetches up to n flow files across inbound connections, rotating the
// starting connection between calls. Nothing is fetched once ctx is cancelled.
func (s *Session) GetBatch(n int) []*flowfile.FlowFile {
	if n <= 0 || s.ctx.Err() != nil {
		return nil
	}
	var out []*flowfile.FlowFile
	for _, c := range s.node.inboundRotation() {
		if len(out) >= n {
			break
		}
		for _, ff := range c.Dequeue(n - len(out)) {
			s.track(ff, c)
			out = append(out, ff)
		}
	}
	return out
}

// GetFrom fetches up to n flow files from the named inbound connection.
func (s *Session) GetFrom(connectionName string, n int) ([]*flowfile.FlowFile, error) {
	for _, c := range s.node.Inbound() {
		if c.Name() != connectionName && c.ID() != connectionName {
			continue
		}
		if n <= 0 || s.ctx.Err() != nil {
			return nil, nil
		}
		items := c.Dequeue(n)
		for _, ff := range items {
			s.track(ff, c)
		}
		return items, nil
	}
	return nil, fmt.Errorf("processor %s has no inbound connection %q", s.node.Name(), connectionName)
}

func (s *Session) track(ff *flowfile.FlowFile, from *connection.Connection) {
	s.fetched = append(s.fetched, fetched{ff: ff, from: from})
	s.snapshots[ff.ID()] = ff.Snapshot()
	s.totalFetched++
}

// =============================================================================
// Produce and route
// =============================================================================

// Create makes a new flow file owned by the session.
func (s *Session) Create() *flowfile.FlowFile {
	ff := flowfile.New()
	s.created[ff.ID()] = ff
	return ff
}

// CreateChild makes a new flow file inheriting parent's attributes.
func (s *Session) CreateChild(parent *flowfile.FlowFile) *flowfile.FlowFile {
	ff := parent.Clone()
	ff.SetContent(flowfile.ContentRef{})
	s.created[ff.ID()] = ff
	return ff
}

// Clone duplicates ff (content included) as a new session-owned flow file.
func (s *Session) Clone(ff *flowfile.FlowFile) *flowfile.FlowFile {
	c := ff.Clone()
	s.created[c.ID()] = c
	return c
}

// PutAttribute sets an attribute. Undone by Rollback.
func (s *Session) PutAttribute(ff *flowfile.FlowFile, key, value string) {
	ff.SetAttribute(key, value)
}

// Write replaces the content of ff with an inline payload. Undone by Rollback.
func (s *Session) Write(ff *flowfile.FlowFile, data []byte) {
	ff.SetContent(flowfile.ContentRef{Inline: data, Length: int64(len(data))})
}

// Transfer routes ff to rel on the next Commit. Transferring again replaces the route.
func (s *Session) Transfer(ff *flowfile.FlowFile, rel Relationship) {
	s.TransferTo(ff, rel.Name)
}

// TransferTo routes ff to the relationship named rel.
func (s *Session) TransferTo(ff *flowfile.FlowFile, rel string) {
	if _, seen := s.routes[ff.ID()]; !seen {
		s.order = append(s.order, ff)
	}
	delete(s.removed, ff.ID())
	s.routes[ff.ID()] = rel
}

// Remove drops ff on the next Commit.
func (s *Session) Remove(ff *flowfile.FlowFile) {
	if _, routed := s.routes[ff.ID()]; routed {
		delete(s.routes, ff.ID())
		for i, o := range s.order {
			if o == ff {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.removed[ff.ID()] = true
}

// Penalize delays redelivery of ff by the node's penalization period.
func (s *Session) Penalize(ff *flowfile.FlowFile) {
	ff.Penalize(s.node.PenalizationPeriod())
}

// Yield asks the scheduler to yield the node after this execution.
func (s *Session) Yield() { s.yield = true }

// YieldRequested reports whether Yield was called.
func (s *Session) YieldRequested() bool { return s.yield }

// =============================================================================
// Commit / Rollback
// =============================================================================

// HasPending reports whether the current batch holds uncommitted work.
func (s *Session) HasPending() bool {
	return len(s.fetched) > 0 || len(s.created) > 0 || len(s.order) > 0
}

// Fetched returns the number of flow files fetched over the session's life.
func (s *Session) Fetched() int { return s.totalFetched }

// Transferred returns the number of outputs committed over the session's life.
func (s *Session) Transferred() int { return s.totalOut }

// Commits returns how many batches were committed.
func (s *Session) Commits() int { return s.commits }

// Commit moves the batch downstream as one unit.
//
// Routing is validated before anything moves; a validation error leaves the
// batch intact for Rollback. Outputs are then enqueued in transfer order. A
// full connection stalls the commit until space frees up. If the execution is
// cancelled while stalled, the remaining outputs are held by the node and
// delivered before its next execution.
func (s *Session) Commit() error {
	if !s.HasPending() {
		return nil
	}
	if err := s.checkDispositions(); err != nil {
		return err
	}

	var deliveries []Delivery
	dropped := 0
	for _, ff := range s.order {
		rel := s.routes[ff.ID()]
		if s.node.IsAutoTerminated(rel) {
			dropped++
			continue
		}
		dests := s.node.Outbound(rel)
		if len(dests) == 0 {
			return fmt.Errorf("%w: %s.%s", ErrUnknownRelationship, s.node.Name(), rel)
		}
		for i, c := range dests {
			item := ff
			if i > 0 {
				item = ff.Clone()
			}
			if limit := c.Config().MaxBytes; limit > 0 && item.Size() > limit {
				return fmt.Errorf("%w: %d bytes into %s", connection.ErrItemTooLarge, item.Size(), c.Name())
			}
			deliveries = append(deliveries, Delivery{FlowFile: item, Connection: c})
		}
	}

	s.release()
	delivered := s.deliver(deliveries)

	s.node.commits.Add(1)
	s.node.in.Add(int64(len(s.fetched)))
	s.node.out.Add(int64(delivered))
	s.node.dropped.Add(int64(dropped + len(s.removed)))
	s.totalOut += len(deliveries)
	s.commits++
	s.reset()
	return nil
}

// release frees the inbound slots of the committed batch. It runs before
// delivery so a processor feeding its own input queue cannot stall on itself.
func (s *Session) release() {
	groups := make(map[*connection.Connection][]*flowfile.FlowFile)
	var conns []*connection.Connection
	for _, f := range s.fetched {
		if _, seen := groups[f.from]; !seen {
			conns = append(conns, f.from)
		}
		groups[f.from] = append(groups[f.from], f.ff)
	}
	for _, c := range conns {
		c.Release(groups[c])
	}
}

func (s *Session) checkDispositions() error {
	owned := make(map[string]bool, len(s.fetched)+len(s.created))
	for _, f := range s.fetched {
		owned[f.ff.ID()] = true
	}
	for id := range s.created {
		owned[id] = true
	}
	for _, ff := range s.order {
		if !owned[ff.ID()] {
			return fmt.Errorf("%w: %s", ErrForeignFlowFile, ff.ID())
		}
	}
	for id := range owned {
		_, routed := s.routes[id]
		if !routed && !s.removed[id] {
			return fmt.Errorf("%w: %s in %s", ErrUnroutedFlowFile, id, s.node.Name())
		}
	}
	return nil
}

// deliver enqueues in order and returns how many were enqueued directly.
func (s *Session) deliver(ds []Delivery) int {
	for i, d := range ds {
		for {
			err := d.Connection.TryEnqueue(d.FlowFile)
			if err == nil {
				break
			}
			if !errors.Is(err, connection.ErrBackpressure) {
				s.node.Hold(ds[i:])
				s.log("commit_delivery_failed", "connection", d.Connection.Name(), "error", err.Error())
				return i
			}
			select {
			case <-s.ctx.Done():
				s.node.Hold(ds[i:])
				s.log("commit_deferred",
					"connection", d.Connection.Name(),
					"held", len(ds)-i,
				)
				return i
			case <-d.Connection.SpaceFreed():
			case <-time.After(s.retry):
			}
		}
	}
	return len(ds)
}

// Rollback returns fetched flow files to the front of their connections with
// their original attributes and discards everything produced in this batch.
// With penalize set, the returned flow files are penalized.
func (s *Session) Rollback(penalize bool) {
	groups := make(map[*connection.Connection][]*flowfile.FlowFile)
	var conns []*connection.Connection
	for _, f := range s.fetched {
		if snap, ok := s.snapshots[f.ff.ID()]; ok {
			f.ff.Restore(snap)
		}
		if penalize {
			f.ff.Penalize(s.node.PenalizationPeriod())
		}
		if _, seen := groups[f.from]; !seen {
			conns = append(conns, f.from)
		}
		groups[f.from] = append(groups[f.from], f.ff)
	}
	for _, c := range conns {
		c.ReturnToFront(groups[c])
	}
	s.reset()
}

func (s *Session) log(msg string, keysAndValues ...any) {
	if s.logger == nil {
		return
	}
	kv := append([]any{"processor", s.node.Name()}, keysAndValues...)
	s.logger.Warn(msg, kv...)
}

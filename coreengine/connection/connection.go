// Package connection provides the bounded FIFO queue between two processors.
//
// Limits are enforced on the producer side: TryEnqueue refuses an item that
// would exceed the count or byte-size limit. Items handed out by Dequeue keep
// their slot until the consumer calls Release or ReturnToFront, so a rollback
// never pushes the queue past its limits. Expired items are dropped lazily
// when the queue is read or inspected.
package connection

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/flowfile"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/observability"
)

// Config describes a connection. Zero limits mean unlimited.
type Config struct {
	ID            string
	Name          string
	SourceID      string
	DestinationID string
	// Relationships routed from the source into this connection.
	Relationships []string
	MaxCount      int64
	MaxBytes      int64
	// Expiration drops items older than this. Zero disables expiry.
	Expiration time.Duration
}

// EnqueueListener is notified after items are added to a connection.
type EnqueueListener func(c *Connection)

// Stats is a point-in-time view of a connection.
type Stats struct {
	Count     int64 `json:"count"`
	Bytes     int64 `json:"bytes"`
	Penalized int64 `json:"penalized"`
	InFlight  int64 `json:"in_flight"`
	Expired   int64 `json:"expired_total"`
	MaxCount  int64 `json:"max_count"`
	MaxBytes  int64 `json:"max_bytes"`
}

// Connection is a bounded, expiring FIFO of flow files.
// Thread-safe.
type Connection struct {
	cfg Config

	mu       sync.Mutex
	items    *list.List
	byteSize atomic.Int64
	count    atomic.Int64
	expired  atomic.Int64
	freed    chan struct{}

	// Dequeued but not yet released, by flow file id.
	reserved      map[string]int64
	reservedBytes int64

	listenerMu sync.RWMutex
	listeners  []EnqueueListener

	now func() time.Time
}

// New creates a connection from cfg.
func New(cfg Config) *Connection {
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return &Connection{
		cfg:      cfg,
		items:    list.New(),
		freed:    make(chan struct{}),
		reserved: make(map[string]int64),
		now:      time.Now,
	}
}

// =============================================================================
// Accessors
// =============================================================================

// ID returns the connection id.
func (c *Connection) ID() string { return c.cfg.ID }

// Name returns the connection name.
func (c *Connection) Name() string { return c.cfg.Name }

// Config returns a copy of the connection configuration.
func (c *Connection) Config() Config {
	cfg := c.cfg
	cfg.Relationships = append([]string(nil), c.cfg.Relationships...)
	return cfg
}

// SourceID returns the producing processor id.
func (c *Connection) SourceID() string { return c.cfg.SourceID }

// DestinationID returns the consuming processor id.
func (c *Connection) DestinationID() string { return c.cfg.DestinationID }

// Routes reports whether relationship rel is routed into this connection.
func (c *Connection) Routes(rel string) bool {
	for _, r := range c.cfg.Relationships {
		if r == rel {
			return true
		}
	}
	return false
}

// OnEnqueue registers a listener called after every successful enqueue.
func (c *Connection) OnEnqueue(l EnqueueListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// =============================================================================
// Producer side
// =============================================================================

// TryEnqueue appends ff if neither limit would be exceeded.
// On ErrBackpressure the caller still owns ff.
func (c *Connection) TryEnqueue(ff *flowfile.FlowFile) error {
	if ff == nil {
		return ErrNilFlowFile
	}
	size := ff.Size()
	if c.cfg.MaxBytes > 0 && size > c.cfg.MaxBytes {
		return fmt.Errorf("%w: %d > %d on %s", ErrItemTooLarge, size, c.cfg.MaxBytes, c.cfg.Name)
	}

	c.mu.Lock()
	if c.cfg.MaxCount > 0 && int64(c.items.Len()+len(c.reserved)) >= c.cfg.MaxCount {
		c.mu.Unlock()
		observability.RecordBackpressure(c.cfg.Name)
		return fmt.Errorf("%w: %s holds %d items", ErrBackpressure, c.cfg.Name, c.cfg.MaxCount)
	}
	if c.cfg.MaxBytes > 0 && c.byteSize.Load()+c.reservedBytes+size > c.cfg.MaxBytes {
		c.mu.Unlock()
		observability.RecordBackpressure(c.cfg.Name)
		return fmt.Errorf("%w: %s byte limit %d", ErrBackpressure, c.cfg.Name, c.cfg.MaxBytes)
	}
	ff.EnqueuedAt = c.now()
	c.items.PushBack(ff)
	c.byteSize.Add(size)
	c.count.Add(1)
	c.mu.Unlock()

	c.notify()
	return nil
}

// ReturnToFront puts items back at the head in their given order.
// Used on rollback: a dequeued item goes back into the slot it reserved, so
// the queue never grows past what TryEnqueue admitted.
func (c *Connection) ReturnToFront(items []*flowfile.FlowFile) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	for i := len(items) - 1; i >= 0; i-- {
		ff := items[i]
		if ff == nil {
			continue
		}
		c.unreserveLocked(ff)
		c.items.PushFront(ff)
		c.byteSize.Add(ff.Size())
		c.count.Add(1)
	}
	c.mu.Unlock()

	c.notify()
}

// Release frees the slots held by dequeued items once the consumer has
// committed them. Items this connection did not hand out are ignored.
func (c *Connection) Release(items []*flowfile.FlowFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	freed := false
	for _, ff := range items {
		if ff != nil && c.unreserveLocked(ff) {
			freed = true
		}
	}
	if freed {
		c.signalFreedLocked()
	}
}

// IsFull reports whether the next enqueue of an empty flow file would be refused.
func (c *Connection) IsFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.MaxCount > 0 && int64(c.items.Len()+len(c.reserved)) >= c.cfg.MaxCount {
		return true
	}
	return c.cfg.MaxBytes > 0 && c.byteSize.Load()+c.reservedBytes >= c.cfg.MaxBytes
}

// SpaceFreed returns a channel closed the next time items leave the connection.
func (c *Connection) SpaceFreed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freed
}

// =============================================================================
// Consumer side
// =============================================================================

// Dequeue removes up to maxCount eligible items in FIFO order.
// Expired items met on the way are discarded and counted. Penalized items are
// skipped but keep their position. maxCount <= 0 means no limit.
// Returned items stay reserved until Release or ReturnToFront.
func (c *Connection) Dequeue(maxCount int) []*flowfile.FlowFile {
	now := c.now()
	var out []*flowfile.FlowFile
	var expired int64

	c.mu.Lock()
	var next *list.Element
	for e := c.items.Front(); e != nil; e = next {
		if maxCount > 0 && len(out) >= maxCount {
			break
		}
		next = e.Next()
		ff := e.Value.(*flowfile.FlowFile)
		if c.isExpired(ff, now) {
			c.removeLocked(e, ff)
			expired++
			continue
		}
		if ff.IsPenalized(now) {
			continue
		}
		c.removeLocked(e, ff)
		c.reserved[ff.ID()] = ff.Size()
		c.reservedBytes += ff.Size()
		out = append(out, ff)
	}
	if expired > 0 {
		c.signalFreedLocked()
	}
	c.mu.Unlock()

	c.recordExpired(expired)
	return out
}

// HasEligible reports whether Dequeue would currently return at least one item.
func (c *Connection) HasEligible() bool {
	if c.count.Load() == 0 {
		return false
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.items.Front(); e != nil; e = e.Next() {
		ff := e.Value.(*flowfile.FlowFile)
		if !c.isExpired(ff, now) && !ff.IsPenalized(now) {
			return true
		}
	}
	return false
}

// Inspect drops expired items and returns current statistics.
func (c *Connection) Inspect() Stats {
	now := c.now()
	var expired, penalized int64

	c.mu.Lock()
	var next *list.Element
	for e := c.items.Front(); e != nil; e = next {
		next = e.Next()
		ff := e.Value.(*flowfile.FlowFile)
		if c.isExpired(ff, now) {
			c.removeLocked(e, ff)
			expired++
			continue
		}
		if ff.IsPenalized(now) {
			penalized++
		}
	}
	if expired > 0 {
		c.signalFreedLocked()
	}
	inFlight := int64(len(c.reserved))
	c.mu.Unlock()

	c.recordExpired(expired)
	return Stats{
		Count:     c.count.Load(),
		Bytes:     c.byteSize.Load(),
		Penalized: penalized,
		InFlight:  inFlight,
		Expired:   c.expired.Load(),
		MaxCount:  c.cfg.MaxCount,
		MaxBytes:  c.cfg.MaxBytes,
	}
}

// Drain removes and returns every queued item, expired or not.
func (c *Connection) Drain() []*flowfile.FlowFile {
	c.mu.Lock()
	out := make([]*flowfile.FlowFile, 0, c.items.Len())
	for e := c.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*flowfile.FlowFile))
	}
	c.items.Init()
	c.byteSize.Store(0)
	c.count.Store(0)
	if len(out) > 0 {
		c.signalFreedLocked()
	}
	c.mu.Unlock()
	return out
}

// Size returns the number of queued items.
func (c *Connection) Size() int64 { return c.count.Load() }

// ByteSize returns the aggregate size of queued items.
func (c *Connection) ByteSize() int64 { return c.byteSize.Load() }

// IsEmpty reports whether the connection holds no items.
func (c *Connection) IsEmpty() bool { return c.count.Load() == 0 }

// InFlight returns how many dequeued items still hold a slot.
func (c *Connection) InFlight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.reserved))
}

// ExpiredCount returns how many items were dropped for age.
func (c *Connection) ExpiredCount() int64 { return c.expired.Load() }

// =============================================================================
// Internal
// =============================================================================

func (c *Connection) isExpired(ff *flowfile.FlowFile, now time.Time) bool {
	return c.cfg.Expiration > 0 && now.Sub(ff.EnqueuedAt) > c.cfg.Expiration
}

func (c *Connection) removeLocked(e *list.Element, ff *flowfile.FlowFile) {
	c.items.Remove(e)
	c.byteSize.Add(-ff.Size())
	c.count.Add(-1)
}

func (c *Connection) unreserveLocked(ff *flowfile.FlowFile) bool {
	size, ok := c.reserved[ff.ID()]
	if !ok {
		return false
	}
	delete(c.reserved, ff.ID())
	c.reservedBytes -= size
	return true
}

func (c *Connection) signalFreedLocked() {
	close(c.freed)
	c.freed = make(chan struct{})
}

func (c *Connection) recordExpired(n int64) {
	if n == 0 {
		return
	}
	c.expired.Add(n)
	observability.RecordExpired(c.cfg.Name, int(n))
}

func (c *Connection) notify() {
	c.listenerMu.RLock()
	listeners := make([]EnqueueListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}

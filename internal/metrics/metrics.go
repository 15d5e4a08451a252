// Package metrics implements the Metrics Push component (MP): per-
// subscriber live session snapshots and the operator aggregate channel.
// The registry holds one channel per key and forcibly closes an existing
// channel when a second one is opened for the same key; the transport is
// gorilla/websocket.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a single per-subscriber metrics sample.
type Snapshot struct {
	Timestamp        time.Time
	SessionID        uuid.UUID
	Status           string
	CumulativeBytes  int64
	ThroughputMbps   float64
	LatencyMillis    int
	ServerLoad       float64
}

// AggregateSnapshot is what the operator channel fans out.
type AggregateSnapshot struct {
	Timestamp       time.Time
	TotalSubscribers int
	ActiveSessions   int
	ActiveServers    int
	Alerts           []string
}

const channelBuffer = 8

// Channel is a bounded, single-producer snapshot feed for one
// subscriber. It silently drops the oldest queued snapshot on slow
// consumers rather than blocking the producer.
type Channel struct {
	snapshots chan Snapshot
	closed    chan struct{}
	once      sync.Once
}

func newChannel() *Channel {
	return &Channel{
		snapshots: make(chan Snapshot, channelBuffer),
		closed:    make(chan struct{}),
	}
}

// Send enqueues a snapshot, dropping the oldest queued one if the
// buffer is full.
func (c *Channel) Send(snap Snapshot) {
	select {
	case c.snapshots <- snap:
		return
	default:
	}
	select {
	case <-c.snapshots:
	default:
	}
	select {
	case c.snapshots <- snap:
	default:
	}
}

// Snapshots exposes the receive side for the transport layer to drain.
func (c *Channel) Snapshots() <-chan Snapshot { return c.snapshots }

// Closed signals when the channel has been forcibly closed, either by a
// second open for the same subscriber or by the caller.
func (c *Channel) Closed() <-chan struct{} { return c.closed }

// Close is idempotent.
func (c *Channel) Close() { c.once.Do(func() { close(c.closed) }) }

// Registry enforces one concurrent channel per subscriber: opening a
// second channel forcibly closes the first.
type Registry struct {
	mu       sync.Mutex
	channels map[uuid.UUID]*Channel
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[uuid.UUID]*Channel)}
}

// Open registers a new channel for subscriberID, force-closing any
// existing one first.
func (r *Registry) Open(subscriberID uuid.UUID) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.channels[subscriberID]; ok {
		existing.Close()
	}
	ch := newChannel()
	r.channels[subscriberID] = ch
	return ch
}

// Close removes a subscriber's channel if it is still the current one
// (a later Open may have already replaced it).
func (r *Registry) Close(subscriberID uuid.UUID, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.channels[subscriberID]; ok && current == ch {
		delete(r.channels, subscriberID)
	}
	ch.Close()
}

// Publish delivers a snapshot to a subscriber's open channel, if any.
func (r *Registry) Publish(subscriberID uuid.UUID, snap Snapshot) {
	r.mu.Lock()
	ch, ok := r.channels[subscriberID]
	r.mu.Unlock()
	if ok {
		ch.Send(snap)
	}
}

// SnapshotSource supplies the live data a running push loop samples at
// each tick.
type SnapshotSource interface {
	Sample(ctx context.Context, subscriberID uuid.UUID) (Snapshot, bool, error)
}

// Run drives a per-subscriber push loop at the given cadence until the
// channel is closed or ctx is done, calling source.Sample each tick and
// forwarding the result. On the source reporting the session has ended
// (ok=false), Run sends one final disconnected snapshot and returns.
func Run(ctx context.Context, subscriberID uuid.UUID, ch *Channel, source SnapshotSource, cadence time.Duration) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.Closed():
			return
		case <-ticker.C:
			snap, ok, err := source.Sample(ctx, subscriberID)
			if err != nil {
				continue
			}
			ch.Send(snap)
			if !ok {
				return
			}
		}
	}
}

// AggregateSource supplies the operator channel's fan-out data.
type AggregateSource interface {
	SampleAggregate(ctx context.Context) (AggregateSnapshot, error)
}

// AggregateChannel is a bounded, single-producer feed of operator
// aggregate snapshots, mirroring Channel's drop-oldest-on-full
// semantics but carrying the operator's own snapshot shape rather than
// a per-subscriber one.
type AggregateChannel struct {
	snapshots chan AggregateSnapshot
	closed    chan struct{}
	once      sync.Once
}

func newAggregateChannel() *AggregateChannel {
	return &AggregateChannel{
		snapshots: make(chan AggregateSnapshot, channelBuffer),
		closed:    make(chan struct{}),
	}
}

// Send enqueues a snapshot, dropping the oldest queued one if the
// buffer is full.
func (c *AggregateChannel) Send(snap AggregateSnapshot) {
	select {
	case c.snapshots <- snap:
		return
	default:
	}
	select {
	case <-c.snapshots:
	default:
	}
	select {
	case c.snapshots <- snap:
	default:
	}
}

// Snapshots exposes the receive side for the transport layer to drain.
func (c *AggregateChannel) Snapshots() <-chan AggregateSnapshot { return c.snapshots }

// Closed signals when the channel has been forcibly closed.
func (c *AggregateChannel) Closed() <-chan struct{} { return c.closed }

// Close is idempotent.
func (c *AggregateChannel) Close() { c.once.Do(func() { close(c.closed) }) }

// OperatorHub fans out aggregate counters to every connected operator
// channel at a fixed cadence, exempt from per-subscriber rate limiting.
type OperatorHub struct {
	mu        sync.Mutex
	listeners map[*AggregateChannel]struct{}
}

// NewOperatorHub constructs an empty OperatorHub.
func NewOperatorHub() *OperatorHub {
	return &OperatorHub{listeners: make(map[*AggregateChannel]struct{})}
}

// Subscribe registers an operator channel for aggregate fan-out.
func (h *OperatorHub) Subscribe() *AggregateChannel {
	ch := newAggregateChannel()
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes an operator channel.
func (h *OperatorHub) Unsubscribe(ch *AggregateChannel) {
	h.mu.Lock()
	delete(h.listeners, ch)
	h.mu.Unlock()
	ch.Close()
}

func (h *OperatorHub) broadcast(listeners []*AggregateChannel, snap AggregateSnapshot) {
	for _, ch := range listeners {
		ch.Send(snap)
	}
}

// RunOperatorHub periodically samples source and fans the aggregate out
// to every subscribed channel until ctx is done.
func RunOperatorHub(ctx context.Context, h *OperatorHub, source AggregateSource, cadence time.Duration) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := source.SampleAggregate(ctx)
			if err != nil {
				continue
			}
			h.mu.Lock()
			listeners := make([]*AggregateChannel, 0, len(h.listeners))
			for ch := range h.listeners {
				listeners = append(listeners, ch)
			}
			h.mu.Unlock()
			h.broadcast(listeners, snap)
		}
	}
}

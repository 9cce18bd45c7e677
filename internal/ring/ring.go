// Package ring implements the in-memory live-read buffer: a bounded FIFO of
// recent snapshots plus a non-blocking subscriber broadcast, adapted from
// the teacher's event bus (buffered channel, broadcast worker goroutine,
// per-subscriber send-or-drop) into a fixed-capacity snapshot history with
// ordering guarantees instead of an unbounded pub/sub log (spec §4.5).
package ring

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nullhaus/sysmond/internal/core"
)

// subscriberQueueDepth bounds each subscriber's channel; a subscriber that
// falls this far behind is disconnected rather than allowed to slow the
// publisher (spec §4.5: "slow consumer" disconnect, never block publishers).
const subscriberQueueDepth = 32

type subscriber struct {
	ch     chan *core.Snapshot
	ctx    context.Context
	cancel context.CancelFunc
}

// Buffer is a bounded FIFO of the most recent N snapshots with live
// subscription support.
type Buffer struct {
	mu       sync.RWMutex
	items    []*core.Snapshot
	capacity int
	head     int
	count    int

	subMu       sync.Mutex
	subs        map[*subscriber]struct{}
	subCapacity int
	logger      *slog.Logger
}

// New creates a ring buffer with the given fixed capacity and the default
// subscriber queue depth.
func New(capacity int, logger *slog.Logger) *Buffer {
	return NewWithSubCapacity(capacity, subscriberQueueDepth, logger)
}

// NewWithSubCapacity is New with an explicit per-subscriber channel depth
// (spec's ring.sub_capacity config key), so a deployment with slower
// consumers can trade memory for a larger disconnect tolerance.
func NewWithSubCapacity(capacity, subCapacity int, logger *slog.Logger) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	if subCapacity <= 0 {
		subCapacity = subscriberQueueDepth
	}
	return &Buffer{
		items:       make([]*core.Snapshot, capacity),
		capacity:    capacity,
		subs:        make(map[*subscriber]struct{}),
		subCapacity: subCapacity,
		logger:      logger,
	}
}

// Publish appends snap, overwriting the oldest entry once full. O(1),
// never blocks. Snapshots published in order A then B are never observed
// out of order by any subscriber (spec §4.5 ordering guarantee): the ring
// write and the subscriber fan-out both happen under the same lock, in the
// same goroutine that called Publish.
func (b *Buffer) Publish(snap *core.Snapshot) {
	b.mu.Lock()
	idx := (b.head + b.count) % b.capacity
	if b.count == b.capacity {
		idx = b.head
		b.head = (b.head + 1) % b.capacity
	} else {
		b.count++
	}
	b.items[idx] = snap
	b.broadcast(snap)
	b.mu.Unlock()
}

// Latest returns the most recently published snapshot, or nil if empty.
func (b *Buffer) Latest() *core.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return nil
	}
	idx := (b.head + b.count - 1) % b.capacity
	return b.items[idx]
}

// Window returns up to n most recent snapshots in chronological order.
func (b *Buffer) Window(n int) []*core.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.count {
		n = b.count
	}
	out := make([]*core.Snapshot, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		idx := (b.head + start + i) % b.capacity
		out[i] = b.items[idx]
	}
	return out
}

// Subscribe returns a bounded channel of future snapshots and a cancel
// function. The channel closes when ctx is done or the caller cancels.
func (b *Buffer) Subscribe(ctx context.Context) (<-chan *core.Snapshot, context.CancelFunc) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		ch:     make(chan *core.Snapshot, b.subCapacity),
		ctx:    subCtx,
		cancel: cancel,
	}

	b.subMu.Lock()
	b.subs[sub] = struct{}{}
	b.subMu.Unlock()

	go func() {
		<-subCtx.Done()
		b.subMu.Lock()
		delete(b.subs, sub)
		b.subMu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, cancel
}

func (b *Buffer) broadcast(snap *core.Snapshot) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for sub := range b.subs {
		select {
		case <-sub.ctx.Done():
			continue
		default:
		}
		select {
		case sub.ch <- snap:
		default:
			if b.logger != nil {
				b.logger.Warn("ring subscriber disconnected", "reason", "slow_consumer")
			}
			sub.cancel()
		}
	}
}

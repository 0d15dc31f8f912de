// Package queue implements the usage queue (C3): an unbounded FIFO of
// pending UsageRecords. Producers (request-handling code, via the facade)
// call Enqueue, which never blocks and never fails. The sole consumer is
// the queue drainer (C6), which polls Dequeue with a short timeout so it
// can observe a shutdown signal between waits.
package queue

import (
	"sync"
	"time"

	"github.com/user/billingagent/internal/core"
	"github.com/user/billingagent/internal/metrics"
)

// Queue is an unbounded, thread-safe FIFO of UsageRecords. The zero value
// is not usable; construct with New.
//
// Order is preserved in the absence of publish failures (§5). A record
// re-enqueued after a failed publish may land anywhere in the FIFO;
// consumers must not rely on FIFO order surviving failures (Q-1).
type Queue struct {
	mu      sync.Mutex
	items   []core.UsageRecord
	softCap int // 0 means unbounded, matching the spec's documented default
	closed  bool

	wake    chan struct{} // buffered 1; signals a waiting Dequeue
	closeCh chan struct{}
}

// New returns an empty Queue. softCap, if positive, bounds the queue with
// a drop-oldest policy (§9's suggested safety valve); zero keeps the
// spec's default unbounded behavior.
func New(softCap int) *Queue {
	return &Queue{
		items:   make([]core.UsageRecord, 0, 64),
		softCap: softCap,
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue appends r to the tail of the queue. It never blocks and never
// reports failure; an unbounded memory-safety hazard under prolonged
// disconnection is documented in §9, mitigated by softCap when configured.
func (q *Queue) Enqueue(r core.UsageRecord) {
	q.mu.Lock()
	q.items = append(q.items, r)
	if q.softCap > 0 && len(q.items) > q.softCap {
		drop := len(q.items) - q.softCap
		q.items = q.items[drop:]
	}
	n := len(q.items)
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(n))
	q.signal()
}

// EnqueueFront re-enqueues r at the head of the queue; used by the drainer
// when a publish fails, so the next drain attempt retries it soonest.
// Per Q-1, the exact re-enqueue position is implementation-defined.
func (q *Queue) EnqueueFront(r core.UsageRecord) {
	q.mu.Lock()
	q.items = append([]core.UsageRecord{r}, q.items...)
	n := len(q.items)
	q.mu.Unlock()
	metrics.QueueDepth.Set(float64(n))
	q.signal()
}

// Dequeue blocks until a record is available or pollTimeout elapses,
// returning ok=false on timeout, or once the queue is closed and empty
// (records still pending at Close are handed out first). A short pollTimeout lets
// the drainer check its shutdown flag between waits (§4.6 step 1).
func (q *Queue) Dequeue(pollTimeout time.Duration) (core.UsageRecord, bool) {
	deadline := time.Now().Add(pollTimeout)

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			r := q.items[0]
			q.items = q.items[1:]
			n := len(q.items)
			q.mu.Unlock()
			metrics.QueueDepth.Set(float64(n))
			return r, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return core.UsageRecord{}, false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return core.UsageRecord{}, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
			return core.UsageRecord{}, false
		case <-q.closeCh:
			timer.Stop()
			return core.UsageRecord{}, false
		}
	}
}

// Size returns the current number of pending records.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain clears the queue administratively and returns the number of
// records discarded.
func (q *Queue) Drain() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = q.items[:0]
	q.mu.Unlock()
	metrics.QueueDepth.Set(0)
	return n
}

// WaitEmpty blocks until the queue has no outstanding records or timeout
// elapses, returning whether it became empty. It never cancels drainer
// work; it only observes the queue's depth (§5).
func (q *Queue) WaitEmpty(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if q.Size() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close releases any goroutine blocked in Dequeue. It is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closeCh)
}

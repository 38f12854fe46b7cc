package events

import (
	"context"
	"sync"
	"time"

	"github.com/canonical/kafkacl/pkg/integrator"
	"github.com/canonical/kafkacl/pkg/metrics"
)

// item is one queued delivery. Attempt counts the deferrals so far.
type item struct {
	signal  integrator.Signal
	attempt int
}

// queue is a FIFO of signals deduplicated by kind. A signal queued while an
// equal one is being handled is delivered again once the handler returns.
type queue struct {
	mu sync.Mutex

	items      []item
	processing map[integrator.Signal]bool
	dirty      map[integrator.Signal]item
	delayed    map[integrator.Signal]*time.Timer

	cond         *sync.Cond
	shuttingDown bool
}

func newQueue() *queue {
	q := &queue{
		processing: make(map[integrator.Signal]bool),
		dirty:      make(map[integrator.Signal]item),
		delayed:    make(map[integrator.Signal]*time.Timer),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// add queues it, replacing a queued delivery of the same signal.
func (q *queue) add(it item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addLocked(it)
}

func (q *queue) addLocked(it item) {
	if q.shuttingDown {
		return
	}

	if q.processing[it.signal] {
		q.dirty[it.signal] = it
		return
	}

	for i, existing := range q.items {
		if existing.signal == it.signal {
			q.items[i] = it
			return
		}
	}

	q.items = append(q.items, it)
	metrics.QueueDepth.Set(float64(len(q.items)))
	q.cond.Signal()
}

// submit queues a fresh delivery and drops any pending redelivery of it.
func (q *queue) submit(sig integrator.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.delayed[sig]; ok {
		t.Stop()
		delete(q.delayed, sig)
	}
	q.addLocked(item{signal: sig})
}

// addAfter queues it once delay has elapsed.
func (q *queue) addAfter(it item, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}
	if t, ok := q.delayed[it.signal]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.delayed[it.signal] != timer {
			return
		}
		delete(q.delayed, it.signal)
		q.addLocked(it)
	})
	q.delayed[it.signal] = timer
}

// get blocks until an item is available, the queue shuts down or ctx is done.
func (q *queue) get(ctx context.Context) (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.shuttingDown {
		if ctx.Err() != nil {
			return item{}, false
		}

		// Wake the wait on cancellation; done releases the goroutine otherwise.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)

		if ctx.Err() != nil {
			return item{}, false
		}
	}

	if len(q.items) == 0 {
		return item{}, false
	}

	it := q.items[0]
	q.items = q.items[1:]
	q.processing[it.signal] = true
	metrics.QueueDepth.Set(float64(len(q.items)))
	return it, true
}

// done releases it and requeues a delivery that arrived meanwhile.
func (q *queue) done(it item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, it.signal)
	if again, ok := q.dirty[it.signal]; ok {
		delete(q.dirty, it.signal)
		q.addLocked(again)
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pending reports the number of scheduled redeliveries
func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.delayed)
}

func (q *queue) shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for sig, t := range q.delayed {
		t.Stop()
		delete(q.delayed, sig)
	}
	q.shuttingDown = true
	q.cond.Broadcast()
}

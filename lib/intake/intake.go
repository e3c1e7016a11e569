// Package intake implements the task manager's bounded intake queue:
// a fixed-capacity FIFO of (taskid, payload) pairs with a Free() signal
// that is the job manager's sole backpressure input. See spec.md
// section 3 ("TM intake queue") and section 5.
package intake

import "spits/lib/core"

// Item is a single queued task awaiting a worker.
type Item struct {
	TaskID  core.TaskID
	Payload []byte
}

// Queue is a bounded, thread-safe FIFO. TryPut never blocks: if the
// queue is full it drops the item and reports false, matching
// spec.md's "attempt Put_nowait and silently drop + log on full".
//
// Multiple goroutines may invoke methods on a Queue simultaneously.
type Queue struct {
	ch       chan Item
	capacity int
}

// New returns a Queue with the given capacity (max_workers + overfill).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Item, capacity), capacity: capacity}
}

// Free reports how many additional items the queue can currently
// accept. It is a point-in-time snapshot: concurrent TryPut/Get calls
// can race with callers that act on Free's result, and the queue
// tolerates that race by failing TryPut rather than blocking.
func (q *Queue) Free() int {
	return q.capacity - len(q.ch)
}

// Depth reports how many items are currently queued, awaiting a
// worker.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// TryPut attempts a non-blocking enqueue. It returns false if the
// queue is full.
func (q *Queue) TryPut(item Item) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Get blocks until an item is available or the queue is closed.
// The second return value is false only once the queue has been
// closed and drained.
func (q *Queue) Get() (Item, bool) {
	item, ok := <-q.ch
	return item, ok
}

// Close signals that no more items will be Put. Workers still
// draining via Get observe a closed, empty queue as (_, false).
func (q *Queue) Close() {
	close(q.ch)
}

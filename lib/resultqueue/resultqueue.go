// Package resultqueue implements the task manager's unbounded result
// queue: workers produce (taskid, status, payload) results, the
// per-connection pull handler consumes them. See spec.md section 3
// ("TM result queue") and section 5.
//
// Unbounded growth is a known risk (spec.md section 9); this package
// does not itself impose a bound, but TM wiring may sample Size() for
// metrics and operators can act on it externally.
package resultqueue

import (
	"sync"

	"spits/lib/core"
)

// Item is a single produced result awaiting delivery to a committer.
type Item struct {
	TaskID       core.TaskID
	WorkerStatus int64
	Payload      []byte
}

// Queue is an unbounded, thread-safe FIFO.
//
// Multiple goroutines may invoke methods on a Queue simultaneously:
// worker goroutines are producers, the per-connection pull handler is
// the sole consumer.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends an item to the back of the queue.
func (q *Queue) Enqueue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// Requeue puts an item back at the front of the queue. Used when a
// partially-sent result must not be lost because the connection that
// was streaming it broke mid-task (spec.md section 4.2).
func (q *Queue) Requeue(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Item{item}, q.items...)
}

// Dequeue pops the front item. ok is false if the queue was empty;
// this is the expected, race-tolerant "empty mid-drain" outcome a
// consumer should treat as end-of-stream, not an error.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Size reports the current queue length. Racy by construction the
// instant the lock is released; intended for the protocol's "reply
// with tosend" handshake and for metrics, not as a precise count.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

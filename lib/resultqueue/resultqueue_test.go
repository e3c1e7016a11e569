package resultqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
	"spits/lib/core"
)

func TestDequeueFIFOOrder(t *testing.T) {
	q := New()
	q.Enqueue(Item{TaskID: 1})
	q.Enqueue(Item{TaskID: 2})

	first, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, core.TaskID(1), first.TaskID)

	second, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, core.TaskID(2), second.TaskID)
}

func TestDequeueEmptyReturnsFalse(t *testing.T) {
	q := New()
	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestRequeuePutsItemBackAtFront(t *testing.T) {
	// Mid-send recovery: a partially-sent result is re-enqueued, not lost.
	q := New()
	q.Enqueue(Item{TaskID: 2})
	q.Requeue(Item{TaskID: 1})

	first, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, core.TaskID(1), first.TaskID)

	require.Equal(t, 1, q.Size())
}

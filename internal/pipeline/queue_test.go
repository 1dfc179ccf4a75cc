package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normatech/normrag/internal/errors"
)

func task(documentID int64, priority Priority) *IndexingTask {
	return NewTask(documentID, "doc.pdf", []byte("содержимое"), "", priority, 3)
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue(10)
	require.NoError(t, q.Enqueue(task(1, PriorityNormal)))
	require.NoError(t, q.Enqueue(task(2, PriorityLow)))
	require.NoError(t, q.Enqueue(task(3, PriorityHigh)))
	require.NoError(t, q.Enqueue(task(4, PriorityHigh)))
	require.NoError(t, q.Enqueue(task(5, PriorityNormal)))

	var got []int64
	for range 5 {
		task, ok := q.Dequeue()
		require.True(t, ok)
		got = append(got, task.DocumentID)
	}
	// High first, then normal, then low; FIFO within each priority.
	assert.Equal(t, []int64{3, 4, 1, 5, 2}, got)
}

func TestQueueOverloadWhenFull(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Enqueue(task(1, PriorityNormal)))
	require.NoError(t, q.Enqueue(task(2, PriorityNormal)))

	err := q.Enqueue(task(3, PriorityHigh))
	require.Error(t, err)
	assert.Equal(t, errors.KindOverload, errors.KindOf(err))

	// Draining one slot makes room again.
	_, ok := q.Dequeue()
	require.True(t, ok)
	assert.NoError(t, q.Enqueue(task(3, PriorityHigh)))
}

func TestQueueCloseDrainsBacklog(t *testing.T) {
	q := NewQueue(10)
	require.NoError(t, q.Enqueue(task(1, PriorityNormal)))
	q.Close()

	// The backlog survives Close; only new enqueues fail.
	err := q.Enqueue(task(2, PriorityNormal))
	assert.Equal(t, errors.KindFatal, errors.KindOf(err))

	got, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, int64(1), got.DocumentID)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestQueueCloseWakesBlockedDequeue(t *testing.T) {
	q := NewQueue(10)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Dequeue did not return after Close")
	}
}

func TestQueueContains(t *testing.T) {
	q := NewQueue(10)
	require.NoError(t, q.Enqueue(task(7, PriorityNormal)))

	assert.True(t, q.Contains(7))
	assert.False(t, q.Contains(8))

	q.Dequeue()
	assert.False(t, q.Contains(7))
}

func TestQueueLen(t *testing.T) {
	q := NewQueue(10)
	assert.Zero(t, q.Len())
	require.NoError(t, q.Enqueue(task(1, PriorityNormal)))
	require.NoError(t, q.Enqueue(task(2, PriorityNormal)))
	assert.Equal(t, 2, q.Len())
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityNormal, ParsePriority("что-то ещё"))
	assert.Equal(t, "high", PriorityHigh.String())
}

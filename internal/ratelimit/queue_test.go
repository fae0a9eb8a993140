package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedTask(id string, priority uint64) *Task {
	return &Task{ID: id, priority: priority, index: -1}
}

func TestAdmissionQueue_PopMinInPriorityOrder(t *testing.T) {
	q := newAdmissionQueue()
	q.Push(queuedTask("c", 3))
	q.Push(queuedTask("a", 1))
	q.Push(queuedTask("d", 4))
	q.Push(queuedTask("b", 2))

	require.Equal(t, 4, q.Len())
	assert.Equal(t, "a", q.PeekMin().ID)

	var got []string
	for q.Len() > 0 {
		got = append(got, q.PopMin().ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestAdmissionQueue_EmptyQueue(t *testing.T) {
	q := newAdmissionQueue()
	assert.Nil(t, q.PeekMin())
	assert.Nil(t, q.PopMin())
	assert.Equal(t, 0, q.CountBefore(10))
}

func TestAdmissionQueue_CountBefore(t *testing.T) {
	q := newAdmissionQueue()
	for i := uint64(1); i <= 5; i++ {
		q.Push(queuedTask("t", i))
	}
	q.PopMin() // priority 1 leaves the queue

	assert.Equal(t, 0, q.CountBefore(2))
	assert.Equal(t, 2, q.CountBefore(4))
	assert.Equal(t, 4, q.CountBefore(100))
}

func TestAdmissionQueue_IndexTracksMembership(t *testing.T) {
	q := newAdmissionQueue()
	a := queuedTask("a", 1)
	b := queuedTask("b", 2)
	q.Push(b)
	q.Push(a)

	assert.GreaterOrEqual(t, a.index, 0)
	popped := q.PopMin()
	assert.Same(t, a, popped)
	assert.Equal(t, -1, a.index)
	assert.Equal(t, 0, b.index)
}

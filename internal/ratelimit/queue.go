package ratelimit

import (
	"container/heap"
)

// admissionQueue orders queued tasks by priority, lowest first. It is not
// safe for concurrent use; the Limiter's mutex guards it.
type admissionQueue struct {
	items taskHeap
}

func newAdmissionQueue() *admissionQueue {
	q := &admissionQueue{items: make(taskHeap, 0)}
	heap.Init(&q.items)
	return q
}

// Push inserts t in O(log n).
func (q *admissionQueue) Push(t *Task) {
	heap.Push(&q.items, t)
}

// PeekMin returns the task with the smallest priority without removing it.
func (q *admissionQueue) PeekMin() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PopMin removes and returns the task with the smallest priority in O(log n).
func (q *admissionQueue) PopMin() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Task)
}

func (q *admissionQueue) Len() int {
	return len(q.items)
}

// CountBefore returns how many queued tasks have a priority lower than p.
func (q *admissionQueue) CountBefore(p uint64) int {
	n := 0
	for _, t := range q.items {
		if t.priority < p {
			n++
		}
	}
	return n
}

// taskHeap implements heap.Interface. Priorities are unique, so ordering by
// priority alone is already FIFO.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].priority < h[j].priority
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[0 : n-1]
	return t
}

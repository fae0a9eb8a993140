package ratelimit

import (
	"time"

	"github.com/sf7293/async-queue/internal/domain"
)

// Task is the single authoritative record for one submission. The admission
// queue and the task table point at the same value.
//
// Lifecycle: queued -> processing -> completed | failed
type Task struct {
	ID    string
	Query string
	Model string

	Status      domain.TaskStatus
	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      *domain.TaskResult

	// priority is the submission sequence number, strictly increasing per limiter.
	priority uint64
	// index is the heap position while queued, -1 otherwise.
	index int
}

func (t *Task) handle() domain.TaskHandle {
	return domain.TaskHandle{ID: t.ID, Query: t.Query, Model: t.Model}
}

func (t *Task) snapshot() domain.TaskSnapshot {
	s := domain.TaskSnapshot{
		ID:          t.ID,
		Status:      t.Status,
		Model:       t.Model,
		SubmittedAt: t.SubmittedAt,
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		s.StartedAt = &started
	}
	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		s.CompletedAt = &completed
	}
	if t.Result != nil {
		r := *t.Result
		s.Result = &r
	}
	return s
}

func (t *Task) change(from domain.TaskStatus, at time.Time) *domain.TaskStatusChangeHistory {
	c := &domain.TaskStatusChangeHistory{
		TaskID:         t.ID,
		Model:          t.Model,
		OldStatus:      from,
		NewStatus:      t.Status,
		CreatedAt:      at,
		CreatedAtStamp: at.Unix(),
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
)

// Observer receives every task transition in the order the transitions
// happened. It is called outside the limiter's lock, must not block and must
// not call back into the Limiter.
type Observer func(change *domain.TaskStatusChangeHistory)

// Option configures a Limiter.
type Option func(*Limiter)

// WithObserver registers fn to be told about every transition.
func WithObserver(fn Observer) Option {
	return func(l *Limiter) {
		l.observer = fn
	}
}

// WithIDGenerator replaces the task ID generator. Generated IDs that collide
// with an existing task are discarded and regenerated.
func WithIDGenerator(fn func(now time.Time) string) Option {
	return func(l *Limiter) {
		l.newID = fn
	}
}

// Limiter composes the admission queue and the slot manager.
type Limiter struct {
	mu sync.Mutex
	// notifyMu is taken before mu is released so observers see transitions in order.
	notifyMu sync.Mutex

	queue *admissionQueue
	slots *slotManager
	tasks map[string]*Task

	maxRequests int
	window      time.Duration
	seq         uint64

	// submitted is closed and replaced on every Submit.
	submitted chan struct{}

	observer Observer
	newID    func(now time.Time) string
}

// New creates a limiter allowing maxRequests dispatches per window.
func New(maxRequests int, window time.Duration, opts ...Option) (*Limiter, error) {
	if maxRequests <= 0 || window <= 0 {
		return nil, fmt.Errorf("max_requests=%d window=%s: %w", maxRequests, window, errval.ErrInvalidConfig)
	}

	l := &Limiter{
		queue:       newAdmissionQueue(),
		tasks:       make(map[string]*Task),
		maxRequests: maxRequests,
		window:      window,
		submitted:   make(chan struct{}),
		newID:       defaultTaskID,
	}
	l.slots = newSlotManager(&l.mu, maxRequests, window)

	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// defaultTaskID returns "HHMMSS-xxxxxx" with a random hex suffix.
func defaultTaskID(now time.Time) string {
	return now.Format("150405") + "-" + uuid.NewString()[:6]
}

// Submit queues a task. It never blocks on slot availability and never rejects.
func (l *Limiter) Submit(query, model string) domain.SubmitReceipt {
	l.mu.Lock()

	now := time.Now()
	id := l.newID(now)
	for l.tasks[id] != nil {
		id = l.newID(now)
	}

	l.seq++
	t := &Task{
		ID:          id,
		Query:       query,
		Model:       model,
		Status:      domain.Queued,
		SubmittedAt: now,
		priority:    l.seq,
		index:       -1,
	}
	l.tasks[id] = t
	l.queue.Push(t)

	position := l.queue.Len()
	wait := estimateWait(position, l.slots.Available(), l.maxRequests, l.window, l.slots.ReleaseAt, now)

	close(l.submitted)
	l.submitted = make(chan struct{})

	change := t.change("", now)
	l.unlockAndNotify(change)
	slog.Debug("Task is queued", "task_id", id, "queue_position", position, "estimated_wait", wait)

	return domain.SubmitReceipt{
		TaskID:               id,
		QueuePosition:        position,
		EstimatedWaitSeconds: int(wait.Seconds()),
		EstimatedStart:       now.Add(wait),
	}
}

// NextTask blocks until a task is queued and a slot is free, then dispatches
// the oldest queued task. It returns ctx.Err() if ctx ends first; in that
// case nothing was dispatched.
func (l *Limiter) NextTask(ctx context.Context) (domain.TaskHandle, error) {
	for {
		l.mu.Lock()
		if err := ctx.Err(); err != nil {
			l.mu.Unlock()
			return domain.TaskHandle{}, err
		}
		if l.queue.Len() > 0 && l.slots.TryAcquire() {
			t := l.queue.PopMin()
			now := time.Now()
			t.Status = domain.Processing
			t.StartedAt = now
			h := t.handle()
			change := t.change(domain.Queued, now)
			l.unlockAndNotify(change)
			slog.Debug("Task is dispatched", "task_id", h.ID)
			return h, nil
		}
		submitted := l.submitted
		released := l.slots.WaitForAnyRelease()
		l.mu.Unlock()

		select {
		case <-submitted:
		case <-released:
		case <-ctx.Done():
			return domain.TaskHandle{}, ctx.Err()
		}
	}
}

// Complete records the outcome of a dispatched task. The task's slot is not
// released early; its window timer alone frees it.
func (l *Limiter) Complete(taskID string, result domain.TaskResult) error {
	if result.Status == "" {
		result.Status = domain.Completed
	}
	if !result.Status.IsTerminal() {
		return fmt.Errorf("status %q: %w", result.Status, errval.ErrInvalidTransition)
	}

	l.mu.Lock()
	t, ok := l.tasks[taskID]
	if !ok {
		l.mu.Unlock()
		return errval.ErrNotFound
	}
	if t.Status != domain.Processing {
		from := t.Status
		l.mu.Unlock()
		return fmt.Errorf("task %s is %s: %w", taskID, from, errval.ErrInvalidTransition)
	}

	now := time.Now()
	t.Status = result.Status
	t.CompletedAt = now
	t.Result = &result
	change := t.change(domain.Processing, now)
	l.unlockAndNotify(change)
	return nil
}

// Status returns a snapshot of the task. Queued tasks also carry their live
// 1-based queue position.
func (l *Limiter) Status(taskID string) (domain.TaskSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tasks[taskID]
	if !ok {
		return domain.TaskSnapshot{}, errval.ErrNotFound
	}

	s := t.snapshot()
	if t.Status == domain.Queued {
		position := l.queue.CountBefore(t.priority) + 1
		s.QueuePosition = &position
	}
	return s, nil
}

// Config returns the current settings and counters.
func (l *Limiter) Config() domain.LimiterConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.configLocked()
}

func (l *Limiter) configLocked() domain.LimiterConfig {
	cfg := domain.LimiterConfig{
		MaxRequests:   l.maxRequests,
		WindowSeconds: l.window.Seconds(),
		QueueLength:   l.queue.Len(),
		ActiveSlots:   l.slots.ActiveCount(),
		TotalTasks:    len(l.tasks),
	}
	if at, ok := l.slots.NextReleaseAt(); ok {
		cfg.NextReleaseAt = &at
	}
	return cfg
}

// Reconfigure updates whichever of maxRequests and window is non-nil. Any
// non-positive value rejects the whole call and leaves settings unchanged.
// Holds already taken keep their scheduled release.
func (l *Limiter) Reconfigure(maxRequests *int, window *time.Duration) (domain.LimiterConfig, error) {
	if maxRequests != nil && *maxRequests <= 0 {
		return domain.LimiterConfig{}, fmt.Errorf("max_requests=%d: %w", *maxRequests, errval.ErrInvalidConfig)
	}
	if window != nil && *window <= 0 {
		return domain.LimiterConfig{}, fmt.Errorf("window=%s: %w", *window, errval.ErrInvalidConfig)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if maxRequests != nil {
		l.maxRequests = *maxRequests
	}
	if window != nil {
		l.window = *window
	}
	l.slots.Reconfigure(l.maxRequests, l.window)
	return l.configLocked(), nil
}

// unlockAndNotify releases mu and then reports change. Callers must hold mu.
func (l *Limiter) unlockAndNotify(change *domain.TaskStatusChangeHistory) {
	if l.observer == nil {
		l.mu.Unlock()
		return
	}

	l.notifyMu.Lock()
	l.mu.Unlock()
	defer l.notifyMu.Unlock()
	l.observer(change)
}

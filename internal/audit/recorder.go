package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sf7293/async-queue/internal/domain"
)

const (
	defaultBufferSize    = 1024
	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
	drainTimeout         = 5 * time.Second
)

type Option func(*Recorder)

func WithBufferSize(n int) Option {
	return func(r *Recorder) {
		r.bufferSize = n
	}
}

func WithRetry(maxRetries uint64, interval time.Duration) Option {
	return func(r *Recorder) {
		r.maxRetries = maxRetries
		r.retryInterval = interval
	}
}

// Recorder fans task transitions out to the history storage and the events
// queue. Either sink may be nil.
type Recorder struct {
	storage   domain.Storage
	queue     domain.Queue
	queueName string

	bufferSize    int
	maxRetries    uint64
	retryInterval time.Duration

	changes chan *domain.TaskStatusChangeHistory
}

func NewRecorder(storage domain.Storage, queue domain.Queue, queueName string, opts ...Option) *Recorder {
	r := &Recorder{
		storage:       storage,
		queue:         queue,
		queueName:     queueName,
		bufferSize:    defaultBufferSize,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.changes = make(chan *domain.TaskStatusChangeHistory, r.bufferSize)

	return r
}

// Enabled reports whether any sink is configured.
func (r *Recorder) Enabled() bool {
	return r.storage != nil || r.queue != nil
}

// Record enqueues change without blocking. When the buffer is full the change
// is dropped.
func (r *Recorder) Record(change *domain.TaskStatusChangeHistory) {
	if !r.Enabled() {
		return
	}

	select {
	case r.changes <- change:
	default:
		slog.Warn("Audit buffer is full, dropping task status change", "task_id", change.TaskID, "new_status", change.NewStatus)
	}
}

// Run writes recorded changes until ctx is done, then flushes what is still
// buffered within a short deadline.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case change := <-r.changes:
			r.write(ctx, change)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case change := <-r.changes:
			r.write(ctx, change)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, change *domain.TaskStatusChangeHistory) {
	if r.storage != nil {
		err := r.retry(ctx, func() error {
			return r.storage.InsertTaskStatusChange(ctx, change)
		})
		if err != nil {
			slog.ErrorContext(ctx, "Error occurred while storing task status change", "task_id", change.TaskID, "old_status", change.OldStatus, "new_status", change.NewStatus, "error", err)
		}
	}

	if r.queue != nil {
		marshalledChange, err := json.Marshal(change)
		if err != nil {
			slog.Error("There was an error in marshalling task status change", "task_id", change.TaskID, "error", err.Error())
			return
		}

		err = r.retry(ctx, func() error {
			return r.queue.PublishMessage(r.queueName, string(marshalledChange))
		})
		if err != nil {
			slog.ErrorContext(ctx, "Error occurred while publishing task status change", "task_id", change.TaskID, "queue_name", r.queueName, "error", err)
		}
	}
}

func (r *Recorder) retry(ctx context.Context, operation backoff.Operation) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryInterval), r.maxRetries)
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

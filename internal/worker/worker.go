package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/pkg/process"
)

const (
	// PreviewRunes bounds the output kept on the task record; the full output
	// goes to the result store.
	PreviewRunes = 500

	defaultTimeout       = 10 * time.Minute
	defaultMaxRetries    = 2
	defaultRetryInterval = time.Second
)

// TaskSource hands out dispatched tasks and takes back their outcome.
type TaskSource interface {
	NextTask(ctx context.Context) (domain.TaskHandle, error)
	Complete(taskID string, result domain.TaskResult) error
}

type Option func(*Worker)

func WithResultStore(store domain.ResultStore) Option {
	return func(w *Worker) {
		w.results = store
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(w *Worker) {
		w.timeout = timeout
	}
}

func WithRetry(maxRetries uint64, initialInterval time.Duration) Option {
	return func(w *Worker) {
		w.maxRetries = maxRetries
		w.retryInterval = initialInterval
	}
}

// Worker is the processing loop: it pulls dispatched tasks, runs the external
// generation and reports the outcome.
type Worker struct {
	source  TaskSource
	process process.Process
	results domain.ResultStore

	timeout       time.Duration
	maxRetries    uint64
	retryInterval time.Duration
}

func New(source TaskSource, p process.Process, opts ...Option) *Worker {
	w := &Worker{
		source:        source,
		process:       p,
		timeout:       defaultTimeout,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run dispatches until ctx is done. Each task runs in its own goroutine and is
// not cancelled with ctx; Run returns once those goroutines have finished.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	slog.Info("Worker is running")
	for {
		handle, err := w.source.NextTask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Worker is shutting down, waiting for in-flight tasks")
				return nil
			}

			return err
		}
		slog.Info("Task is picked up", "task_id", handle.ID, "model", handle.Model)

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.handle(context.WithoutCancel(ctx), handle)
		}()
	}
}

func (w *Worker) handle(ctx context.Context, handle domain.TaskHandle) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result := domain.TaskResult{Status: domain.Failed}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task processing panicked", "task_id", handle.ID, "panic", r)
			result = domain.TaskResult{Status: domain.Failed, Error: fmt.Sprintf("panic: %v", r)}
		}

		if err := w.source.Complete(handle.ID, result); err != nil {
			slog.Error("There was an error in completing the task", "task_id", handle.ID, "error", err)
			return
		}
		slog.Info("Task running has been finished", "task_id", handle.ID, "status", result.Status)
	}()

	output, err := w.execute(ctx, handle)
	if err != nil {
		slog.Error("Error has happened while doing the task", "task_id", handle.ID, "model", handle.Model, "error", err)
		result.Error = err.Error()
		return
	}

	result.Status = domain.Completed
	result.Result = Preview(output)

	if w.results == nil {
		return
	}
	location, err := w.results.SaveResult(ctx, domain.TaskOutput{
		TaskID:      handle.ID,
		Model:       handle.Model,
		Query:       handle.Query,
		Content:     output,
		CompletedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("Error occurred while saving the task result", "task_id", handle.ID, "error", err)
		return
	}
	result.FullResultPath = location
}

func (w *Worker) execute(ctx context.Context, handle domain.TaskHandle) (output string, err error) {
	attempt := 0
	operation := func() error {
		attempt++
		out, err := w.process.Execute(ctx, handle.Query, handle.Model)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			slog.Warn("Task attempt failed", "task_id", handle.ID, "attempt", attempt, "error", err)
			return err
		}

		output = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retryInterval
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, w.maxRetries), ctx))
	return output, err
}

// Preview returns at most PreviewRunes runes of output, marking truncation.
func Preview(output string) string {
	runes := []rune(output)
	if len(runes) <= PreviewRunes {
		return output
	}

	return string(runes[:PreviewRunes]) + "..."
}

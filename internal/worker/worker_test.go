package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processFunc func(ctx context.Context, query, model string) (string, error)

func (f processFunc) Execute(ctx context.Context, query, model string) (string, error) {
	return f(ctx, query, model)
}

type memoryResults struct {
	mu      sync.Mutex
	outputs map[string]domain.TaskOutput
}

func (m *memoryResults) Ping(ctx context.Context) error { return nil }

func (m *memoryResults) SaveResult(ctx context.Context, output domain.TaskOutput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outputs == nil {
		m.outputs = map[string]domain.TaskOutput{}
	}
	m.outputs[output.TaskID] = output
	return "mem://" + output.TaskID, nil
}

func (m *memoryResults) LoadResult(ctx context.Context, taskID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs[taskID].Content, nil
}

func newLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.New(10, time.Hour)
	require.NoError(t, err)
	return l
}

func startWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func waitForStatus(t *testing.T, l *ratelimit.Limiter, taskID string, want domain.TaskStatus) domain.TaskSnapshot {
	t.Helper()
	var snapshot domain.TaskSnapshot
	require.Eventually(t, func() bool {
		s, err := l.Status(taskID)
		if err != nil {
			return false
		}
		snapshot = s
		return s.Status == want
	}, 3*time.Second, 5*time.Millisecond)
	return snapshot
}

func TestWorker_CompletesTasks(t *testing.T) {
	l := newLimiter(t)
	results := &memoryResults{}
	p := processFunc(func(ctx context.Context, query, model string) (string, error) {
		return "answer to " + query + " by " + model, nil
	})
	stop := startWorker(t, New(l, p, WithResultStore(results)))
	defer stop()

	r1 := l.Submit("q1", "sonnet")
	r2 := l.Submit("q2", "opus")

	s1 := waitForStatus(t, l, r1.TaskID, domain.Completed)
	s2 := waitForStatus(t, l, r2.TaskID, domain.Completed)

	assert.Equal(t, "answer to q1 by sonnet", s1.Result.Result)
	assert.Equal(t, "mem://"+r1.TaskID, s1.Result.FullResultPath)
	assert.Equal(t, "answer to q2 by opus", s2.Result.Result)

	content, err := results.LoadResult(context.Background(), r2.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "answer to q2 by opus", content)
}

func TestWorker_RetriesThenFails(t *testing.T) {
	l := newLimiter(t)
	var attempts atomic.Int32
	p := processFunc(func(ctx context.Context, query, model string) (string, error) {
		attempts.Add(1)
		return "", errors.New("claude exited with code 1: overloaded")
	})
	stop := startWorker(t, New(l, p, WithRetry(2, time.Millisecond)))
	defer stop()

	r := l.Submit("q", "sonnet")
	s := waitForStatus(t, l, r.TaskID, domain.Failed)

	assert.Equal(t, int32(3), attempts.Load())
	assert.Contains(t, s.Result.Error, "overloaded")
	assert.Empty(t, s.Result.FullResultPath)
}

func TestWorker_RetrySucceeds(t *testing.T) {
	l := newLimiter(t)
	var attempts atomic.Int32
	p := processFunc(func(ctx context.Context, query, model string) (string, error) {
		if attempts.Add(1) == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	stop := startWorker(t, New(l, p, WithRetry(2, time.Millisecond)))
	defer stop()

	r := l.Submit("q", "sonnet")
	s := waitForStatus(t, l, r.TaskID, domain.Completed)
	assert.Equal(t, "ok", s.Result.Result)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestWorker_TimeoutFailsWithoutRetry(t *testing.T) {
	l := newLimiter(t)
	var attempts atomic.Int32
	p := processFunc(func(ctx context.Context, query, model string) (string, error) {
		attempts.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})
	stop := startWorker(t, New(l, p, WithTimeout(30*time.Millisecond), WithRetry(5, time.Millisecond)))
	defer stop()

	r := l.Submit("q", "sonnet")
	s := waitForStatus(t, l, r.TaskID, domain.Failed)
	assert.Contains(t, s.Result.Error, context.DeadlineExceeded.Error())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestWorker_PanicIsReportedAsFailure(t *testing.T) {
	l := newLimiter(t)
	p := processFunc(func(ctx context.Context, query, model string) (string, error) {
		panic("backend exploded")
	})
	stop := startWorker(t, New(l, p, WithRetry(0, time.Millisecond)))
	defer stop()

	r := l.Submit("q", "sonnet")
	s := waitForStatus(t, l, r.TaskID, domain.Failed)
	assert.Contains(t, s.Result.Error, "backend exploded")
}

func TestWorker_StopWaitsForInFlightWork(t *testing.T) {
	l := newLimiter(t)
	started := make(chan struct{})
	release := make(chan struct{})
	p := processFunc(func(ctx context.Context, query, model string) (string, error) {
		close(started)
		select {
		case <-release:
			return "finished", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(l, p).Run(ctx)
	}()

	r := l.Submit("q", "sonnet")
	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a task was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after in-flight work finished")
	}

	s, err := l.Status(r.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.Completed, s.Status)
	assert.Equal(t, "finished", s.Result.Result)
}

func TestPreview(t *testing.T) {
	short := "héllo"
	assert.Equal(t, short, Preview(short))

	long := strings.Repeat("é", PreviewRunes+10)
	got := Preview(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, PreviewRunes+3, len([]rune(got)))
}

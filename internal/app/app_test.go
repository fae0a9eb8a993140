package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/sf7293/async-queue/configs"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *configs.Config {
	t.Helper()
	return &configs.Config{
		LogLevel:  "info",
		RateLimit: configs.RateLimitConfig{MaxRequests: 2, WindowMinutes: 60},
		Processor: configs.ProcessorConfig{
			Backend:          "claude",
			ClaudeBinary:     "claude",
			DefaultModel:     "sonnet",
			TimeOutInSeconds: 5,
		},
		Results: configs.ResultsConfig{Store: "none", TTLInHours: 1},
	}
}

func TestNew_WithoutBackends(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.IsReady())
	assert.Nil(t, a.Worker)
	assert.False(t, a.Recorder.Enabled())
	assert.NoError(t, a.Logic.CheckHealth(context.Background()))

	_, err = a.Logic.GetTaskStatusHistory(context.Background(), "t")
	assert.ErrorIs(t, err, errval.ErrUnavailable)

	cfg := a.Logic.GetConfig()
	assert.Equal(t, 2, cfg.MaxRequests)
	assert.Equal(t, 3600.0, cfg.WindowSeconds)
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processor.Enabled = true
	cfg.Processor.Backend = "gpt"

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, errval.ErrInvalidBackend)
}

func TestRun_StopsWhenServeReturns(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	serveErr := errors.New("stdin closed")
	done := make(chan error, 1)
	go func() {
		done <- a.Run(context.Background(), func(ctx context.Context) error {
			return serveErr
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_ProcessesSubmittedTasks(t *testing.T) {
	echo, err := exec.LookPath("echo")
	if err != nil {
		t.Skip("echo is not available")
	}

	cfg := testConfig(t)
	cfg.Processor.Enabled = true
	cfg.Processor.ClaudeBinary = echo
	cfg.Results = configs.ResultsConfig{Store: "file", Dir: t.TempDir(), TTLInHours: 1}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}()

	receipt, err := a.Logic.SubmitTask(ctx, domain.RouterRequestSubmitTask{Query: "hello world"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := a.Logic.GetTaskStatus(ctx, receipt.TaskID)
		return err == nil && s.Status == domain.Completed
	}, 5*time.Second, 10*time.Millisecond)

	snapshot, err := a.Logic.GetTaskStatus(ctx, receipt.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "-p hello world --model sonnet", snapshot.Result.Result)
	assert.NotEmpty(t, snapshot.Result.FullResultPath)

	content, err := a.Logic.GetTaskResult(ctx, receipt.TaskID)
	require.NoError(t, err)
	assert.Contains(t, content, "-p hello world --model sonnet")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNew_OllamaBackendJoinsHealthCheck(t *testing.T) {
	ollamaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Setenv("OLLAMA_HOST", ollamaServer.URL)

	cfg := testConfig(t)
	cfg.Processor.Enabled = true
	cfg.Processor.Backend = "ollama"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.Logic.CheckHealth(context.Background()))

	ollamaServer.Close()
	assert.ErrorIs(t, a.Logic.CheckHealth(context.Background()), errval.ErrUnavailable)
}

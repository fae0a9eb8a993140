package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
	"github.com/sf7293/async-queue/internal/ratelimit"
	"github.com/sf7293/async-queue/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResults map[string]string

func (m mapResults) Ping(ctx context.Context) error { return nil }

func (m mapResults) SaveResult(ctx context.Context, output domain.TaskOutput) (string, error) {
	m[output.TaskID] = output.Content
	return "mem://" + output.TaskID, nil
}

func (m mapResults) LoadResult(ctx context.Context, taskID string) (string, error) {
	c, ok := m[taskID]
	if !ok {
		return "", errval.ErrNotFound
	}
	return c, nil
}

func connect(t *testing.T, limiter *ratelimit.Limiter, results domain.ResultStore) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	logic := server.NewServerLogic(limiter, nil, nil, results, "sonnet")
	allowed := func(model string) bool { return model == "sonnet" || model == "opus" }
	s := NewServer(NewTools(logic, "sonnet", allowed))

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

func call[T any](t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, T) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)

	var out T
	if !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return res, out
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func newLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.New(1, time.Hour)
	require.NoError(t, err)
	return l
}

func TestTools_ListsAllTools(t *testing.T) {
	session := connect(t, newLimiter(t), nil)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"async_submit", "async_status", "async_rate_config", "async_result"}, names)
}

func TestTools_SubmitAndStatus(t *testing.T) {
	limiter := newLimiter(t)
	session := connect(t, limiter, nil)

	res, first := call[SubmitOutput](t, session, "async_submit", map[string]any{"query": "what is a context?"})
	require.False(t, res.IsError)
	assert.Equal(t, "sonnet", first.Model)
	assert.Equal(t, 1, first.QueuePosition)
	assert.Contains(t, text(t, res), "Task submitted successfully!")

	_, second := call[SubmitOutput](t, session, "async_submit", map[string]any{"query": "q2", "model": "opus"})
	assert.Equal(t, 2, second.QueuePosition)

	res, status := call[StatusOutput](t, session, "async_status", map[string]any{"task_id": second.TaskID})
	require.False(t, res.IsError)
	assert.Equal(t, "queued", status.Status)
	assert.Equal(t, "opus", status.Model)
	assert.Equal(t, 2, status.QueuePosition)
	assert.Contains(t, text(t, res), "Queue position: 2")

	h, err := limiter.NextTask(context.Background())
	require.NoError(t, err)
	require.NoError(t, limiter.Complete(h.ID, domain.TaskResult{Status: domain.Failed, Error: "exit status 1"}))

	res, status = call[StatusOutput](t, session, "async_status", map[string]any{"task_id": first.TaskID})
	require.False(t, res.IsError)
	assert.Equal(t, "failed", status.Status)
	assert.Equal(t, "exit status 1", status.Error)
	assert.NotEmpty(t, status.StartedAt)
	assert.NotEmpty(t, status.CompletedAt)
}

func TestTools_Errors(t *testing.T) {
	session := connect(t, newLimiter(t), nil)

	res, _ := call[StatusOutput](t, session, "async_status", map[string]any{"task_id": "missing"})
	assert.True(t, res.IsError)

	res, _ = call[SubmitOutput](t, session, "async_submit", map[string]any{"query": "q", "model": "haiku"})
	assert.True(t, res.IsError)

	res, _ = call[SubmitOutput](t, session, "async_submit", map[string]any{"query": "  "})
	assert.True(t, res.IsError)

	res, _ = call[ResultOutput](t, session, "async_result", map[string]any{"task_id": "missing"})
	assert.True(t, res.IsError)
}

func TestTools_RateConfig(t *testing.T) {
	limiter := newLimiter(t)
	session := connect(t, limiter, nil)

	res, cfg := call[RateConfigOutput](t, session, "async_rate_config", map[string]any{})
	require.False(t, res.IsError)
	assert.Equal(t, 1, cfg.MaxRequests)
	assert.Equal(t, 60.0, cfg.WindowMinutes)
	assert.Contains(t, text(t, res), "Rate limits:")

	res, cfg = call[RateConfigOutput](t, session, "async_rate_config", map[string]any{"max_requests": 3, "window_minutes": 15})
	require.False(t, res.IsError)
	assert.Equal(t, 3, cfg.MaxRequests)
	assert.Equal(t, 15.0, cfg.WindowMinutes)
	assert.Contains(t, text(t, res), "Rate limits updated")
	assert.Equal(t, 3, limiter.Config().MaxRequests)

	res, _ = call[RateConfigOutput](t, session, "async_rate_config", map[string]any{"max_requests": 0})
	assert.True(t, res.IsError)
	assert.Equal(t, 3, limiter.Config().MaxRequests)
	assert.Empty(t, cfg.NextReleaseAt)

	limiter.Submit("q", "sonnet")
	_, err := limiter.NextTask(context.Background())
	require.NoError(t, err)

	res, cfg = call[RateConfigOutput](t, session, "async_rate_config", map[string]any{})
	require.False(t, res.IsError)
	assert.NotEmpty(t, cfg.NextReleaseAt)
	assert.Equal(t, 1, cfg.ActiveSlots)
	assert.Contains(t, text(t, res), "Next slot frees at:")
}

func TestTools_Result(t *testing.T) {
	results := mapResults{"t1": "# Task t1\n\nfull output"}
	session := connect(t, newLimiter(t), results)

	res, out := call[ResultOutput](t, session, "async_result", map[string]any{"task_id": "t1"})
	require.False(t, res.IsError)
	assert.Equal(t, "# Task t1\n\nfull output", out.Content)
	assert.Equal(t, "# Task t1\n\nfull output", text(t, res))
}

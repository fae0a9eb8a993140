package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
	"github.com/sf7293/async-queue/internal/server"
)

const (
	serverName    = "async-processor"
	serverVersion = "1.0.0"
)

type SubmitInput struct {
	Query string `json:"query" jsonschema:"the query to process"`
	Model string `json:"model,omitempty" jsonschema:"model to use, defaults to the server's default model"`
}

type SubmitOutput struct {
	TaskID               string `json:"task_id"`
	Model                string `json:"model"`
	QueuePosition        int    `json:"queue_position"`
	EstimatedWaitSeconds int    `json:"estimated_wait_seconds"`
	EstimatedStart       string `json:"estimated_start"`
}

type TaskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"the task ID returned by async_submit"`
}

type StatusOutput struct {
	TaskID         string `json:"task_id"`
	Status         string `json:"status"`
	Model          string `json:"model"`
	SubmittedAt    string `json:"submitted_at"`
	StartedAt      string `json:"started_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
	QueuePosition  int    `json:"queue_position,omitempty"`
	Result         string `json:"result,omitempty"`
	Error          string `json:"error,omitempty"`
	FullResultPath string `json:"full_result_path,omitempty"`
}

type RateConfigInput struct {
	MaxRequests   *int `json:"max_requests,omitempty" jsonschema:"maximum dispatches per window, at least 1"`
	WindowMinutes *int `json:"window_minutes,omitempty" jsonschema:"window length in minutes, at least 1"`
}

type RateConfigOutput struct {
	MaxRequests   int     `json:"max_requests"`
	WindowMinutes float64 `json:"window_minutes"`
	QueueLength   int     `json:"current_queue_length"`
	ActiveSlots   int     `json:"active_slots"`
	TotalTasks    int     `json:"total_tasks"`
	NextReleaseAt string  `json:"next_release_at,omitempty"`
}

type ResultOutput struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
}

// Tools exposes the queue over MCP.
type Tools struct {
	logic        *server.ServerLogic
	defaultModel string
	modelAllowed func(model string) bool
}

func NewTools(logic *server.ServerLogic, defaultModel string, modelAllowed func(model string) bool) *Tools {
	return &Tools{
		logic:        logic,
		defaultModel: defaultModel,
		modelAllowed: modelAllowed,
	}
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(tools *Tools) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "async_submit",
		Description: "Submit an async task. Always succeeds; the task is queued until a rate-limit slot is free.",
	}, tools.Submit)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "async_status",
		Description: "Check the status of a submitted task.",
	}, tools.Status)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "async_rate_config",
		Description: "Read or update the rate limit. Without arguments it only reports the current settings.",
	}, tools.RateConfig)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "async_result",
		Description: "Fetch the full saved output of a completed task.",
	}, tools.Result)

	return s
}

func (t *Tools) Submit(ctx context.Context, req *mcp.CallToolRequest, in SubmitInput) (*mcp.CallToolResult, SubmitOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, SubmitOutput{}, fmt.Errorf("query must not be empty")
	}

	model := in.Model
	if model == "" {
		model = t.defaultModel
	}
	if t.modelAllowed != nil && !t.modelAllowed(model) {
		return nil, SubmitOutput{}, fmt.Errorf("model %q is not allowed", model)
	}

	receipt, err := t.logic.SubmitTask(ctx, domain.RouterRequestSubmitTask{Query: in.Query, Model: &model})
	if err != nil {
		return nil, SubmitOutput{}, err
	}

	out := SubmitOutput{
		TaskID:               receipt.TaskID,
		Model:                model,
		QueuePosition:        receipt.QueuePosition,
		EstimatedWaitSeconds: receipt.EstimatedWaitSeconds,
		EstimatedStart:       receipt.EstimatedStart.Format(time.RFC3339),
	}
	text := fmt.Sprintf("Task submitted successfully!\n• Task ID: %s\n• Model: %s\n• Queue position: %d\n• Estimated wait: %ds\n• Estimated start: %s",
		out.TaskID, out.Model, out.QueuePosition, out.EstimatedWaitSeconds, out.EstimatedStart)

	return textResult(text), out, nil
}

func (t *Tools) Status(ctx context.Context, req *mcp.CallToolRequest, in TaskIDInput) (*mcp.CallToolResult, StatusOutput, error) {
	snapshot, err := t.logic.GetTaskStatus(ctx, in.TaskID)
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("task %s: %w", in.TaskID, err)
	}

	out := StatusOutput{
		TaskID:      snapshot.ID,
		Status:      string(snapshot.Status),
		Model:       snapshot.Model,
		SubmittedAt: snapshot.SubmittedAt.Format(time.RFC3339),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task Status:\n• ID: %s\n• Status: %s\n• Model: %s\n• Submitted: %s", out.TaskID, out.Status, out.Model, out.SubmittedAt)
	if snapshot.QueuePosition != nil {
		out.QueuePosition = *snapshot.QueuePosition
		fmt.Fprintf(&b, "\n• Queue position: %d", out.QueuePosition)
	}
	if snapshot.StartedAt != nil {
		out.StartedAt = snapshot.StartedAt.Format(time.RFC3339)
		fmt.Fprintf(&b, "\n• Started: %s", out.StartedAt)
	}
	if snapshot.CompletedAt != nil {
		out.CompletedAt = snapshot.CompletedAt.Format(time.RFC3339)
		fmt.Fprintf(&b, "\n• Completed: %s", out.CompletedAt)
	}
	if r := snapshot.Result; r != nil {
		out.Result = r.Result
		out.Error = r.Error
		out.FullResultPath = r.FullResultPath
		if r.Error != "" {
			fmt.Fprintf(&b, "\n• Error: %s", r.Error)
		}
		if r.FullResultPath != "" {
			fmt.Fprintf(&b, "\n• Result: %s", r.FullResultPath)
		}
	}

	return textResult(b.String()), out, nil
}

func (t *Tools) RateConfig(ctx context.Context, req *mcp.CallToolRequest, in RateConfigInput) (*mcp.CallToolResult, RateConfigOutput, error) {
	cfg := t.logic.GetConfig()
	heading := "Rate limits"
	if in.MaxRequests != nil || in.WindowMinutes != nil {
		var err error
		cfg, err = t.logic.Reconfigure(ctx, domain.RouterRequestReconfigure{
			MaxRequests:   in.MaxRequests,
			WindowMinutes: in.WindowMinutes,
		})
		if err != nil {
			return nil, RateConfigOutput{}, err
		}
		heading = "Rate limits updated"
	}

	out := RateConfigOutput{
		MaxRequests:   cfg.MaxRequests,
		WindowMinutes: cfg.WindowSeconds / 60,
		QueueLength:   cfg.QueueLength,
		ActiveSlots:   cfg.ActiveSlots,
		TotalTasks:    cfg.TotalTasks,
	}
	text := fmt.Sprintf("%s:\n• Max requests: %d\n• Window: %g minutes\n• Current queue size: %d\n• Active slots: %d",
		heading, out.MaxRequests, out.WindowMinutes, out.QueueLength, out.ActiveSlots)
	if cfg.NextReleaseAt != nil {
		out.NextReleaseAt = cfg.NextReleaseAt.Format(time.RFC3339)
		text += "\n• Next slot frees at: " + out.NextReleaseAt
	}

	return textResult(text), out, nil
}

func (t *Tools) Result(ctx context.Context, req *mcp.CallToolRequest, in TaskIDInput) (*mcp.CallToolResult, ResultOutput, error) {
	content, err := t.logic.GetTaskResult(ctx, in.TaskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			return nil, ResultOutput{}, fmt.Errorf("no saved result for task %s", in.TaskID)
		}
		return nil, ResultOutput{}, err
	}

	out := ResultOutput{TaskID: in.TaskID, Content: content}
	return textResult(content), out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
)

// Scheduler is the admission-controlled queue the handlers drive.
type Scheduler interface {
	Submit(query, model string) domain.SubmitReceipt
	NextTask(ctx context.Context) (domain.TaskHandle, error)
	Complete(taskID string, result domain.TaskResult) error
	Status(taskID string) (domain.TaskSnapshot, error)
	Config() domain.LimiterConfig
	Reconfigure(maxRequests *int, window *time.Duration) (domain.LimiterConfig, error)
}

// Pinger is a backend that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Option func(*ServerLogic)

// WithBackendHealth makes CheckHealth also ping the generation backend.
func WithBackendHealth(backend Pinger) Option {
	return func(s *ServerLogic) {
		s.backend = backend
	}
}

// ServerLogic is shared by the HTTP and MCP front ends. storage, queueClient
// and results are optional.
type ServerLogic struct {
	scheduler    Scheduler
	storage      domain.Storage
	queueClient  domain.Queue
	results      domain.ResultStore
	backend      Pinger
	defaultModel string
}

func NewServerLogic(scheduler Scheduler, storage domain.Storage, queueClient domain.Queue, results domain.ResultStore, defaultModel string, opts ...Option) *ServerLogic {
	s := &ServerLogic{
		scheduler:    scheduler,
		storage:      storage,
		queueClient:  queueClient,
		results:      results,
		defaultModel: defaultModel,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *ServerLogic) SubmitTask(ctx context.Context, req domain.RouterRequestSubmitTask) (receipt domain.SubmitReceipt, err error) {
	model := s.defaultModel
	if req.Model != nil && *req.Model != "" {
		model = *req.Model
	}

	receipt = s.scheduler.Submit(req.Query, model)
	slog.InfoContext(ctx, "Task is submitted", "task_id", receipt.TaskID, "model", model, "queue_position", receipt.QueuePosition, "estimated_wait_seconds", receipt.EstimatedWaitSeconds)
	return receipt, nil
}

func (s *ServerLogic) GetTaskStatus(ctx context.Context, taskID string) (snapshot domain.TaskSnapshot, err error) {
	snapshot, err = s.scheduler.Status(taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.InfoContext(ctx, "task not found with the given id", "task_id", taskID)
		}
		return domain.TaskSnapshot{}, err
	}

	return snapshot, nil
}

// NextTask blocks until a task is dispatched or ctx ends.
func (s *ServerLogic) NextTask(ctx context.Context) (handle domain.TaskHandle, err error) {
	handle, err = s.scheduler.NextTask(ctx)
	if err != nil {
		return domain.TaskHandle{}, err
	}

	slog.InfoContext(ctx, "Task is handed to an external worker", "task_id", handle.ID)
	return handle, nil
}

func (s *ServerLogic) CompleteTask(ctx context.Context, taskID string, req domain.RouterRequestCompleteTask) (err error) {
	result := domain.TaskResult{
		Status: domain.Completed,
		Result: req.Result,
		Error:  req.Error,
	}
	if req.Status != nil {
		result.Status = domain.TaskStatus(*req.Status)
	}

	err = s.scheduler.Complete(taskID, result)
	if err != nil {
		slog.InfoContext(ctx, "task could not be completed", "task_id", taskID, "error", err)
		return err
	}

	return nil
}

func (s *ServerLogic) GetTaskResult(ctx context.Context, taskID string) (content string, err error) {
	if s.results == nil {
		return "", fmt.Errorf("result store: %w", errval.ErrUnavailable)
	}

	content, err = s.results.LoadResult(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.InfoContext(ctx, "result not found for the given task id", "task_id", taskID)
			return "", err
		}

		slog.ErrorContext(ctx, "error occurred while calling results.LoadResult", "error", err)
		return "", errval.ErrInternal
	}

	return content, nil
}

func (s *ServerLogic) GetTaskStatusHistory(ctx context.Context, taskID string) (history []*domain.TaskStatusChangeHistory, err error) {
	if s.storage == nil {
		return nil, fmt.Errorf("history storage: %w", errval.ErrUnavailable)
	}

	taskHistory, err := s.storage.GetTaskStatusChangeHistory(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) || errors.Is(err, errval.ErrUnavailable) {
			slog.InfoContext(ctx, "history not found for the given task id", "task_id", taskID, "error", err)
			return nil, err
		}

		slog.ErrorContext(ctx, "error occurred while calling storage.GetTaskStatusChangeHistory", "error", err)
		return nil, errval.ErrInternal
	}

	return taskHistory, nil
}

func (s *ServerLogic) GetConfig() domain.LimiterConfig {
	return s.scheduler.Config()
}

// Reconfigure applies the non-nil fields of req; window_seconds wins over
// window_minutes.
func (s *ServerLogic) Reconfigure(ctx context.Context, req domain.RouterRequestReconfigure) (cfg domain.LimiterConfig, err error) {
	var window *time.Duration
	switch {
	case req.WindowSeconds != nil:
		window, err = toWindow(*req.WindowSeconds, time.Second)
	case req.WindowMinutes != nil:
		window, err = toWindow(*req.WindowMinutes, time.Minute)
	}
	if err != nil {
		slog.WarnContext(ctx, "rejected rate limit reconfiguration", "error", err)
		return domain.LimiterConfig{}, err
	}

	cfg, err = s.scheduler.Reconfigure(req.MaxRequests, window)
	if err != nil {
		slog.WarnContext(ctx, "rejected rate limit reconfiguration", "error", err)
		return domain.LimiterConfig{}, err
	}

	slog.InfoContext(ctx, "Rate limits updated", "max_requests", cfg.MaxRequests, "window_seconds", cfg.WindowSeconds)
	return cfg, nil
}

// toWindow converts n units into a window, rejecting values that overflow a
// time.Duration. Non-positive values are left to the scheduler to reject.
func toWindow(n int, unit time.Duration) (*time.Duration, error) {
	if int64(n) > math.MaxInt64/int64(unit) {
		return nil, fmt.Errorf("window of %d x %s is too large: %w", n, unit, errval.ErrInvalidConfig)
	}

	w := time.Duration(n) * unit
	return &w, nil
}

// CheckHealth pings every configured backend.
func (s *ServerLogic) CheckHealth(ctx context.Context) (err error) {
	if s.storage != nil {
		if err = s.storage.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "Postgresql seem not to be pingable", "error", err.Error())
			return fmt.Errorf("postgres: %w", errval.ErrUnavailable)
		}
	}

	if s.queueClient != nil && !s.queueClient.IsHealthy() {
		slog.ErrorContext(ctx, "Rabbit is not healthy")
		return fmt.Errorf("rabbitmq: %w", errval.ErrUnavailable)
	}

	if s.results != nil {
		if err = s.results.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "Result store seem not to be pingable", "error", err.Error())
			return fmt.Errorf("result store: %w", errval.ErrUnavailable)
		}
	}

	if s.backend != nil {
		if err = s.backend.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "Generation backend seem not to be reachable", "error", err.Error())
			return fmt.Errorf("backend: %w", errval.ErrUnavailable)
		}
	}

	return nil
}

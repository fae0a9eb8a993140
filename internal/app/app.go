package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sf7293/async-queue/configs"
	"github.com/sf7293/async-queue/internal/audit"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/postgres"
	"github.com/sf7293/async-queue/internal/rabbitmq"
	"github.com/sf7293/async-queue/internal/ratelimit"
	"github.com/sf7293/async-queue/internal/redis"
	"github.com/sf7293/async-queue/internal/results"
	"github.com/sf7293/async-queue/internal/server"
	"github.com/sf7293/async-queue/internal/worker"
	"github.com/sf7293/async-queue/pkg/process"
	"golang.org/x/sync/errgroup"
)

const workerRetryInterval = 2 * time.Second

// App holds the components shared by the HTTP and MCP binaries.
type App struct {
	Config   *configs.Config
	Limiter  *ratelimit.Limiter
	Logic    *server.ServerLogic
	Recorder *audit.Recorder
	// Worker is nil when the in-process processing loop is disabled.
	Worker *worker.Worker

	ready   atomic.Bool
	closers []func() error
}

// SetupLogger installs a text slog handler writing to w.
func SetupLogger(cfg *configs.Config, w io.Writer) {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(h))
}

// New connects the configured backends and builds the limiter, the audit
// recorder and the processing loop. ctx bounds connection attempts only.
func New(ctx context.Context, cfg *configs.Config) (*App, error) {
	a := &App{Config: cfg}
	initialized := false
	defer func() {
		if !initialized {
			a.Close()
		}
	}()

	var storage domain.Storage
	if cfg.Database.IsEnabled() {
		if err := postgres.RunMigrations(cfg.Database.ToMigrationUri()); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("Migrations ran successfully")

		pgStorage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.addCloser(func() error {
			pgStorage.Close()
			return nil
		})
		storage = pgStorage
		slog.Info("Postgres connection has been initialized successfully")
	}

	var queue domain.Queue
	if cfg.RabbitMQ.IsEnabled() {
		rabbitClient, err := rabbitmq.NewRabbitMQClient(cfg.RabbitMQ.ToRabbitConnectionUri(), cfg.RabbitMQ.EventsQueueName)
		if err != nil {
			return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		a.addCloser(rabbitClient.Close)
		queue = rabbitClient
		slog.Info("RabbitMQ has been initialized successfully")
	}

	resultStore, err := a.newResultStore(ctx, cfg.Results, cfg.RedisConfig)
	if err != nil {
		return nil, err
	}

	a.Recorder = audit.NewRecorder(storage, queue, cfg.RabbitMQ.EventsQueueName)

	a.Limiter, err = ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window(), ratelimit.WithObserver(a.Recorder.Record))
	if err != nil {
		return nil, err
	}
	slog.Info("Rate limiter is ready", "max_requests", cfg.RateLimit.MaxRequests, "window", cfg.RateLimit.Window())

	var logicOpts []server.Option
	if cfg.Processor.Enabled {
		p, err := process.NewProcess(domain.Backend(cfg.Processor.Backend), cfg.Processor)
		if err != nil {
			return nil, err
		}

		opts := []worker.Option{
			worker.WithTimeout(cfg.Processor.Timeout()),
			worker.WithRetry(cfg.Processor.MaxRetries, workerRetryInterval),
		}
		if resultStore != nil {
			opts = append(opts, worker.WithResultStore(resultStore))
		}
		a.Worker = worker.New(a.Limiter, p, opts...)
		if pinger, ok := p.(server.Pinger); ok {
			logicOpts = append(logicOpts, server.WithBackendHealth(pinger))
		}
		slog.Info("Processing loop is enabled", "backend", cfg.Processor.Backend)
	}

	a.Logic = server.NewServerLogic(a.Limiter, storage, queue, resultStore, cfg.Processor.DefaultModel, logicOpts...)
	a.ready.Store(true)
	initialized = true

	return a, nil
}

func (a *App) newResultStore(ctx context.Context, cfg configs.ResultsConfig, redisCfg configs.RedisConfig) (domain.ResultStore, error) {
	switch cfg.Store {
	case "file":
		store, err := results.NewFileStore(cfg.ResolvedDir())
		if err != nil {
			return nil, fmt.Errorf("preparing results dir: %w", err)
		}
		slog.Info("Results are saved to files", "dir", cfg.ResolvedDir())
		return store, nil
	case "redis":
		client, err := redis.NewClient(redisCfg.ToRedisConnectionUri(), cfg.TTL())
		if err != nil {
			return nil, fmt.Errorf("configuring redis: %w", err)
		}
		a.addCloser(client.Close)
		if err = client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("Redis connection has been initialized successfully")
		return client, nil
	default:
		slog.Info("Results are not persisted")
		return nil, nil
	}
}

// IsReady reports whether every configured backend has been initialized.
func (a *App) IsReady() bool {
	return a.ready.Load()
}

// Run runs serve next to the audit recorder and the processing loop. When
// any of them fails, or serve returns, the others are stopped.
func (a *App) Run(ctx context.Context, serve func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return serve(gctx)
	})
	g.Go(func() error {
		return a.Recorder.Run(gctx)
	})
	if a.Worker != nil {
		g.Go(func() error {
			return a.Worker.Run(gctx)
		})
	}

	return g.Wait()
}

func (a *App) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("An error occurred while closing a backend connection", "error", err.Error())
		}
	}
	a.closers = nil
}

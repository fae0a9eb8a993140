package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sf7293/async-queue/configs"
	"github.com/sf7293/async-queue/internal/app"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
	"github.com/sf7293/async-queue/internal/server"
)

func main() {
	cfg := configs.InitConfig()
	app.SetupLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	router := setupHTTPServer(a.Logic, a.IsReady, cfg.Processor)
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}
	shutdownTimeout := time.Duration(cfg.ServerTimeOutInSeconds) * time.Second

	err = a.Run(ctx, func(ctx context.Context) error {
		// Long-polling requests end with the server
		srv.BaseContext = func(net.Listener) context.Context { return ctx }

		listenErr := make(chan error, 1)
		go func() {
			defer close(listenErr)
			log.Printf("Starting server on port %s\n", cfg.ServerPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				listenErr <- err
			}
		}()

		select {
		case err := <-listenErr:
			return err
		case <-ctx.Done():
		}

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err != nil {
		slog.Error("Server stopped with an error", "error", err)
		return
	}

	log.Println("Server exiting")
}

func setupHTTPServer(serverLogic *server.ServerLogic, isReady func() bool, processorCfg configs.ProcessorConfig) *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		err := v.RegisterValidation("validate_model", validateModel(processorCfg))
		if err != nil {
			log.Fatal("failed to bind validation rule of validate_model")
		}
	}

	tasks := r.Group("/tasks")
	tasks.POST("", func(c *gin.Context) {
		req := domain.RouterRequestSubmitTask{}
		// Request binding and validation
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		receipt, err := serverLogic.SubmitTask(c, req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, receipt)
	})

	// next is a long-poll for external processing loops; wait_seconds bounds the wait
	tasks.POST("/next", func(c *gin.Context) {
		ctx := c.Request.Context()
		if waitStr := c.Query("wait_seconds"); waitStr != "" {
			waitSeconds, err := strconv.Atoi(waitStr)
			if err != nil || waitSeconds <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wait_seconds"})
				return
			}

			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(waitSeconds)*time.Second)
			defer cancel()
		}

		handle, err := serverLogic.NextTask(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				c.Status(http.StatusNoContent)
				return
			}
			if errors.Is(err, context.Canceled) {
				// client went away, nothing was dispatched
				return
			}

			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": handle})
	})

	tasks.GET("/:id", func(c *gin.Context) {
		snapshot, err := serverLogic.GetTaskStatus(c, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": snapshot})
	})

	tasks.POST("/:id/complete", func(c *gin.Context) {
		req := domain.RouterRequestCompleteTask{}
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err = serverLogic.CompleteTask(c, c.Param("id"), req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{})
	})

	tasks.GET("/:id/result", func(c *gin.Context) {
		content, err := serverLogic.GetTaskResult(c, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(content))
	})

	tasks.GET("/:id/history", func(c *gin.Context) {
		taskHistory, err := serverLogic.GetTaskStatusHistory(c, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"history": taskHistory})
	})

	r.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, serverLogic.GetConfig())
	})

	r.PATCH("/config", func(c *gin.Context) {
		req := domain.RouterRequestReconfigure{}
		err := c.ShouldBindBodyWith(&req, binding.JSON)
		if err != nil {
			slog.Error("error occurred while binding request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		cfg, err := serverLogic.Reconfigure(c, req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, cfg)
	})

	r.GET("/readiness", func(c *gin.Context) {
		if isReady() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		}
	})
	r.GET("/liveness", func(c *gin.Context) {
		// Checking health of depending upon infra connections
		if err := serverLogic.CheckHealth(c); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not healthy"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	return r
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errval.ErrInvalidConfig), errors.Is(err, errval.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errval.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("unexpected error while serving request", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errval.ErrInternal.Error()})
	}
}

func validateModel(processorCfg configs.ProcessorConfig) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return processorCfg.IsModelAllowed(fl.Field().String())
	}
}

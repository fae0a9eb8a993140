package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/sf7293/async-queue/configs"
	"github.com/sf7293/async-queue/internal/domain"
	"github.com/sf7293/async-queue/internal/errval"
	"github.com/sf7293/async-queue/internal/postgres"
)

// history prints the recorded status transitions of one task as JSON lines.
func main() {
	cfg := configs.InitConfig()
	args := os.Args
	if len(args) < 2 {
		log.Fatal("Insufficient arguments are provided in calling the command, usage: history <task_id>")
		return
	}
	taskID := args[1]

	if !cfg.Database.IsEnabled() {
		log.Fatal("DB_HOST is not set, there is no recorded history to read")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	storage, err := postgres.NewStorage(ctx, cfg.Database.ToDbConnectionUri())
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()
	slog.Info("Postgres connection has been initialized successfully")

	history, err := storage.GetTaskStatusChangeHistory(ctx, taskID)
	if err != nil {
		if errors.Is(err, errval.ErrNotFound) {
			slog.Error("No history is recorded for the task", "task_id", taskID)
			os.Exit(1)
		}
		log.Fatal(err)
	}

	if err = printHistory(os.Stdout, history); err != nil {
		log.Fatal(err)
	}
}

func printHistory(w io.Writer, history []*domain.TaskStatusChangeHistory) error {
	encoder := json.NewEncoder(w)
	for _, item := range history {
		if err := encoder.Encode(item); err != nil {
			return err
		}
	}

	return nil
}

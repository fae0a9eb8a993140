package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sf7293/async-queue/configs"
	"github.com/sf7293/async-queue/internal/app"
	"github.com/sf7293/async-queue/internal/mcpserver"
)

func main() {
	cfg := configs.InitConfig()
	// stdout carries the protocol
	app.SetupLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	tools := mcpserver.NewTools(a.Logic, cfg.Processor.DefaultModel, cfg.Processor.IsModelAllowed)
	server := mcpserver.NewServer(tools)

	slog.Info("Starting async MCP server", "max_requests", cfg.RateLimit.MaxRequests, "window", cfg.RateLimit.Window())
	err = a.Run(ctx, func(ctx context.Context) error {
		return server.Run(ctx, &mcp.StdioTransport{})
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("MCP server stopped with an error", "error", err)
		return
	}

	slog.Info("MCP server exiting")
}

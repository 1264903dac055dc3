package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/expert-match/internal/adapters/mcp"
	"github.com/kirillkom/expert-match/internal/bootstrap"
	"github.com/kirillkom/expert-match/internal/config"
	"github.com/kirillkom/expert-match/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	// Stdout carries the MCP protocol.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.WithoutIngestion())
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(app.QueryUC, app.QueryUC, app.Experts)
	if err := server.Serve(); err != nil {
		slog.Error("mcp_server_failed", "error", err.Error())
		os.Exit(1)
	}
}

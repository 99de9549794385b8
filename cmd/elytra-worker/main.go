package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-elytra/elytra/config"
	"github.com/go-elytra/elytra/logging"
	"github.com/go-elytra/elytra/worker"
)

func main() {
	cfg := config.FromEnv()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	coordinatorURL := os.Getenv("ELYTRA_COORDINATOR_URL")
	if coordinatorURL == "" {
		coordinatorURL = "ws://localhost:8080/ws"
	}
	slots := int64(0)
	if v := os.Getenv("ELYTRA_WORKER_SLOTS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			slots = parsed
		}
	}

	w, err := worker.New(&worker.Options{
		CoordinatorURL: coordinatorURL,
		Slots:          slots,
		IsMobile:       os.Getenv("ELYTRA_WORKER_MOBILE") == "true",
	})
	if err != nil {
		slog.Error("could not initialize worker", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := w.Run(ctx); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-elytra/elytra/cluster"
	"github.com/go-elytra/elytra/config"
	"github.com/go-elytra/elytra/logging"
	"github.com/go-elytra/elytra/metrics"
)

func main() {
	cfg := config.FromEnv()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("elytra")
		go func() {
			if err := metrics.Serve(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	opts := cluster.OptionsFromConfig(cfg.Server)
	opts.Metrics = m
	server, err := cluster.NewServer(opts)
	if err != nil {
		slog.Error("could not initialize control plane", "error", err)
		os.Exit(1)
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("shutting down", "signal", sig.String())
		if err := server.GracefulStop(); err != nil {
			slog.Warn("shutdown finished with errors", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("control plane failed", "error", err)
		os.Exit(1)
	}
}

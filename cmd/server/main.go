package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sentinel-sos/internal/platform/config"
	"sentinel-sos/internal/platform/logger"
)

// main loads configuration, wires the application and serves until SIGINT or
// SIGTERM. Business logic lives in the internal service packages.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("sentinel exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("sentinel stopped")
}

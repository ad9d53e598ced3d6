package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloudpico-thermo/internal/app"
	"cloudpico-thermo/internal/config"
	"cloudpico-thermo/internal/logging"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

const appName = "cloudpico-thermo"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		// No logger yet: the level and format come from the same config.
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	names := make([]string, 0, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		names = append(names, s.Name)
	}
	logger.Info("starting",
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"sensors", names,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = app.Run(ctx, cfg)
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal(logger, "gateway stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

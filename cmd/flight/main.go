package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/flow-navigation/cmd/flight/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath, coursePath, mode string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
	flag.StringVar(&coursePath, "course", "", "Path to the course file, overrides the configuration")
	flag.StringVar(&mode, "mode", string(app.ModeFly), "What to do: fly or calibrate")
	flag.Parse()

	if configPath == "" {
		logger.Error("no configuration file provided")
		os.Exit(1)
	}

	config, err := app.LoadConfig(configPath)
	if err != nil {
		logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
		os.Exit(1)
	}
	if coursePath != "" {
		config.Course = coursePath
	}

	level, _ := config.Settings.Level()
	logLevel.Set(level)

	// the first signal aborts the flight and lands, the engine polls for it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, app.Mode(mode), config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}

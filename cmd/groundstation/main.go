package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/ground-station/cmd/groundstation/app"
	"github.com/roman-kulish/ground-station/internal/journal"
)

func main() {
	var logLevel slog.LevelVar
	stdout := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel})
	logger := slog.New(stdout)

	var configPath string
	flag.StringVar(&configPath, "c", "", "Path to the configuration file")
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

	level, _ := journal.ParseLevel(config.Settings.LogLevel)
	logLevel.Set(level.Slog())

	j, err := app.OpenJournal(&config.Journal)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	defer j.Close()

	logger = slog.New(journal.NewHandler(j, stdout))
	logger.Info("ground station starting", "journal", j.Path())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger, j); err != nil {
		logger.Error(err.Error())

		cancel()
		_ = j.Close()
		os.Exit(1)
	}
}

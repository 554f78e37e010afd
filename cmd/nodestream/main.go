package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rmacdonaldsmith/nodestream-go/internal/config"
	"github.com/rmacdonaldsmith/nodestream-go/internal/logging"
)

const (
	// Application info
	appName    = "nodestream"
	appVersion = "0.1.0"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to a YAML config file")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	logger.Info().
		Str("version", appVersion).
		Str("url", cfg.Stream.URL).
		Str("config_file", cfg.ConfigFile).
		Msg("Starting nodestream")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start")
		closer.Close()
		os.Exit(1)
	}

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("nodestream stopped with error")
		closer.Close()
		os.Exit(1)
	}
	logger.Info().Msg("nodestream stopped")
}

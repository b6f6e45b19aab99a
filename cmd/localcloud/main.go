package main

import (
	"fmt"
	"os"

	"github.com/todocloud-dev/todocloud/internal/config"
	"github.com/todocloud-dev/todocloud/internal/localcloud"
	"github.com/todocloud-dev/todocloud/internal/logger"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	// Create server
	srv, err := localcloud.New(cfg, log, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	// Sweep dead refresh sessions in the background
	cleanup := localcloud.StartSessionCleanup(srv.GetDB(), log)
	defer cleanup.Stop()

	log.Info().Str("version", version).Msg("Starting localcloud emulator...")

	// Start HTTP server (this blocks)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
}

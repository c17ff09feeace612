package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"robots-backend/config"
	"robots-backend/internal/engine"
	"robots-backend/internal/logger"
)

func main() {
	// Bootstrap logger until the configured one is available.
	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}

	log := logger.New(cfg.Log)
	log.Info().Str("path", configPath).Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the engine; a failed migration aborts startup.
	eng, err := engine.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open robot engine")
	}

	if cfg.Seed.Path != "" {
		count, err := eng.ImportFromFile(ctx, cfg.Seed.Path)
		if err != nil {
			_ = eng.Close()
			log.Fatal().Err(err).Str("path", cfg.Seed.Path).Msg("failed to import seed document")
		}
		log.Info().Int("robots", count).Msg("seed document imported")
	}

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	log.Info().Msg("shutdown signal received")

	if cfg.Transfer.ExportOnShutdown {
		exportCtx, exportCancel := context.WithTimeout(context.Background(), 30*time.Second)
		path, err := eng.ExportToFile(exportCtx)
		exportCancel()
		if err != nil {
			log.Error().Err(err).Msg("export on shutdown failed")
		} else {
			log.Info().Str("path", path).Msg("export on shutdown written")
		}
	}

	if err := eng.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close robot engine")
		os.Exit(1)
	}
	log.Info().Msg("robot engine stopped")
}

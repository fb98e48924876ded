// ====================================
// File: cmd/keycurve/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/app"
	"github.com/rovshanmuradov/keycurve/internal/config"
	"github.com/rovshanmuradov/keycurve/internal/utils/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	envFile := flag.String("env", ".env", "optional dotenv file with KEYCURVE_* overrides")
	flag.Parse()

	// .env может отсутствовать
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		LogFile:     cfg.Logging.File,
		MaxSize:     cfg.Logging.MaxSize,
		MaxAge:      cfg.Logging.MaxAge,
		MaxBackups:  cfg.Logging.MaxBackups,
		Compress:    cfg.Logging.Compress,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.LogError("keycurve stopped with error", err)
		_ = log.Close()
		os.Exit(1)
	}
	_ = log.Close()
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := log.TrackPerformance("startup")
	log.Info("Starting keycurve",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("storage", cfg.Storage.Driver))

	runner := app.NewRunner(cfg, log.WithComponent("keycurve"))
	if err := runner.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	done()

	return runner.Run(ctx)
}

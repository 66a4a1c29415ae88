// Package main loads an observation table into the observation store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"price-band-lab/internal/config"
	"price-band-lab/internal/loader"
	"price-band-lab/internal/observability"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/storage/stores"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	input := flag.String("input", "", "Input table (.csv or .xlsx); overrides input.path")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string; overrides storage.postgres_dsn")
	dryRun := flag.Bool("dry-run", false, "Validate the input without writing it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *input != "" {
		cfg.Input.Path = *input
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	logger = observability.Component(logger, "ingest")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *dryRun); err != nil {
		logger.Error("ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("ingest complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) error {
	if cfg.Input.Path == "" {
		return fmt.Errorf("no input: set --input or input.path")
	}
	if cfg.Storage.PostgresDSN == "" && !dryRun {
		return fmt.Errorf("no observation store: set --postgres-dsn or storage.postgres_dsn")
	}

	obs, err := loader.ReadFile(cfg.Input.Path, cfg.LoaderOptions())
	if err != nil {
		return fmt.Errorf("load %s: %w", cfg.Input.Path, err)
	}
	logger.Info("input loaded", slog.String("path", cfg.Input.Path), slog.Int("observations", len(obs)))

	if dryRun {
		// Dry runs write to a throwaway memory store
		cfg.Storage = config.StorageConfig{}
	}
	// Band rows are not written here; skip ClickHouse
	cfg.Storage.ClickhouseDSN = ""

	set, err := stores.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	res, err := pipeline.New(pipeline.Options{
		ObservationStore: set.Observations,
		Logger:           logger,
	}).Ingest(ctx, obs)
	if err != nil {
		return err
	}

	fmt.Printf("Inserted %d observations into %s (%d duplicates dropped)\n", res.Inserted, set.Relational, res.Duplicates)
	return nil
}

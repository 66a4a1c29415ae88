// Package main runs one band evaluation over an input table and writes the results.
// Executes: load → validate → deduplicate → bands → classify → export
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/cache"
	"price-band-lab/internal/config"
	"price-band-lab/internal/loader"
	"price-band-lab/internal/observability"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/reporting"
	"price-band-lab/internal/storage/stores"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	input := flag.String("input", "", "Input table (.csv or .xlsx); overrides input.path")
	level := flag.String("level", "", "Aggregation level: group or parent; overrides engine.level")
	k := flag.Float64("k", 0, "Band multiplier; overrides engine.k when > 0")
	selection := flag.String("select", "", "Restrict the run to one group or parent key")
	workers := flag.Int("workers", -1, "Concurrent groups; overrides engine.workers when >= 0")
	outputDir := flag.String("output-dir", "out", "Output directory for bands.csv, summary.csv and report.md")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *input, *level, *k, *workers)

	logger, err := observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *selection, *outputDir); err != nil {
		logger.Error("pipeline failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, input, level string, k float64, workers int) {
	if input != "" {
		cfg.Input.Path = input
	}
	if level != "" {
		cfg.Engine.Level = level
	}
	if k > 0 {
		cfg.Engine.K = k
	}
	if workers >= 0 {
		cfg.Engine.Workers = workers
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, selection, outputDir string) error {
	if cfg.Input.Path == "" {
		return fmt.Errorf("no input: set --input or input.path")
	}

	// Phase 1: Load
	obs, err := loader.ReadFile(cfg.Input.Path, cfg.LoaderOptions())
	if err != nil {
		return fmt.Errorf("load %s: %w", cfg.Input.Path, err)
	}
	logger.Info("input loaded", slog.String("path", cfg.Input.Path), slog.Int("observations", len(obs)))

	set, err := stores.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	opts := pipeline.Options{
		Engine:    bands.Engine{Workers: workerCount(cfg.Engine.Workers)},
		RunStore:  set.Runs,
		BandStore: set.Bands,
		Logger:    logger,
	}
	if cfg.Cache.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.Cache.RedisURL)
		if err != nil {
			// The cache is an optimization; run without it
			logger.Warn("redis unavailable, caching disabled", slog.String("error", err.Error()))
		} else {
			rc := cache.NewRedisCache(client, cfg.Cache.TTL)
			defer rc.Close()
			opts.Cache = rc
		}
	}

	// Phase 2: Evaluate
	res, err := pipeline.New(opts).Run(ctx, pipeline.Request{
		Level:        cfg.Level(),
		K:            cfg.Engine.K,
		Observations: obs,
		Selection:    selection,
		Source:       cfg.Input.Path,
	})
	if err != nil {
		return err
	}

	// Phase 3: Export
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := writeFile(filepath.Join(outputDir, "bands.csv"), func(f *os.File) error {
		return reporting.WriteBandsCSV(f, res.Rows)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(outputDir, "summary.csv"), func(f *os.File) error {
		return reporting.WriteSummaryCSV(f, res.Summary)
	}); err != nil {
		return err
	}

	report, err := reporting.NewGenerator(set.Runs, set.Bands).Generate(ctx, res.Run.ID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outputDir, "report.md"), []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	fmt.Printf("Run %s (%s, k=%g)\n", res.Run.ID, res.Run.Level, res.Run.K)
	fmt.Printf("  Observations: %d (%d duplicates dropped)\n", res.Run.Observations, res.Run.Duplicates)
	if res.Summary.Evaluable {
		fmt.Printf("  In band: %d  Out of band: %d\n", res.Summary.InBand, res.Summary.OutOfBand)
	} else {
		fmt.Println("  No previous band is defined yet; out-of-band counts withheld")
	}
	if res.Cached {
		fmt.Println("  (served from cache)")
	}
	fmt.Printf("  Output: %s\n", outputDir)
	return nil
}

func workerCount(n int) int {
	if n == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

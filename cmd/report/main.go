// Package main renders the report of a stored run, or replays it with --verify.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/config"
	"price-band-lab/internal/observability"
	"price-band-lab/internal/reporting"
	"price-band-lab/internal/storage/stores"
	"price-band-lab/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	runID := flag.String("run-id", "", "Run to report on (default: most recent run)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string; overrides storage.postgres_dsn")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string; overrides storage.clickhouse_dsn")
	outputDir := flag.String("output-dir", "", "Write report.md, bands.csv and summary.csv here instead of printing markdown")
	verify := flag.Bool("verify", false, "Replay the run against the observation store and report divergences")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.Storage.ClickhouseDSN = *clickhouseDSN
	}

	// Validate flags
	if cfg.Storage.PostgresDSN == "" || cfg.Storage.ClickhouseDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn and --clickhouse-dsn are required")
		os.Exit(1)
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, logger, *runID, *outputDir, *verify); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, runID, outputDir string, verify bool) error {
	set, err := stores.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	if runID == "" {
		runs, err := set.Runs.List(ctx, 1)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs stored")
		}
		runID = runs[0].ID
	}

	if verify {
		return verifyRun(ctx, set, runID)
	}

	report, err := reporting.NewGenerator(set.Runs, set.Bands).Generate(ctx, runID)
	if err != nil {
		return err
	}
	markdown := reporting.RenderMarkdown(report)

	if outputDir == "" {
		_, err := io.WriteString(os.Stdout, markdown)
		return err
	}

	rows, err := set.Bands.GetByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load band rows: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "report.md"), []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := writeCSV(filepath.Join(outputDir, "bands.csv"), func(w io.Writer) error {
		return reporting.WriteBandsCSV(w, rows)
	}); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(outputDir, "summary.csv"), func(w io.Writer) error {
		return reporting.WriteSummaryCSV(w, report.Summary)
	}); err != nil {
		return err
	}

	fmt.Printf("Report for run %s written to %s\n", runID, outputDir)
	return nil
}

func verifyRun(ctx context.Context, set *stores.Set, runID string) error {
	res, err := verification.NewVerifier(set.Observations, set.Runs, set.Bands, bands.Engine{}).VerifyRun(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d stored rows, %d replayed rows\n", runID, res.StoredRows, res.ReplayedRows)
	if res.Match() {
		fmt.Println("  Replay matches")
		return nil
	}
	for _, d := range res.Divergences {
		fmt.Printf("  - %s %s: expected %v, got %v\n", d.Row, d.Field, deref(d.Expected), deref(d.Actual))
	}
	return fmt.Errorf("run %s diverged in %d fields", runID, len(res.Divergences))
}

func deref(v any) any {
	if p, ok := v.(*float64); ok {
		if p == nil {
			return "null"
		}
		return *p
	}
	return v
}

func writeCSV(path string, write func(io.Writer) error) error {
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

// Package main serves the band API:
// - HTTP: runs, band rows, summaries, reports, /metrics
// - Stream: finished runs over websocket
// - Scheduler (optional): periodic runs over the observation store
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"price-band-lab/internal/api"
	"price-band-lab/internal/bands"
	"price-band-lab/internal/cache"
	"price-band-lab/internal/config"
	"price-band-lab/internal/loader"
	"price-band-lab/internal/observability"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/storage/stores"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address; overrides server.addr")
	preload := flag.String("preload", "", "Table to load into the observation store at startup")
	runInterval := flag.Duration("run-interval", 0, "Evaluate the whole store on this interval (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := observability.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *preload, *runInterval); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, preload string, interval time.Duration) error {
	set, err := stores.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer set.Close()

	metrics := observability.NewMetrics("price_bands", prometheus.NewRegistry())
	hub := api.NewHub(logger, metrics, nil)

	engine := bands.Engine{Workers: workerCount(cfg.Engine.Workers)}
	opts := pipeline.Options{
		Engine:           engine,
		ObservationStore: set.Observations,
		RunStore:         set.Runs,
		BandStore:        set.Bands,
		Notifier:         hub,
		Metrics:          metrics,
		Logger:           logger,
	}
	if cfg.Cache.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.Cache.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", slog.String("error", err.Error()))
		} else {
			rc := cache.NewRedisCache(client, cfg.Cache.TTL)
			defer rc.Close()
			opts.Cache = rc
		}
	}
	runner := pipeline.New(opts)

	if preload != "" {
		obs, err := loader.ReadFile(preload, cfg.LoaderOptions())
		if err != nil {
			return fmt.Errorf("preload %s: %w", preload, err)
		}
		if _, err := runner.Ingest(ctx, obs); err != nil {
			return fmt.Errorf("preload %s: %w", preload, err)
		}
	}

	srv := api.NewServer(api.Options{
		Runner:           runner,
		ObservationStore: set.Observations,
		RunStore:         set.Runs,
		BandStore:        set.Bands,
		Hub:              hub,
		Engine:           engine,
		Metrics:          metrics,
		Logger:           logger,
		DefaultLevel:     cfg.Level(),
		DefaultK:         cfg.Engine.K,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		ReadTimeout:      cfg.Server.ReadTimeout,
		RequestTimeout:   cfg.Server.WriteTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
	})
	if interval > 0 {
		g.Go(func() error {
			schedule(gctx, runner, cfg, interval, logger)
			return nil
		})
	}
	return g.Wait()
}

// schedule evaluates the whole observation store on every tick. Failures are logged
// and the next tick retries.
func schedule(ctx context.Context, runner *pipeline.Runner, cfg *config.Config, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := runner.Run(ctx, pipeline.Request{
				Level:  cfg.Level(),
				K:      cfg.Engine.K,
				Source: "scheduler",
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("scheduled run failed", slog.String("error", err.Error()))
			}
		}
	}
}

func workerCount(n int) int {
	if n == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

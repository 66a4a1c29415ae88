// Package stores opens the configured storage backends, falling back to memory.
package stores

import (
	"context"
	"fmt"
	"log/slog"

	"price-band-lab/internal/config"
	"price-band-lab/internal/storage"
	chstore "price-band-lab/internal/storage/clickhouse"
	"price-band-lab/internal/storage/memory"
	"price-band-lab/internal/storage/migrations"
	pgstore "price-band-lab/internal/storage/postgres"
)

// Set groups the stores used by the binaries.
type Set struct {
	Observations storage.ObservationStore
	Runs         storage.RunStore
	Bands        storage.BandStore

	// Backend names, for logging
	Relational string
	Columnar   string

	closers []func()
}

// Open connects to PostgreSQL (observations, runs) and ClickHouse (band rows) when
// their DSNs are set and applies migrations. Missing DSNs use in-memory stores.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Set, error) {
	s := &Set{}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
			s.Close()
			return nil, err
		}
		s.Observations = pgstore.NewObservationStore(pool)
		s.Runs = pgstore.NewRunStore(pool)
		s.Relational = "postgres"
	} else {
		s.Observations = memory.NewObservationStore()
		s.Runs = memory.NewRunStore()
		s.Relational = "memory"
	}

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		s.Bands = chstore.NewBandStore(conn)
		s.Columnar = "clickhouse"
	} else {
		s.Bands = memory.NewBandStore()
		s.Columnar = "memory"
	}

	logger.Info("storage ready",
		slog.String("observations", s.Relational),
		slog.String("bands", s.Columnar),
	)
	return s, nil
}

// Close releases every opened connection in reverse order.
func (s *Set) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

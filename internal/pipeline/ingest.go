package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/domain"
	"price-band-lab/internal/validation"
)

// IngestResult summarizes an ingestion.
type IngestResult struct {
	Inserted   int
	Duplicates int
}

// Ingest validates and deduplicates obs, then writes them to the observation store
// in one batch.
func (r *Runner) Ingest(ctx context.Context, obs []*domain.Observation) (IngestResult, error) {
	if r.opts.ObservationStore == nil {
		return IngestResult{}, ErrNoSource
	}

	if err := validation.Observations(obs); err != nil {
		if r.opts.Metrics != nil {
			r.opts.Metrics.ValidationFailures.Inc()
		}
		return IngestResult{}, err
	}

	kept, dropped := bands.Deduplicate(obs)
	if err := r.opts.ObservationStore.InsertBulk(ctx, kept); err != nil {
		return IngestResult{}, fmt.Errorf("insert observations: %w", err)
	}

	r.log.InfoContext(ctx, "observations ingested",
		slog.Int("inserted", len(kept)),
		slog.Int("duplicates", dropped),
	)
	return IngestResult{Inserted: len(kept), Duplicates: dropped}, nil
}

package reporting

import (
	"context"
	"fmt"
	"time"

	"price-band-lab/internal/metrics"
	"price-band-lab/internal/storage"
)

// Generator produces reports from stored runs.
type Generator struct {
	runStore  storage.RunStore
	bandStore storage.BandStore
	now       func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(runStore storage.RunStore, bandStore storage.BandStore) *Generator {
	return &Generator{
		runStore:  runStore,
		bandStore: bandStore,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the report of one run.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	run, err := g.runStore.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	rows, err := g.bandStore.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load band rows of run %s: %w", runID, err)
	}

	out := metrics.OutOfBand(rows)
	total := len(out)
	if len(out) > MaxOutOfBand {
		out = out[:MaxOutOfBand]
	}

	return &Report{
		GeneratedAt:    g.now(),
		Run:            run,
		Summary:        metrics.Summarize(rows),
		OutOfBand:      out,
		OutOfBandTotal: total,
	}, nil
}

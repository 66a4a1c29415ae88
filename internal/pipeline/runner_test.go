package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/cache"
	"price-band-lab/internal/domain"
	"price-band-lab/internal/observability"
	"price-band-lab/internal/storage/memory"
	"price-band-lab/internal/validation"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(group, parent string, prices ...float64) []*domain.Observation {
	out := make([]*domain.Observation, len(prices))
	for i, p := range prices {
		out[i] = &domain.Observation{
			GroupKey:    group,
			ParentKey:   parent,
			TimestampMs: epoch.AddDate(0, 0, i).UnixMilli(),
			Price:       p,
		}
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	runs []*domain.Run
}

func (n *recordingNotifier) Publish(run *domain.Run) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runs = append(n.runs, run)
}

type fixture struct {
	obs      *memory.ObservationStore
	runs     *memory.RunStore
	bands    *memory.BandStore
	notifier *recordingNotifier
	metrics  *observability.Metrics
	runner   *Runner
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()

	f := &fixture{
		obs:      memory.NewObservationStore(),
		runs:     memory.NewRunStore(),
		bands:    memory.NewBandStore(),
		notifier: &recordingNotifier{},
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
	}

	opts := Options{
		Engine:           bands.Engine{Workers: 2},
		ObservationStore: f.obs,
		RunStore:         f.runs,
		BandStore:        f.bands,
		Notifier:         f.notifier,
		Metrics:          f.metrics,
	}
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		opts.Cache = cache.NewRedisCache(client, time.Hour)
	}

	n := 0
	f.runner = New(opts).
		WithClock(func() time.Time { return epoch }).
		WithIDs(func() string {
			n++
			return fmt.Sprintf("run-%03d", n)
		})
	return f
}

func TestRunner_Run_FlagsSpike(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	res, err := f.runner.Run(ctx, Request{
		Level:        domain.LevelGroup,
		K:            2.5,
		Observations: series("A", "", 10, 10, 10, 10, 10, 10, 20),
		Source:       "prices.csv",
	})
	require.NoError(t, err)

	assert.Equal(t, "run-001", res.Run.ID)
	assert.Equal(t, domain.RunStatusSucceeded, res.Run.Status)
	assert.False(t, res.Cached)
	assert.Len(t, res.Rows, 7)
	assert.True(t, res.Summary.Evaluable)
	assert.False(t, res.Rows[6].InBand)
	// rows 0 and 1 have no previous band, row 6 is the spike
	assert.Equal(t, 3, res.Run.OutOfBand)
	assert.NotEmpty(t, res.Run.Fingerprint)

	stored, err := f.runs.GetByID(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, "prices.csv", stored.Source)
	assert.Equal(t, 7, stored.Rows)

	rows, err := f.bands.GetByRun(ctx, "run-001")
	require.NoError(t, err)
	assert.Len(t, rows, 7)

	require.Len(t, f.notifier.runs, 1)
	assert.Equal(t, "run-001", f.notifier.runs[0].ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("group", "succeeded")))
	assert.Equal(t, 7.0, testutil.ToFloat64(f.metrics.ObservationsProcessed))
}

func TestRunner_Run_UsesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	req := Request{
		Level:        domain.LevelGroup,
		K:            2,
		Observations: series("A", "", 1, 2, 3, 4, 5),
	}

	first, err := f.runner.Run(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.runner.Run(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, domain.RunStatusCached, second.Run.Status)
	assert.Equal(t, first.Run.Fingerprint, second.Run.Fingerprint)
	require.Len(t, second.Rows, len(first.Rows))

	for i := range first.Rows {
		a, b := first.Rows[i], second.Rows[i]
		assert.Equal(t, a.Price, b.Price)
		assert.Equal(t, a.InBand, b.InBand)
		assert.Equal(t, math.IsNaN(a.PrevUpper), math.IsNaN(b.PrevUpper))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheMisses))

	// Each run keeps its own rows
	rows, err := f.bands.GetByRun(ctx, "run-002")
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func withAttribute(obs []*domain.Observation, name, value string) []*domain.Observation {
	for _, o := range obs {
		o.Attributes = map[string]string{name: value}
	}
	return obs
}

func TestRunner_Run_AttributesSurviveCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	sp := withAttribute(series("A", "", 10, 11, 12), "UF", "SP")
	first, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2.5, Observations: sp})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Same prices, different passthrough columns: a different dataset
	rj := withAttribute(series("A", "", 10, 11, 12), "UF", "RJ")
	second, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2.5, Observations: rj})
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.NotEqual(t, first.Run.Fingerprint, second.Run.Fingerprint)

	for _, row := range second.Rows {
		assert.Equal(t, "RJ", row.Observation.Attributes["UF"])
	}
	stored, err := f.bands.GetByRun(ctx, second.Run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, row := range stored {
		assert.Equal(t, "RJ", row.Observation.Attributes["UF"])
	}

	// Unchanged caller records are handed back on a hit
	again := withAttribute(series("A", "", 10, 11, 12), "UF", "RJ")
	third, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2.5, Observations: again})
	require.NoError(t, err)
	assert.True(t, third.Cached)
	require.Len(t, third.Rows, 3)
	for i, row := range third.Rows {
		assert.Same(t, again[i], row.Observation)
	}
}

func TestRunner_Run_DifferentMultiplierMissesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	obs := series("A", "", 1, 2, 3, 4, 5)

	_, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2, Observations: obs})
	require.NoError(t, err)

	res, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 3, Observations: obs})
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestRunner_Run_ValidationFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	obs := series("A", "", 1, math.NaN(), 3)
	_, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2, Observations: obs})
	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrMalformedInput)

	run, err := f.runs.GetByID(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ValidationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("group", "failed")))
	require.Len(t, f.notifier.runs, 1)
	assert.Equal(t, domain.RunStatusFailed, f.notifier.runs[0].Status)
}

func TestRunner_Run_InvalidInputs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	obs := series("A", "", 1, 2, 3)

	_, err := f.runner.Run(ctx, Request{Level: "weekly", K: 2, Observations: obs})
	assert.ErrorIs(t, err, ErrInvalidLevel)

	_, err = f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 0, Observations: obs})
	assert.ErrorIs(t, err, bands.ErrInvalidMultiplier)

	_, err = f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2})
	assert.NoError(t, err, "empty store yields an empty run")

	_, err = New(Options{}).Run(ctx, Request{Level: domain.LevelGroup, K: 2})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestRunner_Run_CountsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	obs := series("A", "", 1, 2, 3)
	dup := *obs[1]
	dup.Price = 99
	obs = append(obs, &dup)

	res, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2, Observations: obs})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Duplicates)
	assert.Equal(t, 3, res.Run.Observations)
	assert.Equal(t, 2.0, res.Rows[1].Price, "first occurrence kept")
}

func TestRunner_Run_ParentSelectionFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	all := append(series("A1", "A", 10, 11, 12, 13), series("A2", "A", 20, 21, 22, 23)...)
	all = append(all, series("B1", "B", 5, 5, 5, 5)...)
	_, err := f.runner.Ingest(ctx, all)
	require.NoError(t, err)

	res, err := f.runner.Run(ctx, Request{Level: domain.LevelParent, K: 2, Selection: "A"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 8)
	for _, r := range res.Rows {
		assert.Equal(t, "A", r.Key)
	}
	assert.Equal(t, "A", res.Run.Selection)
}

func TestRunner_Run_GroupSelectionInMemory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	obs := append(series("A", "", 1, 2, 3), series("B", "", 4, 5)...)
	res, err := f.runner.Run(ctx, Request{Level: domain.LevelGroup, K: 2, Observations: obs, Selection: "B"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
}

func TestRunner_Ingest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	obs := series("A", "", 1, 2, 3)
	dup := *obs[0]
	obs = append(obs, &dup)

	res, err := f.runner.Ingest(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Inserted: 3, Duplicates: 1}, res)

	stored, err := f.obs.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	_, err = f.runner.Ingest(ctx, series("", "", 1))
	assert.ErrorIs(t, err, validation.ErrMalformedInput)
}

// Package pipeline runs band evaluations end to end: validation, deduplication,
// cached computation, persistence and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/cache"
	"price-band-lab/internal/domain"
	"price-band-lab/internal/idhash"
	"price-band-lab/internal/metrics"
	"price-band-lab/internal/observability"
	"price-band-lab/internal/storage"
	"price-band-lab/internal/validation"
)

// ErrInvalidLevel is returned for a level other than group or parent.
var ErrInvalidLevel = errors.New("invalid aggregation level")

// ErrNoSource is returned when a request carries no observations and no store is configured.
var ErrNoSource = errors.New("no observations and no observation store")

// Cache stores computed band tables keyed by run key.
type Cache interface {
	Get(ctx context.Context, runKey string) ([]*domain.BandRow, error)
	Set(ctx context.Context, runKey string, rows []*domain.BandRow) error
}

// Notifier receives every finished run.
type Notifier interface {
	Publish(run *domain.Run)
}

// Options configures the Runner. Only Engine is required to be meaningful;
// every store and sink is optional.
type Options struct {
	Engine bands.Engine

	ObservationStore storage.ObservationStore
	RunStore         storage.RunStore
	BandStore        storage.BandStore

	Cache    Cache
	Notifier Notifier
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Runner executes band runs.
type Runner struct {
	opts  Options
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

// New creates a Runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		opts:  opts,
		log:   observability.Component(logger, "pipeline"),
		clock: func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// WithClock sets a custom clock for deterministic run timestamps.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// WithIDs sets a custom run ID generator.
func (r *Runner) WithIDs(newID func() string) *Runner {
	r.newID = newID
	return r
}

// Request describes one run.
type Request struct {
	Level domain.Level
	K     float64

	// Observations to evaluate. When nil, they are read from the observation store.
	Observations []*domain.Observation

	// Selection restricts the run to one group key (group level)
	// or one parent key (parent level). Empty means every key.
	Selection string

	// Source labels the run, e.g. the input path.
	Source string
}

// Result holds the outcome of a run.
type Result struct {
	Run     *domain.Run
	Rows    []*domain.BandRow
	Summary metrics.Summary
	Cached  bool
}

// Run evaluates the request. Failed runs are still recorded in the run store.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	started := r.clock()
	run := &domain.Run{
		ID:          r.newID(),
		Level:       req.Level,
		K:           req.K,
		Source:      req.Source,
		Selection:   req.Selection,
		StartedAtMs: started.UnixMilli(),
	}
	ctx = observability.WithRunID(ctx, run.ID)

	r.log.InfoContext(ctx, "run started",
		slog.String("level", string(req.Level)),
		slog.Float64("k", req.K),
		slog.String("selection", req.Selection),
	)

	res, err := r.execute(ctx, req, run)
	run.FinishedAtMs = r.clock().UnixMilli()
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
	}

	if storeErr := r.record(ctx, run); storeErr != nil && err == nil {
		run.Status = domain.RunStatusFailed
		run.Error = storeErr.Error()
		err = storeErr
	}

	duration := r.clock().Sub(started)
	if m := r.opts.Metrics; m != nil {
		m.RecordRun(string(run.Level), string(run.Status), duration)
		if err == nil {
			m.RecordRows(string(run.Level), run.Observations, run.Duplicates, run.OutOfBand)
		}
	}
	if r.opts.Notifier != nil {
		r.opts.Notifier.Publish(run)
	}

	if err != nil {
		r.log.ErrorContext(ctx, "run failed", slog.String("error", err.Error()))
		return nil, err
	}

	r.log.InfoContext(ctx, "run finished",
		slog.String("status", string(run.Status)),
		slog.Int("observations", run.Observations),
		slog.Int("duplicates", run.Duplicates),
		slog.Int("out_of_band", run.OutOfBand),
		slog.Duration("duration", duration),
	)

	res.Run = run
	return res, nil
}

func (r *Runner) execute(ctx context.Context, req Request, run *domain.Run) (*Result, error) {
	if !req.Level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, req.Level)
	}

	// Phase 1: Load
	obs, err := r.load(ctx, req)
	if err != nil {
		return nil, err
	}

	// Phase 2: Validate
	if err := validation.Observations(obs); err != nil {
		if r.opts.Metrics != nil {
			r.opts.Metrics.ValidationFailures.Inc()
		}
		return nil, err
	}

	// Phase 3: Deduplicate
	kept, dropped := bands.Deduplicate(obs)
	run.Observations = len(kept)
	run.Duplicates = dropped
	if dropped > 0 {
		r.log.WarnContext(ctx, "duplicate observations dropped", slog.Int("count", dropped))
	}

	run.Fingerprint = idhash.DatasetFingerprint(kept)
	runKey := idhash.RunKey(run.Fingerprint, req.Level, req.K)

	// Phase 4: Compute, or reuse a cached table
	rows, cached := r.cached(ctx, runKey)
	if cached {
		reattach(rows, kept)
	} else {
		rows, err = r.opts.Engine.Flag(req.Level, kept, req.K)
		if err != nil {
			return nil, err
		}
		r.store(ctx, runKey, rows)
	}

	summary := metrics.Summarize(rows)
	run.Rows = len(rows)
	run.OutOfBand = summary.OutOfBand
	run.Status = domain.RunStatusSucceeded
	if cached {
		run.Status = domain.RunStatusCached
	}
	if !summary.Evaluable && len(rows) > 0 {
		r.log.WarnContext(ctx, "no row has a defined previous bound; out-of-band counts withheld")
	}

	// Phase 5: Persist rows
	if r.opts.BandStore != nil && len(rows) > 0 {
		if err := r.opts.BandStore.InsertBulk(ctx, run.ID, rows); err != nil {
			return nil, fmt.Errorf("store band rows: %w", err)
		}
	}

	return &Result{Rows: rows, Summary: summary, Cached: cached}, nil
}

func (r *Runner) load(ctx context.Context, req Request) ([]*domain.Observation, error) {
	if req.Observations != nil {
		return selectKey(req.Observations, req.Level, req.Selection), nil
	}
	if r.opts.ObservationStore == nil {
		return nil, ErrNoSource
	}
	return Load(ctx, r.opts.ObservationStore, req.Level, req.Selection)
}

// Load reads the observations a run at level over selection evaluates.
// An empty selection reads the whole store.
func Load(ctx context.Context, store storage.ObservationStore, level domain.Level, selection string) ([]*domain.Observation, error) {
	var (
		obs []*domain.Observation
		err error
	)
	switch {
	case selection == "":
		obs, err = store.GetAll(ctx)
	case level == domain.LevelParent:
		obs, err = store.GetByParentKey(ctx, selection)
	default:
		obs, err = store.GetByGroupKey(ctx, selection)
	}
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	return obs, nil
}

func selectKey(obs []*domain.Observation, level domain.Level, key string) []*domain.Observation {
	if key == "" {
		return obs
	}
	out := make([]*domain.Observation, 0, len(obs))
	for _, o := range obs {
		k := o.GroupKey
		if level == domain.LevelParent {
			k = o.Parent()
		}
		if k == key {
			out = append(out, o)
		}
	}
	return out
}

func (r *Runner) cached(ctx context.Context, runKey string) ([]*domain.BandRow, bool) {
	if r.opts.Cache == nil {
		return nil, false
	}
	rows, err := r.opts.Cache.Get(ctx, runKey)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.log.WarnContext(ctx, "cache lookup failed", slog.String("error", err.Error()))
		}
		r.recordCache(false)
		return nil, false
	}
	r.recordCache(true)
	return rows, true
}

// reattach points cached rows at this run's observations so callers always get their own
// records back, attributes included.
func reattach(rows []*domain.BandRow, obs []*domain.Observation) {
	type rowKey struct {
		group string
		ts    int64
	}
	index := make(map[rowKey]*domain.Observation, len(obs))
	for _, o := range obs {
		index[rowKey{o.GroupKey, o.TimestampMs}] = o
	}
	for _, row := range rows {
		if row.Observation == nil {
			continue
		}
		if o, ok := index[rowKey{row.Observation.GroupKey, row.TimestampMs}]; ok {
			row.Observation = o
		}
	}
}

func (r *Runner) store(ctx context.Context, runKey string, rows []*domain.BandRow) {
	if r.opts.Cache == nil {
		return
	}
	if err := r.opts.Cache.Set(ctx, runKey, rows); err != nil {
		r.log.WarnContext(ctx, "cache store failed", slog.String("error", err.Error()))
	}
}

func (r *Runner) recordCache(hit bool) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordCache(hit)
	}
}

func (r *Runner) record(ctx context.Context, run *domain.Run) error {
	if r.opts.RunStore == nil {
		return nil
	}
	if err := r.opts.RunStore.Insert(ctx, run); err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

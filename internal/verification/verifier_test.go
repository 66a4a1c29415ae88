package verification

import (
	"context"
	"math"
	"testing"
	"time"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/domain"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/storage/memory"
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

type env struct {
	obs      *memory.ObservationStore
	runs     *memory.RunStore
	bands    *memory.BandStore
	runner   *pipeline.Runner
	verifier *Verifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		obs:   memory.NewObservationStore(),
		runs:  memory.NewRunStore(),
		bands: memory.NewBandStore(),
	}
	e.runner = pipeline.New(pipeline.Options{
		Engine:           bands.Engine{Workers: 4},
		ObservationStore: e.obs,
		RunStore:         e.runs,
		BandStore:        e.bands,
	})
	e.verifier = NewVerifier(e.obs, e.runs, e.bands, bands.Engine{})

	obs := append(series("A1", "A", 10, 11, 9, 10, 30, 10, 10), series("A2", "A", 12, 12, 13, 12, 12)...)
	obs = append(obs, series("B1", "B", 5, 6, 5, 6, 5)...)
	if _, err := e.runner.Ingest(context.Background(), obs); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return e
}

func TestVerifyRun_ReproducesStoredRuns(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	tests := []struct {
		name      string
		level     domain.Level
		selection string
	}{
		{"group level", domain.LevelGroup, ""},
		{"parent level", domain.LevelParent, ""},
		{"parent selection", domain.LevelParent, "A"},
		{"group selection", domain.LevelGroup, "B1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.runner.Run(ctx, pipeline.Request{Level: tt.level, K: 2, Selection: tt.selection})
			if err != nil {
				t.Fatalf("run: %v", err)
			}

			got, err := e.verifier.VerifyRun(ctx, res.Run.ID)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if !got.Match() {
				t.Fatalf("expected match, got divergences: %+v", got.Divergences)
			}
			if got.StoredRows != res.Run.Rows || got.ReplayedRows != res.Run.Rows {
				t.Errorf("expected %d rows on both sides, got stored=%d replayed=%d", res.Run.Rows, got.StoredRows, got.ReplayedRows)
			}
		})
	}
}

func TestVerifyRun_DatasetChanged(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	res, err := e.runner.Run(ctx, pipeline.Request{Level: domain.LevelGroup, K: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	late := series("C1", "C", 1)
	if _, err := e.runner.Ingest(ctx, late); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got, err := e.verifier.VerifyRun(ctx, res.Run.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.FingerprintMatch || got.Match() {
		t.Fatal("expected fingerprint mismatch after the store changed")
	}
	if len(got.Divergences) != 1 || got.Divergences[0].Field != "Fingerprint" {
		t.Errorf("expected one fingerprint divergence, got %+v", got.Divergences)
	}
}

func TestVerifyRun_FailedRunNotReplayable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.runner.Run(ctx, pipeline.Request{Level: domain.LevelGroup, K: -1})
	if err == nil {
		t.Fatal("expected run failure")
	}
	runs, _ := e.runs.List(ctx, 1)
	if len(runs) != 1 {
		t.Fatalf("expected the failed run to be stored, got %d", len(runs))
	}

	if _, err := e.verifier.VerifyRun(ctx, runs[0].ID); err == nil {
		t.Fatal("expected error for failed run")
	}
}

func TestCompareRunRows(t *testing.T) {
	obs := series("A", "", 1, 2, 3)
	rows, err := bands.FlagGroups(obs, 2)
	if err != nil {
		t.Fatalf("flag: %v", err)
	}

	same := make([]*domain.BandRow, len(rows))
	for i, r := range rows {
		c := *r
		same[i] = &c
	}
	if d := CompareRunRows(rows, same); len(d) != 0 {
		t.Fatalf("expected no divergences, got %+v", d)
	}

	// NaN on one side only
	same[2].Spread = math.NaN()
	// Flipped classification
	same[1].InBand = !same[1].InBand
	// Missing row
	stored := append([]*domain.BandRow(nil), rows...)
	replayed := same[1:]

	d := CompareRunRows(stored, replayed)
	fields := make(map[string]int)
	for _, div := range d {
		fields[div.Field]++
	}
	if fields["Row"] != 1 || fields["Spread"] != 1 || fields["InBand"] != 1 {
		t.Errorf("unexpected divergences: %+v", d)
	}
}

func TestCompareRunRows_SeparatorInKeys(t *testing.T) {
	// Parent "P|A" with group "X" against parent "P" with group "A|X" at the same timestamp
	stored := []*domain.BandRow{{
		Observation: &domain.Observation{GroupKey: "X", ParentKey: "P|A", TimestampMs: 1, Price: 1},
		Key:         "P|A",
		TimestampMs: 1,
	}}
	replayed := []*domain.BandRow{{
		Observation: &domain.Observation{GroupKey: "A|X", ParentKey: "P", TimestampMs: 1, Price: 1},
		Key:         "P",
		TimestampMs: 1,
	}}

	if rowID(stored[0]) == rowID(replayed[0]) {
		t.Fatalf("distinct rows share id %s", rowID(stored[0]))
	}
	if d := CompareRunRows(stored, replayed); len(d) != 2 {
		t.Errorf("expected one missing and one extra row, got %+v", d)
	}
}

func TestFloatEquals(t *testing.T) {
	tests := []struct {
		a, b float64
		want bool
	}{
		{1, 1, true},
		{1, 1 + 1e-12, true},
		{1, 1.001, false},
		{math.NaN(), math.NaN(), true},
		{math.NaN(), 0, false},
		{0, math.NaN(), false},
	}
	for _, tt := range tests {
		if got := floatEquals(tt.a, tt.b); got != tt.want {
			t.Errorf("floatEquals(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

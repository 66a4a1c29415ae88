// Package verification replays stored band runs and checks that recomputation
// reproduces the stored rows.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/domain"
	"price-band-lab/internal/idhash"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/storage"
)

// FloatTolerance is the tolerance for float64 comparisons.
// Rows read back from a store may round the last bits.
const FloatTolerance = 1e-9

// ErrNotReplayable is returned for runs that did not produce rows.
var ErrNotReplayable = errors.New("run is not replayable")

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Row      string `json:"row"`   // key|group|timestamp of the row, empty for run-level fields
	Field    string `json:"field"` // field name
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
}

// Result describes one verified run.
type Result struct {
	RunID string `json:"run_id"`

	// FingerprintMatch is false when the observation store no longer holds the
	// dataset the run evaluated. Rows are not compared in that case.
	FingerprintMatch bool `json:"fingerprint_match"`

	StoredRows   int               `json:"stored_rows"`
	ReplayedRows int               `json:"replayed_rows"`
	Divergences  []FieldDivergence `json:"divergences,omitempty"`
}

// Match reports whether the replay reproduced the run exactly.
func (r *Result) Match() bool {
	return r.FingerprintMatch && len(r.Divergences) == 0
}

// Verifier replays runs against the observation store.
type Verifier struct {
	observations storage.ObservationStore
	runs         storage.RunStore
	bands        storage.BandStore
	engine       bands.Engine
}

// NewVerifier creates a Verifier.
func NewVerifier(observations storage.ObservationStore, runs storage.RunStore, bandStore storage.BandStore, engine bands.Engine) *Verifier {
	return &Verifier{
		observations: observations,
		runs:         runs,
		bands:        bandStore,
		engine:       engine,
	}
}

// VerifyRun reloads the run's observations, recomputes its rows and compares them
// with the stored rows.
func (v *Verifier) VerifyRun(ctx context.Context, runID string) (*Result, error) {
	// 1. Load stored run
	run, err := v.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status == domain.RunStatusFailed {
		return nil, fmt.Errorf("%w: %s failed", ErrNotReplayable, runID)
	}

	// 2. Reload dataset
	obs, err := pipeline.Load(ctx, v.observations, run.Level, run.Selection)
	if err != nil {
		return nil, err
	}
	kept, _ := bands.Deduplicate(obs)

	res := &Result{RunID: runID}
	if fp := idhash.DatasetFingerprint(kept); fp != run.Fingerprint {
		res.Divergences = append(res.Divergences, FieldDivergence{
			Field:    "Fingerprint",
			Expected: run.Fingerprint,
			Actual:   fp,
		})
		return res, nil
	}
	res.FingerprintMatch = true

	// 3. Replay
	replayed, err := v.engine.Flag(run.Level, kept, run.K)
	if err != nil {
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}
	stored, err := v.bands.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load band rows of run %s: %w", runID, err)
	}
	res.StoredRows = len(stored)
	res.ReplayedRows = len(replayed)

	// 4. Compare
	res.Divergences = append(res.Divergences, CompareRunRows(stored, replayed)...)
	return res, nil
}

// CompareRunRows matches rows by (key, group, timestamp) and compares each pair.
// Rows present on one side only are reported under the "Row" field.
func CompareRunRows(stored, replayed []*domain.BandRow) []FieldDivergence {
	index := make(map[string]*domain.BandRow, len(replayed))
	for _, r := range replayed {
		index[rowID(r)] = r
	}

	var divergences []FieldDivergence
	for _, s := range stored {
		id := rowID(s)
		r, ok := index[id]
		if !ok {
			divergences = append(divergences, FieldDivergence{Row: id, Field: "Row", Expected: "present", Actual: "missing"})
			continue
		}
		delete(index, id)
		divergences = append(divergences, CompareBandRows(id, s, r)...)
	}
	for _, r := range remaining(index) {
		divergences = append(divergences, FieldDivergence{Row: rowID(r), Field: "Row", Expected: "missing", Actual: "present"})
	}
	return divergences
}

// CompareBandRows compares two rows field by field. Undefined (NaN) values match
// only each other; defined values match within FloatTolerance.
func CompareBandRows(id string, stored, replayed *domain.BandRow) []FieldDivergence {
	var divergences []FieldDivergence

	floats := []struct {
		name string
		a, b float64
	}{
		{"Price", stored.Price, replayed.Price},
		{"CoarsePrice", stored.CoarsePrice, replayed.CoarsePrice},
		{"Center", stored.Center, replayed.Center},
		{"CenterAlt", stored.CenterAlt, replayed.CenterAlt},
		{"Spread", stored.Spread, replayed.Spread},
		{"Lower", stored.Lower, replayed.Lower},
		{"Upper", stored.Upper, replayed.Upper},
		{"PrevLower", stored.PrevLower, replayed.PrevLower},
		{"PrevUpper", stored.PrevUpper, replayed.PrevUpper},
	}
	for _, f := range floats {
		if !floatEquals(f.a, f.b) {
			divergences = append(divergences, FieldDivergence{
				Row:      id,
				Field:    f.name,
				Expected: domain.Nullable(f.a),
				Actual:   domain.Nullable(f.b),
			})
		}
	}

	if stored.InBand != replayed.InBand {
		divergences = append(divergences, FieldDivergence{
			Row:      id,
			Field:    "InBand",
			Expected: stored.InBand,
			Actual:   replayed.InBand,
		})
	}

	return divergences
}

// rowID identifies a band row. Keys are quoted so a separator inside a key cannot collide.
func rowID(r *domain.BandRow) string {
	return strconv.Quote(r.Key) + "/" + strconv.Quote(r.GroupKey()) + "/" + strconv.FormatInt(r.TimestampMs, 10)
}

func remaining(index map[string]*domain.BandRow) []*domain.BandRow {
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*domain.BandRow, len(ids))
	for i, id := range ids {
		out[i] = index[id]
	}
	return out
}

// floatEquals compares two float64 values within FloatTolerance.
func floatEquals(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= FloatTolerance
}

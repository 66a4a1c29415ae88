package bands

import (
	"math"

	"price-band-lab/internal/domain"
)

// Classify sets PrevLower, PrevUpper and InBand on every row and returns the rows ordered by
// (key, timestamp). Rows are grouped by BandRow.Key.
//
// Previous bounds are the bounds of the preceding timestamp step of the same group and are NaN
// on the first step. Rows that share a timestamp within a group (fine rows joined onto one coarse
// step) share that step's previous bounds, so the current step's band is never consulted.
// InBand is false whenever a previous bound is undefined.
func Classify(rows []*domain.BandRow) []*domain.BandRow {
	sorted := SortRows(rows)

	var (
		key                  string
		stepTs               int64
		started              bool
		stepLower, stepUpper = math.NaN(), math.NaN()
		prevLower, prevUpper = math.NaN(), math.NaN()
	)

	for _, r := range sorted {
		switch {
		case !started || r.Key != key:
			// Group boundary: reset lookback state
			key, stepTs, started = r.Key, r.TimestampMs, true
			prevLower, prevUpper = math.NaN(), math.NaN()
			stepLower, stepUpper = r.Lower, r.Upper
		case r.TimestampMs != stepTs:
			prevLower, prevUpper = stepLower, stepUpper
			stepTs = r.TimestampMs
			stepLower, stepUpper = r.Lower, r.Upper
		}

		r.PrevLower = prevLower
		r.PrevUpper = prevUpper
		// NaN comparisons are false
		r.InBand = r.Price >= prevLower && r.Price <= prevUpper
	}

	return sorted
}

// FlagGroups runs the single-level pipeline: bands per group key, then classification.
func FlagGroups(obs []*domain.Observation, k float64) ([]*domain.BandRow, error) {
	return Engine{}.FlagGroups(obs, k)
}

// FlagGroups runs the single-level pipeline on e.
func (e Engine) FlagGroups(obs []*domain.Observation, k float64) ([]*domain.BandRow, error) {
	rows, err := e.ComputeBands(obs, ByGroup, k)
	if err != nil {
		return nil, err
	}
	return Classify(rows), nil
}

// Flag dispatches to FlagGroups or Reconcile by level.
func (e Engine) Flag(level domain.Level, obs []*domain.Observation, k float64) ([]*domain.BandRow, error) {
	if level == domain.LevelParent {
		return e.Reconcile(obs, k)
	}
	return e.FlagGroups(obs, k)
}

// HasDefinedBound reports whether any row was evaluated against defined previous bounds.
// Band metrics are only meaningful once this is true.
func HasDefinedBound(rows []*domain.BandRow) bool {
	for _, r := range rows {
		if !math.IsNaN(r.PrevLower) {
			return true
		}
	}
	return false
}

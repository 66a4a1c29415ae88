package domain

import (
	"encoding/json"
	"math"
)

// Level selects the grouping granularity of a band computation.
type Level string

const (
	// LevelGroup computes bands per informed-input code.
	LevelGroup Level = "group"
	// LevelParent computes bands on the parent median series and applies them to every fine row.
	LevelParent Level = "parent"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l == LevelGroup || l == LevelParent
}

// BandRow is one observation enriched with rolling statistics and its band classification.
// Undefined statistics are NaN. Corresponds to band_rows table in ClickHouse.
type BandRow struct {
	Observation *Observation // source observation, shared with the caller and never mutated

	Key         string  // grouping key the statistics were computed over
	TimestampMs int64   // copy of Observation.TimestampMs
	Price       float64 // price evaluated against the band
	CoarsePrice float64 // parent median price at this timestamp, NaN for single-level rows

	Center    float64 // rolling mean, window 3
	CenterAlt float64 // rolling median, window 6 (supplementary, not used in the band)
	Spread    float64 // rolling sample stdev, window 6, min 2 points
	Lower     float64 // Center - k*Spread
	Upper     float64 // Center + k*Spread

	PrevLower float64 // Lower of the previous step in the same group
	PrevUpper float64 // Upper of the previous step in the same group
	InBand    bool    // Price within [PrevLower, PrevUpper]; false when either is undefined
}

// GroupKey returns the informed-input code of the source observation.
func (r *BandRow) GroupKey() string {
	if r.Observation == nil {
		return r.Key
	}
	return r.Observation.GroupKey
}

// Evaluable reports whether previous bounds were defined for this row.
func (r *BandRow) Evaluable() bool {
	return !math.IsNaN(r.PrevLower) && !math.IsNaN(r.PrevUpper)
}

// bandRowJSON is the wire form of BandRow. Undefined statistics are null.
type bandRowJSON struct {
	Observation *Observation `json:"observation,omitempty"`
	Key         string       `json:"key"`
	TimestampMs int64        `json:"timestamp_ms"`
	Price       float64      `json:"price"`
	CoarsePrice *float64     `json:"coarse_price"`
	Center      *float64     `json:"center"`
	CenterAlt   *float64     `json:"center_alt"`
	Spread      *float64     `json:"spread"`
	Lower       *float64     `json:"lower"`
	Upper       *float64     `json:"upper"`
	PrevLower   *float64     `json:"prev_lower"`
	PrevUpper   *float64     `json:"prev_upper"`
	InBand      bool         `json:"in_band"`
}

// MarshalJSON encodes NaN statistics as null.
func (r BandRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(bandRowJSON{
		Observation: r.Observation,
		Key:         r.Key,
		TimestampMs: r.TimestampMs,
		Price:       r.Price,
		CoarsePrice: Nullable(r.CoarsePrice),
		Center:      Nullable(r.Center),
		CenterAlt:   Nullable(r.CenterAlt),
		Spread:      Nullable(r.Spread),
		Lower:       Nullable(r.Lower),
		Upper:       Nullable(r.Upper),
		PrevLower:   Nullable(r.PrevLower),
		PrevUpper:   Nullable(r.PrevUpper),
		InBand:      r.InBand,
	})
}

// UnmarshalJSON decodes null statistics as NaN.
func (r *BandRow) UnmarshalJSON(data []byte) error {
	var w bandRowJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = BandRow{
		Observation: w.Observation,
		Key:         w.Key,
		TimestampMs: w.TimestampMs,
		Price:       w.Price,
		CoarsePrice: FromNullable(w.CoarsePrice),
		Center:      FromNullable(w.Center),
		CenterAlt:   FromNullable(w.CenterAlt),
		Spread:      FromNullable(w.Spread),
		Lower:       FromNullable(w.Lower),
		Upper:       FromNullable(w.Upper),
		PrevLower:   FromNullable(w.PrevLower),
		PrevUpper:   FromNullable(w.PrevUpper),
		InBand:      w.InBand,
	}
	return nil
}

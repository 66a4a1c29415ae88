package domain

import (
	"math"
	"time"
)

// Observation is one reported price record.
// Corresponds to the observations table in PostgreSQL.
type Observation struct {
	GroupKey    string            `json:"group_key" validate:"required"` // informed-input code
	ParentKey   string            `json:"parent_key"`                    // input code, defaults to GroupKey
	TimestampMs int64             `json:"timestamp_ms"`                  // observation date, Unix ms (UTC)
	Price       float64           `json:"price" validate:"finite"`       // reported price
	Attributes  map[string]string `json:"attributes,omitempty"`          // passthrough columns, never read by the core
}

// Parent returns the parent key, falling back to the group key when no rollup exists.
func (o *Observation) Parent() string {
	if o.ParentKey == "" {
		return o.GroupKey
	}
	return o.ParentKey
}

// Time returns the observation timestamp as UTC time.
func (o *Observation) Time() time.Time {
	return time.UnixMilli(o.TimestampMs).UTC()
}

// DayMs returns the Unix ms of t's calendar date, as written in t's own location, at 00:00 UTC.
func DayMs(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixMilli()
}

// Nullable maps an undefined (NaN) statistic to nil.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// FromNullable maps nil back to NaN.
func FromNullable(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

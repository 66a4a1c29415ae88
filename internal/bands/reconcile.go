package bands

import (
	"math"

	"price-band-lab/internal/domain"
)

type stepKey struct {
	parent    string
	timestamp int64
}

// CoarseSeries builds the parent-level series: one observation per (parent_key, timestamp)
// whose price is the median of all fine prices at that step. Output is ordered by
// (parent_key, timestamp).
func CoarseSeries(obs []*domain.Observation) []*domain.Observation {
	prices := make(map[stepKey][]float64)
	var order []stepKey
	for _, o := range obs {
		k := stepKey{parent: o.Parent(), timestamp: o.TimestampMs}
		if _, ok := prices[k]; !ok {
			order = append(order, k)
		}
		prices[k] = append(prices[k], o.Price)
	}

	coarse := make([]*domain.Observation, len(order))
	for i, k := range order {
		coarse[i] = &domain.Observation{
			GroupKey:    k.parent,
			ParentKey:   k.parent,
			TimestampMs: k.timestamp,
			Price:       medianOf(prices[k]),
		}
	}
	return SortObservations(coarse)
}

// Reconcile runs the two-level pipeline with a serial Engine.
func Reconcile(obs []*domain.Observation, k float64) ([]*domain.BandRow, error) {
	return Engine{}.Reconcile(obs, k)
}

// Reconcile computes bands on the parent median series and classifies every fine observation
// against its parent's previous-step band.
//
// Each fine row keeps its own observation and price; Center, Spread, Lower and Upper come from
// the parent row at the same timestamp. CenterAlt stays NaN. Rows are returned ordered by
// (parent_key, timestamp) with input order preserved inside a step.
func (e Engine) Reconcile(obs []*domain.Observation, k float64) ([]*domain.BandRow, error) {
	coarseRows, err := e.ComputeBands(CoarseSeries(obs), ByGroup, k)
	if err != nil {
		return nil, err
	}

	lookup := make(map[stepKey]*domain.BandRow, len(coarseRows))
	for _, c := range coarseRows {
		lookup[stepKey{parent: c.Key, timestamp: c.TimestampMs}] = c
	}

	fine := make([]*domain.BandRow, 0, len(obs))
	for _, o := range obs {
		parent := o.Parent()
		row := &domain.BandRow{
			Observation: o,
			Key:         parent,
			TimestampMs: o.TimestampMs,
			Price:       o.Price,
			CoarsePrice: math.NaN(),
			Center:      math.NaN(),
			CenterAlt:   math.NaN(),
			Spread:      math.NaN(),
			Lower:       math.NaN(),
			Upper:       math.NaN(),
		}
		if c, ok := lookup[stepKey{parent: parent, timestamp: o.TimestampMs}]; ok {
			row.CoarsePrice = c.Price
			row.Center = c.Center
			row.Spread = c.Spread
			row.Lower = c.Lower
			row.Upper = c.Upper
		}
		fine = append(fine, row)
	}

	return Classify(fine), nil
}

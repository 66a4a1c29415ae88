// Package metrics aggregates classified band rows into per-group summaries.
package metrics

import (
	"encoding/json"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/domain"
)

// GroupSummary describes the prices of one informed-input code.
type GroupSummary struct {
	GroupKey  string  `json:"group_key"`
	Count     int     `json:"count"`
	OutOfBand int     `json:"out_of_band"`
	Mean      float64 `json:"mean"`
	Stddev    float64 `json:"stddev"` // sample, NaN below two prices
	CV        float64 `json:"cv"`     // Stddev / Mean, NaN when undefined
}

// MarshalJSON encodes undefined statistics as null.
func (g GroupSummary) MarshalJSON() ([]byte, error) {
	type wire struct {
		GroupKey  string   `json:"group_key"`
		Count     int      `json:"count"`
		OutOfBand int      `json:"out_of_band"`
		Mean      *float64 `json:"mean"`
		Stddev    *float64 `json:"stddev"`
		CV        *float64 `json:"cv"`
	}
	return json.Marshal(wire{
		GroupKey:  g.GroupKey,
		Count:     g.Count,
		OutOfBand: g.OutOfBand,
		Mean:      domain.Nullable(g.Mean),
		Stddev:    domain.Nullable(g.Stddev),
		CV:        domain.Nullable(g.CV),
	})
}

// Summary aggregates a classified table.
type Summary struct {
	Groups    []GroupSummary `json:"groups"`
	Total     int            `json:"total"`
	InBand    int            `json:"in_band"`
	OutOfBand int            `json:"out_of_band"` // includes rows without previous bounds
	Pending   int            `json:"pending"`     // rows without previous bounds
	Evaluable bool           `json:"evaluable"`   // at least one defined bound exists
}

// Summarize computes per-group price statistics and band counts.
// Out-of-band counts stay zero until at least one row has a defined bound.
func Summarize(rows []*domain.BandRow) Summary {
	s := Summary{
		Total:     len(rows),
		Evaluable: bands.HasDefinedBound(rows),
	}

	prices := make(map[string][]float64)
	outside := make(map[string]int)
	for _, r := range rows {
		key := r.GroupKey()
		prices[key] = append(prices[key], r.Price)

		if !r.Evaluable() {
			s.Pending++
		}
		if r.InBand {
			s.InBand++
			continue
		}
		outside[key]++
	}
	if s.Evaluable {
		s.OutOfBand = s.Total - s.InBand
	}

	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.Groups = make([]GroupSummary, 0, len(keys))
	for _, k := range keys {
		g := describe(k, prices[k])
		if s.Evaluable {
			g.OutOfBand = outside[k]
		}
		s.Groups = append(s.Groups, g)
	}

	return s
}

func describe(key string, prices []float64) GroupSummary {
	g := GroupSummary{
		GroupKey: key,
		Count:    len(prices),
		Mean:     math.NaN(),
		Stddev:   math.NaN(),
		CV:       math.NaN(),
	}
	switch len(prices) {
	case 0:
		return g
	case 1:
		g.Mean = prices[0]
	default:
		g.Mean, g.Stddev = stat.MeanStdDev(prices, nil)
	}
	if g.Mean != 0 && !math.IsNaN(g.Stddev) {
		g.CV = g.Stddev / g.Mean
	}
	return g
}

// OutOfBand returns rows with InBand false, newest first, then by key and group key.
func OutOfBand(rows []*domain.BandRow) []*domain.BandRow {
	var out []*domain.BandRow
	for _, r := range rows {
		if !r.InBand {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampMs != out[j].TimestampMs {
			return out[i].TimestampMs > out[j].TimestampMs
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].GroupKey() < out[j].GroupKey()
	})

	return out
}

// Package bands computes rolling price bands and flags observations that fall outside the band
// built from strictly earlier data.
package bands

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"price-band-lab/internal/domain"
)

// ErrInvalidMultiplier is returned when the dispersion multiplier is not a positive finite number.
var ErrInvalidMultiplier = errors.New("dispersion multiplier must be positive and finite")

// Engine computes bands. The zero value processes groups serially.
type Engine struct {
	// Workers bounds the number of groups computed concurrently. Values <= 1 run serially.
	// Output is identical for every setting.
	Workers int
}

// ComputeBands runs the moving-statistics engine with a serial Engine.
func ComputeBands(obs []*domain.Observation, key KeyFunc, k float64) ([]*domain.BandRow, error) {
	return Engine{}.ComputeBands(obs, key, k)
}

// ComputeBands partitions obs by key and computes, per row:
//   - Center = mean of the trailing CenterWindow prices (min 1)
//   - CenterAlt = median of the trailing CenterAltWindow prices (min 1)
//   - Spread = sample stdev of the trailing SpreadWindow prices (NaN below MinSpreadPoints)
//   - Lower/Upper = Center ∓ k*Spread (NaN when Spread is NaN)
//
// Rows are returned ordered by (key, timestamp). Previous bounds are left NaN; see Classify.
func (e Engine) ComputeBands(obs []*domain.Observation, key KeyFunc, k float64) ([]*domain.BandRow, error) {
	if err := checkMultiplier(k); err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}

	parts := partitionBy(obs, key)
	results := make([][]*domain.BandRow, len(parts))

	if e.Workers <= 1 || len(parts) == 1 {
		for i, p := range parts {
			results[i] = computeGroup(p, k)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.Workers)
		for i, p := range parts {
			g.Go(func() error {
				results[i] = computeGroup(p, k)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("compute groups: %w", err)
		}
	}

	out := make([]*domain.BandRow, 0, len(obs))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// computeGroup walks one partition in timestamp order carrying a ring buffer of recent prices.
func computeGroup(p partition, k float64) []*domain.BandRow {
	var w window
	rows := make([]*domain.BandRow, len(p.obs))

	for i, o := range p.obs {
		w.push(o.Price)

		center := w.mean(CenterWindow)
		spread := w.stddev(SpreadWindow)

		rows[i] = &domain.BandRow{
			Observation: o,
			Key:         p.key,
			TimestampMs: o.TimestampMs,
			Price:       o.Price,
			CoarsePrice: math.NaN(),
			Center:      center,
			CenterAlt:   w.median(CenterAltWindow),
			Spread:      spread,
			Lower:       center - k*spread,
			Upper:       center + k*spread,
			PrevLower:   math.NaN(),
			PrevUpper:   math.NaN(),
		}
	}
	return rows
}

func checkMultiplier(k float64) error {
	if math.IsNaN(k) || math.IsInf(k, 0) || k <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidMultiplier, k)
	}
	return nil
}

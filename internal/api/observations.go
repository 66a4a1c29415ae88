package api

import (
	"price-band-lab/internal/domain"
	"price-band-lab/internal/validation"
)

// observationInput is the request form of an observation. Pointer fields tell an absent
// price or timestamp apart from an explicit zero.
type observationInput struct {
	GroupKey    string            `json:"group_key" validate:"required"`
	ParentKey   string            `json:"parent_key"`
	TimestampMs *int64            `json:"timestamp_ms" validate:"required"`
	Price       *float64          `json:"price" validate:"required"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// toObservations converts request rows, reporting every missing field with its 1-based row.
// A nil input stays nil so the run falls back to the observation store.
func toObservations(in []*observationInput) ([]*domain.Observation, error) {
	if in == nil {
		return nil, nil
	}

	var errs validation.Errors
	out := make([]*domain.Observation, 0, len(in))
	for i, o := range in {
		row := i + 1
		if o == nil {
			errs = append(errs, validation.Error{Row: row, Column: "*", Message: "missing observation"})
			continue
		}
		if fieldErrs := validation.Struct(row, o); len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		out = append(out, &domain.Observation{
			GroupKey:    o.GroupKey,
			ParentKey:   o.ParentKey,
			TimestampMs: *o.TimestampMs,
			Price:       *o.Price,
			Attributes:  o.Attributes,
		})
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

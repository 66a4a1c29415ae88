// Package validation rejects malformed observations before they reach the band engine.
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"price-band-lab/internal/domain"
)

// ErrMalformedInput is matched by every validation failure.
var ErrMalformedInput = errors.New("malformed input")

// Error identifies one offending cell.
type Error struct {
	Row     int    `json:"row"`    // 1-based data row, 0 when not tied to a row
	Column  string `json:"column"` // source column or field name
	Message string `json:"message"`
}

func (e Error) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("column %s: %s", e.Column, e.Message)
	}
	return fmt.Sprintf("row %d column %s: %s", e.Row, e.Column, e.Message)
}

// Unwrap lets errors.Is match ErrMalformedInput.
func (e Error) Unwrap() error { return ErrMalformedInput }

// Errors collects every problem found in one table.
type Errors []Error

func (e Errors) Error() string {
	if len(e) == 0 {
		return ErrMalformedInput.Error()
	}
	msgs := make([]string, 0, len(e))
	for i, err := range e {
		if i == 5 {
			msgs = append(msgs, fmt.Sprintf("... %d more", len(e)-i))
			break
		}
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s", ErrMalformedInput, strings.Join(msgs, "; "))
}

// Unwrap lets errors.Is match ErrMalformedInput.
func (e Errors) Unwrap() error { return ErrMalformedInput }

// OrNil returns nil for an empty set.
func (e Errors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("finite", isFinite)

	// Report json names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func isFinite(fl validator.FieldLevel) bool {
	f := fl.Field().Float()
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Observations checks every observation and returns Errors listing all failures, or nil.
func Observations(obs []*domain.Observation) error {
	var errs Errors
	for i, o := range obs {
		if o == nil {
			errs = append(errs, Error{Row: i + 1, Column: "*", Message: "missing observation"})
			continue
		}
		errs = append(errs, Observation(i+1, o)...)
	}
	return errs.OrNil()
}

// Observation validates a single observation at the given row.
func Observation(row int, o *domain.Observation) Errors {
	return Struct(row, o)
}

// Struct validates any tagged struct, such as a wire form of an observation, and reports
// failures against row using json field names.
func Struct(row int, v any) Errors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Errors{{Row: row, Column: "*", Message: err.Error()}}
	}

	errs := make(Errors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, Error{Row: row, Column: fe.Field(), Message: describe(fe)})
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "value is required"
	case "finite":
		return "price must be a finite number"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"price-band-lab/internal/bands"
	"price-band-lab/internal/pipeline"
	"price-band-lab/internal/storage"
	"price-band-lab/internal/validation"
	"price-band-lab/internal/verification"
)

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer.
func (e *APIError) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func newError(status int, code, message string, details any) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: message, Details: details}
}

func errInvalidParameter(message string) *APIError {
	return newError(http.StatusBadRequest, "INVALID_PARAMETER", message, nil)
}

func errNotFound(resource string) *APIError {
	return newError(http.StatusNotFound, "NOT_FOUND", resource+" not found", nil)
}

// toAPIError maps domain errors to HTTP responses.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var rowErrs validation.Errors
	switch {
	case errors.As(err, &rowErrs):
		return newError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "observations failed validation", []validation.Error(rowErrs))
	case errors.Is(err, validation.ErrMalformedInput):
		return newError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
	case errors.Is(err, bands.ErrInvalidMultiplier), errors.Is(err, pipeline.ErrInvalidLevel),
		errors.Is(err, verification.ErrNotReplayable):
		return errInvalidParameter(err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return newError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, storage.ErrDuplicateKey):
		return newError(http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, pipeline.ErrNoSource):
		return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", err.Error(), nil)
	default:
		return newError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error", nil)
	}
}

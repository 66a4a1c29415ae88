package reporting

import (
	"time"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/metrics"
)

// Report describes one stored run.
type Report struct {
	GeneratedAt time.Time

	Run     *domain.Run
	Summary metrics.Summary

	// Rows outside the band, newest first, truncated to MaxOutOfBand
	OutOfBand      []*domain.BandRow
	OutOfBandTotal int
}

// MaxOutOfBand caps the out-of-band listing in a report.
const MaxOutOfBand = 50

package domain

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCached    RunStatus = "cached"
)

// Run records one band evaluation over a dataset.
// Corresponds to the band_runs table in PostgreSQL.
type Run struct {
	ID           string    `json:"id"`          // UUID
	Level        Level     `json:"level"`       // group or parent
	K            float64   `json:"k"`           // band multiplier
	Fingerprint  string    `json:"fingerprint"` // dataset fingerprint
	Source       string    `json:"source"`      // input path or "store"
	Selection    string    `json:"selection,omitempty"`
	Observations int       `json:"observations"` // after deduplication
	Duplicates   int       `json:"duplicates"`
	Rows         int       `json:"rows"`
	OutOfBand    int       `json:"out_of_band"`
	Status       RunStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
	StartedAtMs  int64     `json:"started_at_ms"`
	FinishedAtMs int64     `json:"finished_at_ms"`
}

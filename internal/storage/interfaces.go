package storage

import (
	"context"

	"price-band-lab/internal/domain"
)

// ObservationStore provides access to observations storage.
type ObservationStore interface {
	// InsertBulk adds multiple observations atomically. Fails entire batch on duplicate (group_key, timestamp_ms).
	InsertBulk(ctx context.Context, obs []*domain.Observation) error

	// GetAll retrieves every observation, ordered by (group_key, timestamp) ASC.
	GetAll(ctx context.Context) ([]*domain.Observation, error)

	// GetByGroupKey retrieves observations for one group, ordered by timestamp ASC.
	GetByGroupKey(ctx context.Context, groupKey string) ([]*domain.Observation, error)

	// GetByParentKey retrieves observations whose parent is parentKey, ordered by (group_key, timestamp) ASC.
	// Rows without an explicit parent match on their group key.
	GetByParentKey(ctx context.Context, parentKey string) ([]*domain.Observation, error)

	// GetByTimeRange retrieves observations within [start, end] (inclusive), ordered by (group_key, timestamp) ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Observation, error)

	// Keys lists distinct group or parent keys, sorted ASC.
	Keys(ctx context.Context, level domain.Level) ([]string, error)
}

// RunStore provides access to band_runs storage.
type RunStore interface {
	// Insert adds a run record. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, run *domain.Run) error

	// GetByID retrieves a run. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Run, error)

	// List retrieves the most recent runs, newest first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*domain.Run, error)
}

// BandStore provides access to band_rows storage.
type BandStore interface {
	// InsertBulk stores the rows of one run. Fails if the run already has rows.
	InsertBulk(ctx context.Context, runID string, rows []*domain.BandRow) error

	// GetByRun retrieves all rows of a run, ordered by (key, timestamp, group_key) ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.BandRow, error)

	// GetByRunAndKey retrieves rows of a run for one grouping key, ordered by (timestamp, group_key) ASC.
	GetByRunAndKey(ctx context.Context, runID, key string) ([]*domain.BandRow, error)
}

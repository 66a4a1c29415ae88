package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

const selectRuns = `
	SELECT id, level, k, fingerprint, source, selection, observations, duplicates,
	       rows_total, out_of_band, status, error, started_at_ms, finished_at_ms
	FROM band_runs
`

// Insert adds a run record. Returns ErrDuplicateKey if id exists.
func (s *RunStore) Insert(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO band_runs (
			id, level, k, fingerprint, source, selection, observations, duplicates,
			rows_total, out_of_band, status, error, started_at_ms, finished_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		run.ID,
		string(run.Level),
		run.K,
		run.Fingerprint,
		run.Source,
		run.Selection,
		run.Observations,
		run.Duplicates,
		run.Rows,
		run.OutOfBand,
		string(run.Status),
		run.Error,
		run.StartedAtMs,
		run.FinishedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	rows, err := s.pool.Query(ctx, selectRuns+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get run by id: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storage.ErrNotFound
	}
	return runs[0], nil
}

// List retrieves the most recent runs, newest first.
func (s *RunStore) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	query := selectRuns + ` ORDER BY started_at_ms DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// scanRuns scans multiple rows into a slice of Run.
func scanRuns(rows pgx.Rows) ([]*domain.Run, error) {
	var runs []*domain.Run

	for rows.Next() {
		var run domain.Run
		var level, status string

		err := rows.Scan(
			&run.ID,
			&level,
			&run.K,
			&run.Fingerprint,
			&run.Source,
			&run.Selection,
			&run.Observations,
			&run.Duplicates,
			&run.Rows,
			&run.OutOfBand,
			&status,
			&run.Error,
			&run.StartedAtMs,
			&run.FinishedAtMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		run.Level = domain.Level(level)
		run.Status = domain.RunStatus(status)
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

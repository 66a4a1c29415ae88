package clickhouse

import (
	"context"
	"fmt"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/storage"
)

// BandStore implements storage.BandStore using ClickHouse.
type BandStore struct {
	conn *Conn
}

// NewBandStore creates a new BandStore.
func NewBandStore(conn *Conn) *BandStore {
	return &BandStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BandStore = (*BandStore)(nil)

const selectBandRows = `
	SELECT key, group_key, parent_key, timestamp_ms, price, coarse_price,
	       center, center_alt, spread, lower, upper, prev_lower, prev_upper,
	       in_band, attributes
	FROM band_rows
`

// InsertBulk stores the rows of one run. Returns ErrDuplicateKey if the run already has rows.
// MergeTree does not enforce uniqueness, so the check is explicit.
func (s *BandStore) InsertBulk(ctx context.Context, runID string, rows []*domain.BandRow) error {
	if runID == "" {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if r == nil {
			return storage.ErrInvalidInput
		}
	}

	exists, err := s.exists(ctx, runID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO band_rows (
			run_id, key, group_key, parent_key, timestamp_ms, price, coarse_price,
			center, center_alt, spread, lower, upper, prev_lower, prev_upper,
			in_band, attributes, seq
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i, r := range rows {
		groupKey, parentKey := r.Key, ""
		attrs := map[string]string{}
		if r.Observation != nil {
			groupKey = r.Observation.GroupKey
			parentKey = r.Observation.ParentKey
			if r.Observation.Attributes != nil {
				attrs = r.Observation.Attributes
			}
		}

		var inBand uint8
		if r.InBand {
			inBand = 1
		}

		err = batch.Append(
			runID, r.Key, groupKey, parentKey, r.TimestampMs, r.Price,
			domain.Nullable(r.CoarsePrice),
			domain.Nullable(r.Center),
			domain.Nullable(r.CenterAlt),
			domain.Nullable(r.Spread),
			domain.Nullable(r.Lower),
			domain.Nullable(r.Upper),
			domain.Nullable(r.PrevLower),
			domain.Nullable(r.PrevUpper),
			inBand, attrs, uint32(i),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByRun retrieves all rows of a run, ordered by (key, timestamp, group_key) ASC.
func (s *BandStore) GetByRun(ctx context.Context, runID string) ([]*domain.BandRow, error) {
	query := selectBandRows + `
		WHERE run_id = ?
		ORDER BY key ASC, timestamp_ms ASC, group_key ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query by run: %w", err)
	}
	defer rows.Close()

	return scanBandRows(rows)
}

// GetByRunAndKey retrieves rows of a run for one grouping key.
func (s *BandStore) GetByRunAndKey(ctx context.Context, runID, key string) ([]*domain.BandRow, error) {
	query := selectBandRows + `
		WHERE run_id = ? AND key = ?
		ORDER BY timestamp_ms ASC, group_key ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, runID, key)
	if err != nil {
		return nil, fmt.Errorf("query by run and key: %w", err)
	}
	defer rows.Close()

	return scanBandRows(rows)
}

// exists checks if any row for the run exists.
func (s *BandStore) exists(ctx context.Context, runID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM band_rows WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanBandRows scans multiple rows.
func scanBandRows(rows chRows) ([]*domain.BandRow, error) {
	var result []*domain.BandRow

	for rows.Next() {
		var r domain.BandRow
		var o domain.Observation
		var coarse, center, centerAlt, spread *float64
		var lower, upper, prevLower, prevUpper *float64
		var inBand uint8
		var attrs map[string]string

		err := rows.Scan(
			&r.Key, &o.GroupKey, &o.ParentKey, &r.TimestampMs, &r.Price, &coarse,
			&center, &centerAlt, &spread, &lower, &upper, &prevLower, &prevUpper,
			&inBand, &attrs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan band row: %w", err)
		}

		o.TimestampMs = r.TimestampMs
		o.Price = r.Price
		if len(attrs) > 0 {
			o.Attributes = attrs
		}
		r.Observation = &o
		r.CoarsePrice = domain.FromNullable(coarse)
		r.Center = domain.FromNullable(center)
		r.CenterAlt = domain.FromNullable(centerAlt)
		r.Spread = domain.FromNullable(spread)
		r.Lower = domain.FromNullable(lower)
		r.Upper = domain.FromNullable(upper)
		r.PrevLower = domain.FromNullable(prevLower)
		r.PrevUpper = domain.FromNullable(prevUpper)
		r.InBand = inBand == 1

		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate band rows: %w", err)
	}

	return result, nil
}

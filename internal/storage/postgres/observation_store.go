package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/storage"
)

// ObservationStore implements storage.ObservationStore using PostgreSQL.
type ObservationStore struct {
	pool *Pool
}

// NewObservationStore creates a new ObservationStore.
func NewObservationStore(pool *Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ObservationStore = (*ObservationStore)(nil)

const selectObservations = `
	SELECT group_key, parent_key, timestamp_ms, price, attributes
	FROM observations
`

// InsertBulk adds multiple observations atomically. Fails entire batch on any duplicate.
func (s *ObservationStore) InsertBulk(ctx context.Context, obs []*domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	for _, o := range obs {
		if o == nil || o.GroupKey == "" {
			return storage.ErrInvalidInput
		}
	}

	query := `
		INSERT INTO observations (group_key, parent_key, timestamp_ms, price, attributes)
		VALUES ($1, $2, $3, $4, $5)
	`

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, o := range obs {
			attrs, err := encodeAttributes(o.Attributes)
			if err != nil {
				return err
			}
			batch.Queue(query, o.GroupKey, o.ParentKey, o.TimestampMs, o.Price, attrs)
		}

		results := tx.SendBatch(ctx, batch)
		for range obs {
			if _, err := results.Exec(); err != nil {
				results.Close()
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert observation in bulk: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
		return nil
	})
}

// GetAll retrieves every observation, ordered by (group_key, timestamp) ASC.
func (s *ObservationStore) GetAll(ctx context.Context) ([]*domain.Observation, error) {
	return s.query(ctx, "get all observations", selectObservations+`
		ORDER BY group_key ASC, timestamp_ms ASC
	`)
}

// GetByGroupKey retrieves observations for one group, ordered by timestamp ASC.
func (s *ObservationStore) GetByGroupKey(ctx context.Context, groupKey string) ([]*domain.Observation, error) {
	return s.query(ctx, "get observations by group key", selectObservations+`
		WHERE group_key = $1
		ORDER BY timestamp_ms ASC
	`, groupKey)
}

// GetByParentKey retrieves observations whose parent is parentKey.
func (s *ObservationStore) GetByParentKey(ctx context.Context, parentKey string) ([]*domain.Observation, error) {
	return s.query(ctx, "get observations by parent key", selectObservations+`
		WHERE COALESCE(NULLIF(parent_key, ''), group_key) = $1
		ORDER BY group_key ASC, timestamp_ms ASC
	`, parentKey)
}

// GetByTimeRange retrieves observations within [start, end] (inclusive).
func (s *ObservationStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Observation, error) {
	return s.query(ctx, "get observations by time range", selectObservations+`
		WHERE timestamp_ms >= $1 AND timestamp_ms <= $2
		ORDER BY group_key ASC, timestamp_ms ASC
	`, start, end)
}

// Keys lists distinct group or parent keys, sorted ASC.
func (s *ObservationStore) Keys(ctx context.Context, level domain.Level) ([]string, error) {
	var query string
	switch level {
	case domain.LevelGroup:
		query = `SELECT DISTINCT group_key FROM observations ORDER BY 1`
	case domain.LevelParent:
		query = `SELECT DISTINCT COALESCE(NULLIF(parent_key, ''), group_key) FROM observations ORDER BY 1`
	default:
		return nil, storage.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	return keys, nil
}

func (s *ObservationStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Observation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

func encodeAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return data, nil
}

// scanObservations scans multiple rows into a slice of Observation.
func scanObservations(rows pgx.Rows) ([]*domain.Observation, error) {
	var obs []*domain.Observation

	for rows.Next() {
		var o domain.Observation
		var attrs []byte

		if err := rows.Scan(&o.GroupKey, &o.ParentKey, &o.TimestampMs, &o.Price, &attrs); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}

		if len(attrs) > 0 {
			var m map[string]string
			if err := json.Unmarshal(attrs, &m); err != nil {
				return nil, fmt.Errorf("decode attributes: %w", err)
			}
			if len(m) > 0 {
				o.Attributes = m
			}
		}

		obs = append(obs, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}

	return obs, nil
}

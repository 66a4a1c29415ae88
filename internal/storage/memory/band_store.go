package memory

import (
	"context"
	"sort"
	"sync"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/storage"
)

// BandStore is an in-memory implementation of storage.BandStore.
type BandStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.BandRow // keyed by run id
}

// NewBandStore creates a new in-memory band store.
func NewBandStore() *BandStore {
	return &BandStore{
		data: make(map[string][]*domain.BandRow),
	}
}

// InsertBulk stores the rows of one run. Returns ErrDuplicateKey if the run already has rows.
func (s *BandStore) InsertBulk(_ context.Context, runID string, rows []*domain.BandRow) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[runID]; exists {
		return storage.ErrDuplicateKey
	}

	stored := make([]*domain.BandRow, len(rows))
	for i, r := range rows {
		rowCopy := *r
		if r.Observation != nil {
			rowCopy.Observation = copyObservation(r.Observation)
		}
		stored[i] = &rowCopy
	}
	sortBandRows(stored)
	s.data[runID] = stored

	return nil
}

// GetByRun retrieves all rows of a run, ordered by (key, timestamp, group_key) ASC.
func (s *BandStore) GetByRun(_ context.Context, runID string) ([]*domain.BandRow, error) {
	return s.filter(runID, func(*domain.BandRow) bool { return true }), nil
}

// GetByRunAndKey retrieves rows of a run for one grouping key.
func (s *BandStore) GetByRunAndKey(_ context.Context, runID, key string) ([]*domain.BandRow, error) {
	return s.filter(runID, func(r *domain.BandRow) bool { return r.Key == key }), nil
}

func (s *BandStore) filter(runID string, match func(*domain.BandRow) bool) []*domain.BandRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BandRow
	for _, r := range s.data[runID] {
		if match(r) {
			rowCopy := *r
			result = append(result, &rowCopy)
		}
	}
	return result
}

func sortBandRows(rows []*domain.BandRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Key != rows[j].Key {
			return rows[i].Key < rows[j].Key
		}
		if rows[i].TimestampMs != rows[j].TimestampMs {
			return rows[i].TimestampMs < rows[j].TimestampMs
		}
		return rows[i].GroupKey() < rows[j].GroupKey()
	})
}

var _ storage.BandStore = (*BandStore)(nil)

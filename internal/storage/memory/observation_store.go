package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/storage"
)

// ObservationStore is an in-memory implementation of storage.ObservationStore.
type ObservationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Observation // keyed by (group_key, timestamp_ms)
}

// NewObservationStore creates a new in-memory observation store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{
		data: make(map[string]*domain.Observation),
	}
}

// observationKey generates a unique key for an observation.
func observationKey(groupKey string, timestampMs int64) string {
	return fmt.Sprintf("%s|%d", groupKey, timestampMs)
}

// copyObservation detaches the attribute map from the caller.
func copyObservation(o *domain.Observation) *domain.Observation {
	c := *o
	if o.Attributes != nil {
		c.Attributes = make(map[string]string, len(o.Attributes))
		for k, v := range o.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// InsertBulk adds multiple observations. Fails entire batch on duplicate.
func (s *ObservationStore) InsertBulk(_ context.Context, obs []*domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(obs))

	// First pass: check for duplicates (existing + intra-batch)
	for _, o := range obs {
		if o == nil || o.GroupKey == "" {
			return storage.ErrInvalidInput
		}
		key := observationKey(o.GroupKey, o.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, o := range obs {
		s.data[observationKey(o.GroupKey, o.TimestampMs)] = copyObservation(o)
	}

	return nil
}

// GetAll retrieves every observation, ordered by (group_key, timestamp) ASC.
func (s *ObservationStore) GetAll(_ context.Context) ([]*domain.Observation, error) {
	return s.filter(func(*domain.Observation) bool { return true }), nil
}

// GetByGroupKey retrieves observations for one group, ordered by timestamp ASC.
func (s *ObservationStore) GetByGroupKey(_ context.Context, groupKey string) ([]*domain.Observation, error) {
	return s.filter(func(o *domain.Observation) bool { return o.GroupKey == groupKey }), nil
}

// GetByParentKey retrieves observations whose parent is parentKey.
func (s *ObservationStore) GetByParentKey(_ context.Context, parentKey string) ([]*domain.Observation, error) {
	return s.filter(func(o *domain.Observation) bool { return o.Parent() == parentKey }), nil
}

// GetByTimeRange retrieves observations within [start, end] (inclusive).
func (s *ObservationStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Observation, error) {
	return s.filter(func(o *domain.Observation) bool {
		return o.TimestampMs >= start && o.TimestampMs <= end
	}), nil
}

// Keys lists distinct group or parent keys, sorted ASC.
func (s *ObservationStore) Keys(_ context.Context, level domain.Level) ([]string, error) {
	if !level.Valid() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, o := range s.data {
		key := o.GroupKey
		if level == domain.LevelParent {
			key = o.Parent()
		}
		seen[key] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys, nil
}

func (s *ObservationStore) filter(match func(*domain.Observation) bool) []*domain.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Observation
	for _, o := range s.data {
		if match(o) {
			result = append(result, copyObservation(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].GroupKey != result[j].GroupKey {
			return result[i].GroupKey < result[j].GroupKey
		}
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result
}

var _ storage.ObservationStore = (*ObservationStore)(nil)

package bands

import (
	"sort"

	"price-band-lab/internal/domain"
)

// KeyFunc selects the partition key of an observation.
type KeyFunc func(o *domain.Observation) string

// Partition keys.
var (
	ByGroup  KeyFunc = func(o *domain.Observation) string { return o.GroupKey }
	ByParent KeyFunc = func(o *domain.Observation) string { return o.Parent() }
)

// SortObservations returns a copy of obs ordered by (group_key ASC, timestamp ASC).
// Ties keep input order.
func SortObservations(obs []*domain.Observation) []*domain.Observation {
	sorted := make([]*domain.Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareObservations(sorted[i], sorted[j]) < 0
	})
	return sorted
}

// SortRows returns a copy of rows ordered by (key ASC, timestamp ASC).
// Ties keep input order.
func SortRows(rows []*domain.BandRow) []*domain.BandRow {
	sorted := make([]*domain.BandRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Key != sorted[j].Key {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})
	return sorted
}

// Deduplicate keeps the first observation per (group_key, timestamp) after a stable sort
// and reports how many were dropped. The input slice is not modified.
func Deduplicate(obs []*domain.Observation) ([]*domain.Observation, int) {
	sorted := SortObservations(obs)

	kept := make([]*domain.Observation, 0, len(sorted))
	for _, o := range sorted {
		if n := len(kept); n > 0 && compareObservations(kept[n-1], o) == 0 {
			continue
		}
		kept = append(kept, o)
	}
	return kept, len(sorted) - len(kept)
}

// compareObservations returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareObservations(a, b *domain.Observation) int {
	if a.GroupKey != b.GroupKey {
		if a.GroupKey < b.GroupKey {
			return -1
		}
		return 1
	}
	if a.TimestampMs != b.TimestampMs {
		if a.TimestampMs < b.TimestampMs {
			return -1
		}
		return 1
	}
	return 0
}

type partition struct {
	key string
	obs []*domain.Observation
}

// partitionBy splits obs by key. Partitions are ordered by key, each sorted by timestamp
// with ties in input order.
func partitionBy(obs []*domain.Observation, key KeyFunc) []partition {
	index := make(map[string]int)
	var parts []partition
	for _, o := range obs {
		k := key(o)
		i, ok := index[k]
		if !ok {
			i = len(parts)
			index[k] = i
			parts = append(parts, partition{key: k})
		}
		parts[i].obs = append(parts[i].obs, o)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].key < parts[j].key })
	for _, p := range parts {
		sort.SliceStable(p.obs, func(i, j int) bool {
			return p.obs[i].TimestampMs < p.obs[j].TimestampMs
		})
	}
	return parts
}

package bands

import (
	"testing"

	"price-band-lab/internal/domain"
)

func TestDeduplicate_KeepsFirstAfterSort(t *testing.T) {
	obs := []*domain.Observation{
		{GroupKey: "A", TimestampMs: day(1), Price: 5},
		{GroupKey: "A", TimestampMs: day(0), Price: 10},
		{GroupKey: "A", TimestampMs: day(0), Price: 99},
		{GroupKey: "B", TimestampMs: day(0), Price: 1},
	}

	kept, dropped := Deduplicate(obs)

	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
	if len(kept) != 3 {
		t.Fatalf("expected 3 kept, got %d", len(kept))
	}
	if kept[0].TimestampMs != day(0) || kept[0].Price != 10 {
		t.Errorf("expected first-seen duplicate (price 10) kept, got %v", kept[0].Price)
	}
	if kept[1].TimestampMs != day(1) || kept[2].GroupKey != "B" {
		t.Error("expected output ordered by (group, timestamp)")
	}
	if obs[0].TimestampMs != day(1) {
		t.Error("input slice was reordered")
	}
}

func TestDeduplicate_FlaggedOutputHasOneRowPerKey(t *testing.T) {
	obs := []*domain.Observation{
		{GroupKey: "A", TimestampMs: day(0), Price: 10},
		{GroupKey: "A", TimestampMs: day(0), Price: 11},
		{GroupKey: "A", TimestampMs: day(1), Price: 12},
	}

	kept, _ := Deduplicate(obs)
	rows, err := FlagGroups(kept, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := 0
	for _, r := range rows {
		if r.Key == "A" && r.TimestampMs == day(0) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one row for (A, day 0), got %d", count)
	}
}

func TestDeduplicate_SameTimestampDifferentGroups(t *testing.T) {
	obs := []*domain.Observation{
		{GroupKey: "A", ParentKey: "P", TimestampMs: day(0), Price: 1},
		{GroupKey: "B", ParentKey: "P", TimestampMs: day(0), Price: 2},
	}

	kept, dropped := Deduplicate(obs)
	if dropped != 0 || len(kept) != 2 {
		t.Errorf("expected both kept, got %d kept / %d dropped", len(kept), dropped)
	}
}

func TestSortRows_StableWithinStep(t *testing.T) {
	rows := []*domain.BandRow{
		{Key: "P", TimestampMs: day(1), Price: 1},
		{Key: "P", TimestampMs: day(0), Price: 2},
		{Key: "P", TimestampMs: day(0), Price: 3},
	}

	sorted := SortRows(rows)
	if sorted[0].Price != 2 || sorted[1].Price != 3 || sorted[2].Price != 1 {
		t.Errorf("unexpected order: %v %v %v", sorted[0].Price, sorted[1].Price, sorted[2].Price)
	}
	if rows[0].Price != 1 {
		t.Error("input slice was reordered")
	}
}

package idhash

import (
	"testing"

	"price-band-lab/internal/domain"
)

func sampleObservations() []*domain.Observation {
	return []*domain.Observation{
		{GroupKey: "A", ParentKey: "P", TimestampMs: 1000, Price: 10.5},
		{GroupKey: "B", ParentKey: "P", TimestampMs: 1000, Price: 11},
		{GroupKey: "A", ParentKey: "P", TimestampMs: 2000, Price: 12},
	}
}

func TestDatasetFingerprint(t *testing.T) {
	obs := sampleObservations()

	got := DatasetFingerprint(obs)
	if len(got) != 64 {
		t.Errorf("DatasetFingerprint() length = %d, want 64", len(got))
	}

	// Verify determinism: same inputs should produce same output
	if again := DatasetFingerprint(sampleObservations()); again != got {
		t.Errorf("DatasetFingerprint() not deterministic: %s != %s", got, again)
	}
}

func TestDatasetFingerprint_OrderIndependent(t *testing.T) {
	obs := sampleObservations()
	reversed := []*domain.Observation{obs[2], obs[1], obs[0]}

	if DatasetFingerprint(obs) != DatasetFingerprint(reversed) {
		t.Error("expected fingerprint to ignore input order")
	}
}

func TestDatasetFingerprint_Attributes(t *testing.T) {
	base := DatasetFingerprint(sampleObservations())

	sp := sampleObservations()
	sp[0].Attributes = map[string]string{"UF": "SP", "FONTE": "CEASA"}
	if DatasetFingerprint(sp) == base {
		t.Error("expected attributes to change the fingerprint")
	}

	rj := sampleObservations()
	rj[0].Attributes = map[string]string{"UF": "RJ", "FONTE": "CEASA"}
	if DatasetFingerprint(rj) == DatasetFingerprint(sp) {
		t.Error("expected a different attribute value to change the fingerprint")
	}

	again := sampleObservations()
	again[0].Attributes = map[string]string{"FONTE": "CEASA", "UF": "SP"}
	if DatasetFingerprint(again) != DatasetFingerprint(sp) {
		t.Error("expected attribute map order to be irrelevant")
	}

	empty := sampleObservations()
	empty[0].Attributes = map[string]string{}
	if DatasetFingerprint(empty) != base {
		t.Error("expected an empty attribute map to hash like a nil one")
	}
}

func TestDatasetFingerprint_SeparatorInKeys(t *testing.T) {
	tests := []struct {
		name string
		a, b []*domain.Observation
	}{
		{
			name: "pipe in group and parent",
			a:    []*domain.Observation{{GroupKey: "A|B", ParentKey: "C", TimestampMs: 1, Price: 1}},
			b:    []*domain.Observation{{GroupKey: "A", ParentKey: "B|C", TimestampMs: 1, Price: 1}},
		},
		{
			name: "attribute boundary",
			a:    []*domain.Observation{{GroupKey: "A", TimestampMs: 1, Price: 1, Attributes: map[string]string{"ab": "c"}}},
			b:    []*domain.Observation{{GroupKey: "A", TimestampMs: 1, Price: 1, Attributes: map[string]string{"a": "bc"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if DatasetFingerprint(tt.a) == DatasetFingerprint(tt.b) {
				t.Error("expected distinct datasets to produce distinct fingerprints")
			}
		})
	}
}

func TestDatasetFingerprint_Differs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *domain.Observation)
	}{
		{"price", func(o *domain.Observation) { o.Price = 10.50001 }},
		{"timestamp", func(o *domain.Observation) { o.TimestampMs++ }},
		{"group", func(o *domain.Observation) { o.GroupKey = "C" }},
		{"parent", func(o *domain.Observation) { o.ParentKey = "Q" }},
		{"attribute", func(o *domain.Observation) { o.Attributes = map[string]string{"UF": "SP"} }},
	}

	base := DatasetFingerprint(sampleObservations())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := sampleObservations()
			tt.mutate(obs[0])
			if DatasetFingerprint(obs) == base {
				t.Errorf("expected different fingerprint after changing %s", tt.name)
			}
		})
	}
}

func TestDatasetFingerprint_ParentDefaultsToGroup(t *testing.T) {
	explicit := []*domain.Observation{{GroupKey: "A", ParentKey: "A", TimestampMs: 1, Price: 1}}
	implicit := []*domain.Observation{{GroupKey: "A", TimestampMs: 1, Price: 1}}

	if DatasetFingerprint(explicit) != DatasetFingerprint(implicit) {
		t.Error("expected empty parent to hash like parent == group")
	}
}

func TestRunKey(t *testing.T) {
	fp := DatasetFingerprint(sampleObservations())

	group := RunKey(fp, domain.LevelGroup, 2)
	if len(group) != 64 {
		t.Errorf("RunKey() length = %d, want 64", len(group))
	}
	if group == RunKey(fp, domain.LevelParent, 2) {
		t.Error("expected level to change the run key")
	}
	if group == RunKey(fp, domain.LevelGroup, 2.5) {
		t.Error("expected multiplier to change the run key")
	}
	if group != RunKey(fp, domain.LevelGroup, 2) {
		t.Error("expected RunKey to be deterministic")
	}
}

package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/metrics"
	"price-band-lab/internal/storage"
	"price-band-lab/internal/storage/memory"
)

var baseDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

const dayMs = int64(24 * time.Hour / time.Millisecond)

func sampleRows() []*domain.BandRow {
	nan := math.NaN()
	return []*domain.BandRow{
		{
			Observation: &domain.Observation{GroupKey: "A", ParentKey: "P", TimestampMs: baseDay, Price: 10, Attributes: map[string]string{"UF": "SP"}},
			Key:         "A", TimestampMs: baseDay, Price: 10,
			CoarsePrice: nan, Center: 10, CenterAlt: 10, Spread: nan,
			Lower: nan, Upper: nan, PrevLower: nan, PrevUpper: nan,
		},
		{
			Observation: &domain.Observation{GroupKey: "A", ParentKey: "P", TimestampMs: baseDay + dayMs, Price: 12},
			Key:         "A", TimestampMs: baseDay + dayMs, Price: 12,
			CoarsePrice: nan, Center: 11, CenterAlt: 11, Spread: math.Sqrt2,
			Lower: 8, Upper: 14, PrevLower: nan, PrevUpper: nan,
		},
		{
			Observation: &domain.Observation{GroupKey: "A", ParentKey: "P", TimestampMs: baseDay + 2*dayMs, Price: 30},
			Key:         "A", TimestampMs: baseDay + 2*dayMs, Price: 30,
			CoarsePrice: nan, Center: 17, CenterAlt: 12, Spread: 10,
			Lower: -3, Upper: 37, PrevLower: 8, PrevUpper: 14,
		},
	}
}

func TestWriteBandsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBandsCSV(&buf, sampleRows()); err != nil {
		t.Fatalf("WriteBandsCSV failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("Expected header + 3 rows, got %d", len(records))
	}

	header := records[0]
	if header[len(header)-1] != "UF" {
		t.Errorf("Expected attribute column last, got %v", header)
	}

	first := records[1]
	if first[0] != "A" || first[1] != "P" || first[3] != "2024-03-01" {
		t.Errorf("Unexpected leading cells: %v", first[:4])
	}
	if first[9] != "" || first[12] != "" {
		t.Errorf("Expected empty cells for undefined statistics, got spread=%q prev_lower=%q", first[9], first[12])
	}
	if first[14] != "false" || first[15] != "SP" {
		t.Errorf("Unexpected trailing cells: %v", first[14:])
	}

	third := records[3]
	if third[12] != "8" || third[13] != "14" || third[15] != "" {
		t.Errorf("Unexpected third row: %v", third)
	}
}

func TestWriteSummaryCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummaryCSV(&buf, metrics.Summarize(sampleRows())); err != nil {
		t.Fatalf("WriteSummaryCSV failed: %v", err)
	}

	want := "group_key,count,out_of_band,mean,stddev,cv\n"
	if !strings.HasPrefix(buf.String(), want) {
		t.Errorf("Unexpected header: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "A,3,3,") {
		t.Errorf("Expected A with 3 prices all outside band, got %q", buf.String())
	}
}

func TestWriteSummaryCSV_WithholdsCountsWhenNotEvaluable(t *testing.T) {
	rows := sampleRows()[:2]

	var buf bytes.Buffer
	if err := WriteSummaryCSV(&buf, metrics.Summarize(rows)); err != nil {
		t.Fatalf("WriteSummaryCSV failed: %v", err)
	}
	if !strings.Contains(buf.String(), "A,2,,") {
		t.Errorf("Expected empty out_of_band cell, got %q", buf.String())
	}
}

func setupStores(t *testing.T) (*memory.RunStore, *memory.BandStore) {
	t.Helper()
	ctx := context.Background()

	runs := memory.NewRunStore()
	bandStore := memory.NewBandStore()

	run := &domain.Run{
		ID: "run-1", Level: domain.LevelGroup, K: 2, Source: "prices.csv",
		Observations: 3, Status: domain.RunStatusSucceeded,
	}
	if err := runs.Insert(ctx, run); err != nil {
		t.Fatalf("Insert run failed: %v", err)
	}
	if err := bandStore.InsertBulk(ctx, "run-1", sampleRows()); err != nil {
		t.Fatalf("Insert rows failed: %v", err)
	}
	return runs, bandStore
}

func TestGenerate_WithClock(t *testing.T) {
	runs, bandStore := setupStores(t)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	report, err := NewGenerator(runs, bandStore).
		WithClock(func() time.Time { return fixed }).
		Generate(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !report.GeneratedAt.Equal(fixed) {
		t.Errorf("Expected injected clock, got %v", report.GeneratedAt)
	}
	if report.Run.ID != "run-1" || report.Summary.Total != 3 {
		t.Errorf("Unexpected report: run=%s total=%d", report.Run.ID, report.Summary.Total)
	}
	if report.OutOfBandTotal != 3 || report.OutOfBand[0].Price != 30 {
		t.Errorf("Expected newest out-of-band row first, got %d rows", report.OutOfBandTotal)
	}
}

func TestGenerate_UnknownRun(t *testing.T) {
	runs, bandStore := setupStores(t)

	_, err := NewGenerator(runs, bandStore).Generate(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRenderMarkdown_Deterministic(t *testing.T) {
	runs, bandStore := setupStores(t)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gen := NewGenerator(runs, bandStore).WithClock(func() time.Time { return fixed })

	r1, _ := gen.Generate(context.Background(), "run-1")
	r2, _ := gen.Generate(context.Background(), "run-1")

	md := RenderMarkdown(r1)
	if md != RenderMarkdown(r2) {
		t.Error("Expected identical markdown for identical input")
	}

	for _, section := range []string{"# Price Band Report", "## Run", "## Band Totals", "## Groups", "## Prices Outside the Band"} {
		if !strings.Contains(md, section) {
			t.Errorf("Missing section %q", section)
		}
	}
	if !strings.Contains(md, "| 2024-03-03 | A | 30.0000 | 8.0000 | 14.0000 |") {
		t.Errorf("Expected out-of-band row in listing:\n%s", md)
	}
}

func TestRenderMarkdown_NotEvaluable(t *testing.T) {
	report := &Report{Summary: metrics.Summarize(sampleRows()[:1])}

	md := RenderMarkdown(report)
	if !strings.Contains(md, "withheld") {
		t.Errorf("Expected withheld notice, got:\n%s", md)
	}
	if strings.Contains(md, "## Prices Outside the Band") {
		t.Error("Expected no out-of-band listing before any band is defined")
	}
}

package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/metrics"
)

var bandsHeader = []string{
	"group_key", "parent_key", "key", "date", "timestamp_ms", "price", "coarse_price",
	"center", "center_alt", "spread", "lower", "upper", "prev_lower", "prev_upper", "in_band",
}

// WriteBandsCSV writes one line per row in the given order.
// Undefined statistics are empty cells. Attribute columns follow, sorted by name.
func WriteBandsCSV(w io.Writer, rows []*domain.BandRow) error {
	attrCols := attributeColumns(rows)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, bandsHeader...), attrCols...)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range rows {
		parent := ""
		var attrs map[string]string
		if r.Observation != nil {
			parent = r.Observation.Parent()
			attrs = r.Observation.Attributes
		}

		record := []string{
			r.GroupKey(),
			parent,
			r.Key,
			formatDate(r.TimestampMs),
			strconv.FormatInt(r.TimestampMs, 10),
			csvFloat(r.Price),
			csvFloat(r.CoarsePrice),
			csvFloat(r.Center),
			csvFloat(r.CenterAlt),
			csvFloat(r.Spread),
			csvFloat(r.Lower),
			csvFloat(r.Upper),
			csvFloat(r.PrevLower),
			csvFloat(r.PrevUpper),
			strconv.FormatBool(r.InBand),
		}
		for _, col := range attrCols {
			record = append(record, attrs[col])
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSummaryCSV writes the per-group summary table.
func WriteSummaryCSV(w io.Writer, s metrics.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"group_key", "count", "out_of_band", "mean", "stddev", "cv"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, g := range s.Groups {
		outside := ""
		if s.Evaluable {
			outside = strconv.Itoa(g.OutOfBand)
		}
		record := []string{
			g.GroupKey,
			strconv.Itoa(g.Count),
			outside,
			csvFloat(g.Mean),
			csvFloat(g.Stddev),
			csvFloat(g.CV),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func attributeColumns(rows []*domain.BandRow) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		if r.Observation == nil {
			continue
		}
		for k := range r.Observation.Attributes {
			seen[k] = struct{}{}
		}
	}

	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func csvFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

package reporting

import (
	"fmt"
	"math"
	"strings"
	"time"

	"price-band-lab/internal/domain"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Price Band Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Run
	if r.Run != nil {
		sb.WriteString("## Run\n\n")
		sb.WriteString("| Field | Value |\n")
		sb.WriteString("|-------|-------|\n")
		sb.WriteString(fmt.Sprintf("| ID | %s |\n", r.Run.ID))
		sb.WriteString(fmt.Sprintf("| Level | %s |\n", r.Run.Level))
		sb.WriteString(fmt.Sprintf("| k | %s |\n", formatFloat(r.Run.K)))
		sb.WriteString(fmt.Sprintf("| Source | %s |\n", r.Run.Source))
		if r.Run.Selection != "" {
			sb.WriteString(fmt.Sprintf("| Selection | %s |\n", r.Run.Selection))
		}
		sb.WriteString(fmt.Sprintf("| Observations | %d |\n", r.Run.Observations))
		sb.WriteString(fmt.Sprintf("| Duplicates Dropped | %d |\n", r.Run.Duplicates))
		sb.WriteString(fmt.Sprintf("| Status | %s |\n", r.Run.Status))
		sb.WriteString("\n")
	}

	// Totals
	s := r.Summary
	sb.WriteString("## Band Totals\n\n")
	if !s.Evaluable {
		sb.WriteString("No row has a defined previous band yet. Out-of-band counts are withheld.\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("Prices one step ahead **inside** the band: %d\n\n", s.InBand))
		sb.WriteString(fmt.Sprintf("Prices one step ahead **outside** the band: %d (of which %d without a previous band)\n\n",
			s.OutOfBand, s.Pending))
	}

	// Per group
	sb.WriteString("## Groups\n\n")
	sb.WriteString("| Group | Prices | Outside Band | Mean | Std Dev | CV |\n")
	sb.WriteString("|-------|--------|--------------|------|---------|----|\n")
	for _, g := range s.Groups {
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %s | %s | %s |\n",
			g.GroupKey, g.Count, g.OutOfBand,
			formatFloat(g.Mean), formatFloat(g.Stddev), formatFloat(g.CV)))
	}
	sb.WriteString("\n")

	// Out of band listing
	if s.Evaluable && len(r.OutOfBand) > 0 {
		sb.WriteString("## Prices Outside the Band\n\n")
		sb.WriteString("| Date | Group | Price | Previous Lower | Previous Upper |\n")
		sb.WriteString("|------|-------|-------|----------------|----------------|\n")
		for _, row := range r.OutOfBand {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				formatDate(row.TimestampMs), row.GroupKey(), formatFloat(row.Price),
				formatFloat(row.PrevLower), formatFloat(row.PrevUpper)))
		}
		if r.OutOfBandTotal > len(r.OutOfBand) {
			sb.WriteString(fmt.Sprintf("\n%d more rows not shown.\n", r.OutOfBandTotal-len(r.OutOfBand)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}

func formatDate(ms int64) string {
	return (&domain.Observation{TimestampMs: ms}).Time().Format("2006-01-02")
}

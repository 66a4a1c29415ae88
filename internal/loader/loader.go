// Package loader reads price observation tables from CSV and XLSX files.
//
// Timestamps are dates: each parses to the start of its calendar day in UTC, and a value
// with a time of day other than midnight is a malformed cell.
package loader

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"price-band-lab/internal/domain"
	"price-band-lab/internal/validation"
)

// Columns maps source headers to observation fields.
type Columns struct {
	Group     string `yaml:"group" envconfig:"GROUP"`
	Parent    string `yaml:"parent" envconfig:"PARENT"`
	Timestamp string `yaml:"timestamp" envconfig:"TIMESTAMP"`
	Price     string `yaml:"price" envconfig:"PRICE"`
}

// DefaultColumns returns the column names used by the price survey exports.
func DefaultColumns() Columns {
	return Columns{
		Group:     "INS_INF",
		Parent:    "INSUMO",
		Timestamp: "DATA_PRECO",
		Price:     "PRECO",
	}
}

// DefaultDateLayouts are tried in order when parsing the timestamp column.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2/1/2006",
	"01-02-06",
}

// Options controls parsing.
type Options struct {
	Columns     Columns
	DateLayouts []string // defaults to DefaultDateLayouts
	Comma       rune     // CSV delimiter, defaults to ','
	Sheet       string   // XLSX sheet, defaults to the first sheet
}

func (o Options) withDefaults() Options {
	if o.Columns == (Columns{}) {
		o.Columns = DefaultColumns()
	}
	if len(o.DateLayouts) == 0 {
		o.DateLayouts = DefaultDateLayouts
	}
	if o.Comma == 0 {
		o.Comma = ','
	}
	return o
}

// ReadFile loads observations from path, choosing the parser by extension.
func ReadFile(path string, opts Options) ([]*domain.Observation, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return ReadCSVFile(path, opts)
	case ".xlsx", ".xlsm":
		return ReadXLSX(path, opts)
	default:
		return nil, fmt.Errorf("unsupported input format %q", filepath.Ext(path))
	}
}

// fromRecords converts a header plus data records into observations.
// Every problem is collected; the table is rejected as a whole.
func fromRecords(header []string, records [][]string, opts Options) ([]*domain.Observation, error) {
	cols := opts.Columns

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	var errs validation.Errors
	for _, required := range []string{cols.Group, cols.Timestamp, cols.Price} {
		if _, ok := index[required]; !ok {
			errs = append(errs, validation.Error{Column: required, Message: "required column missing"})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	parentIdx, hasParent := index[cols.Parent]

	mapped := map[int]bool{index[cols.Group]: true, index[cols.Timestamp]: true, index[cols.Price]: true}
	if hasParent {
		mapped[parentIdx] = true
	}

	obs := make([]*domain.Observation, 0, len(records))
	for n, rec := range records {
		row := n + 1
		if isBlank(rec) {
			continue
		}

		o := &domain.Observation{
			GroupKey: cell(rec, index[cols.Group]),
		}
		if hasParent {
			o.ParentKey = cell(rec, parentIdx)
		}

		price, err := parsePrice(cell(rec, index[cols.Price]))
		if err != nil {
			errs = append(errs, validation.Error{Row: row, Column: cols.Price, Message: err.Error()})
		}
		o.Price = price

		ts, err := parseDate(cell(rec, index[cols.Timestamp]), opts.DateLayouts)
		if err != nil {
			errs = append(errs, validation.Error{Row: row, Column: cols.Timestamp, Message: err.Error()})
		}
		o.TimestampMs = ts

		for i, h := range header {
			if mapped[i] || h == "" {
				continue
			}
			if o.Attributes == nil {
				o.Attributes = make(map[string]string, len(header))
			}
			o.Attributes[h] = cell(rec, i)
		}

		for _, fe := range validation.Observation(row, o) {
			// Report source column names
			switch fe.Column {
			case "group_key":
				fe.Column = cols.Group
			case "price":
				continue // already reported by parsePrice
			}
			errs = append(errs, fe)
		}

		obs = append(obs, o)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return obs, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("price is empty")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("price %q is not a number", s)
	}
	return v, nil
}

// parseDate accepts the configured layouts and spreadsheet serial dates and returns the
// start of the calendar day in UTC. Observations are daily: a value carrying a time of day
// other than midnight is rejected rather than truncated, since truncation would merge
// same-day readings into duplicates.
func parseDate(s string, layouts []string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("date is empty")
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
			return 0, fmt.Errorf("date %q has a time of day; observations must be daily", s)
		}
		return domain.DayMs(t), nil
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		if serial != math.Trunc(serial) {
			return 0, fmt.Errorf("date %q has a time of day; observations must be daily", s)
		}
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return domain.DayMs(t), nil
		}
	}
	return 0, fmt.Errorf("date %q does not match any known layout", s)
}

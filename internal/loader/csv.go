package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"price-band-lab/internal/domain"
)

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string, opts Options) ([]*domain.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	return ReadCSV(f, opts)
}

// ReadCSV parses a delimited table with a header row.
func ReadCSV(r io.Reader, opts Options) ([]*domain.Observation, error) {
	opts = opts.withDefaults()

	reader := csv.NewReader(r)
	reader.Comma = opts.Comma
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read csv header: empty input")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv records: %w", err)
	}

	return fromRecords(header, records, opts)
}

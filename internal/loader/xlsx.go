package loader

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"price-band-lab/internal/domain"
)

// ReadXLSX parses one sheet of a workbook. The first row is the header.
func ReadXLSX(path string, opts Options) ([]*domain.Observation, error) {
	opts = opts.withDefaults()

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	return fromRecords(rows[0], rows[1:], opts)
}

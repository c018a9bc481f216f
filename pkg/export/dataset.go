package export

import "fmt"

// Dataset is a positional table. Headers may repeat, so rows are slices
// aligned with Headers rather than maps keyed by header.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
	// Notes are free-form summary lines printed after the table.
	Notes []string
}

// Validate reports a dataset that cannot be rendered.
func (d Dataset) Validate() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("dataset requires at least one header")
	}
	for i, row := range d.Rows {
		if len(row) > len(d.Headers) {
			return fmt.Errorf("row %d has %d cells for %d headers", i+1, len(row), len(d.Headers))
		}
	}
	return nil
}

// cell returns row[i] or an empty string for short rows.
func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

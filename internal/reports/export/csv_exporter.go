package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// CSVExporter writes result rows as RFC 4180 CSV. Fields containing the
// delimiter, a quote or a line break are quoted and embedded quotes doubled.
type CSVExporter struct {
	writer        *csv.Writer
	options       CSVOptions
	headerWritten bool
	rowCount      int
}

// CSVOptions configures CSV export behavior
type CSVOptions struct {
	Delimiter     rune   `json:"delimiter"`      // Field delimiter (default: comma)
	UseCRLF       bool   `json:"use_crlf"`       // Use \r\n for line terminator
	IncludeHeader bool   `json:"include_header"` // Include column headers
	NullValue     string `json:"null_value"`     // Written for columns a row does not carry
}

// DefaultCSVOptions returns default CSV export options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:     ',',
		UseCRLF:       false,
		IncludeHeader: true,
		NullValue:     "",
	}
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(w io.Writer, options CSVOptions) *CSVExporter {
	writer := csv.NewWriter(w)
	if options.Delimiter != 0 {
		writer.Comma = options.Delimiter
	}
	writer.UseCRLF = options.UseCRLF

	return &CSVExporter{
		writer:  writer,
		options: options,
	}
}

// WriteHeader writes the CSV header row
func (e *CSVExporter) WriteHeader(columns []string) error {
	if !e.options.IncludeHeader || e.headerWritten {
		return nil
	}
	if err := e.writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	e.headerWritten = true
	return nil
}

// WriteRow writes a single row in the given column order
func (e *CSVExporter) WriteRow(row Row, columns []string) error {
	record := make([]string, len(columns))
	present := make(map[string]struct{}, len(columns))
	for _, c := range row.Columns() {
		present[c] = struct{}{}
	}
	for i, col := range columns {
		if _, ok := present[col]; !ok {
			record[i] = e.options.NullValue
			continue
		}
		record[i] = row.Value(col)
	}
	if err := e.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	e.rowCount++
	return nil
}

// WriteTable writes the header followed by every row. A table without columns
// produces no output.
func (e *CSVExporter) WriteTable(t Table) error {
	if len(t.Columns) == 0 {
		return nil
	}
	if err := e.WriteHeader(t.Columns); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := e.WriteRow(row, t.Columns); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer
func (e *CSVExporter) Flush() error {
	e.writer.Flush()
	return e.writer.Error()
}

// RowCount returns the number of data rows written
func (e *CSVExporter) RowCount() int {
	return e.rowCount
}

// Serialize renders rows as CSV bytes. columns fixes the column order; when
// empty, columns appear in the order they are first seen in rows.
func Serialize[R Row](rows []R, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	e := NewCSVExporter(&buf, DefaultCSVOptions())
	if err := e.WriteTable(NewTable("", rows, columns)); err != nil {
		return nil, err
	}
	if err := e.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

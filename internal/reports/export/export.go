package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ParseFormat parses a format name, defaulting to CSV
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Extension returns the file extension of the format, without the dot
func (f Format) Extension() string {
	if f == "" {
		return string(FormatCSV)
	}
	return string(f)
}

// Row is a result row with named, ordered columns
type Row interface {
	Value(column string) string
	Columns() []string
}

// Table is an in-memory result set ready to be rendered
type Table struct {
	Title    string
	Subtitle string
	Columns  []string
	Rows     []Row
}

// NewTable builds a table. When columns is empty the column order is the order
// in which columns first appear in rows.
func NewTable[R Row](title string, rows []R, columns []string) Table {
	t := Table{Title: title, Rows: make([]Row, len(rows))}
	for i, r := range rows {
		t.Rows[i] = r
	}
	if len(columns) > 0 {
		t.Columns = append([]string(nil), columns...)
	} else {
		t.Columns = ColumnOrder(t.Rows)
	}
	return t
}

// ColumnOrder returns the columns of rows in first-seen order
func ColumnOrder(rows []Row) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range rows {
		for _, c := range r.Columns() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	return cols
}

// records flattens the table into string records in column order
func (t Table) records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			rec[j] = r.Value(c)
		}
		out[i] = rec
	}
	return out
}

// Render writes the table to w in the given format
func Render(w io.Writer, format Format, t Table) error {
	switch format {
	case FormatCSV, "":
		e := NewCSVExporter(w, DefaultCSVOptions())
		if err := e.WriteTable(t); err != nil {
			return err
		}
		return e.Flush()
	case FormatXLSX:
		e := NewExcelExporter(DefaultExcelOptions())
		defer e.Close()
		if err := e.WriteTable(t); err != nil {
			return err
		}
		return e.WriteTo(w)
	case FormatPDF:
		opts := DefaultPDFOptions()
		if t.Title != "" {
			opts.Title = t.Title
		}
		opts.Subtitle = t.Subtitle
		if len(t.Columns) > 6 {
			opts.Orientation = "landscape"
		}
		g := NewPDFGenerator(opts)
		if err := g.GenerateTable(t); err != nil {
			return err
		}
		return g.WriteTo(w)
	default:
		return fmt.Errorf("unsupported export format: %q", format)
	}
}

// Bytes renders the table into memory
func Bytes(format Format, t Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, format, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

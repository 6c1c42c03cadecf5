package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter exports result tables to an XLSX workbook
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
}

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName     string            `json:"sheet_name"`
	FreezeHeader  bool              `json:"freeze_header"`
	AutoFilter    bool              `json:"auto_filter"`
	AutoWidth     bool              `json:"auto_width"`
	NumericCells  bool              `json:"numeric_cells"` // Store integer strings as numbers
	HeaderStyle   *ExcelStyleConfig `json:"header_style,omitempty"`
	DataStyle     *ExcelStyleConfig `json:"data_style,omitempty"`
	MinColumnSize float64           `json:"min_column_size"`
	MaxColumnSize float64           `json:"max_column_size"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"` // left, center, right
	Border    bool   `json:"border"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:     "Report",
		FreezeHeader:  true,
		AutoFilter:    true,
		AutoWidth:     true,
		NumericCells:  true,
		MinColumnSize: 10,
		MaxColumnSize: 50,
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "4472C4",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
		DataStyle: &ExcelStyleConfig{
			FontSize:  11,
			Alignment: "left",
			Border:    true,
		},
	}
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	if options.SheetName == "" {
		options.SheetName = "Sheet1"
	}
	_ = file.SetSheetName("Sheet1", options.SheetName)

	return &ExcelExporter{
		file:    file,
		options: options,
	}
}

// WriteTable writes the header and rows of t to the sheet
func (e *ExcelExporter) WriteTable(t Table) error {
	if len(t.Columns) == 0 {
		return nil
	}
	sheet := e.options.SheetName

	headerStyle, err := e.createStyle(e.options.HeaderStyle)
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	dataStyle, err := e.createStyle(e.options.DataStyle)
	if err != nil {
		return fmt.Errorf("failed to create data style: %w", err)
	}

	widths := make([]int, len(t.Columns))
	header := make([]interface{}, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = col
		widths[i] = utf8.RuneCountInString(col)
	}
	if err := e.file.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, rec := range t.records() {
		cells := make([]interface{}, len(rec))
		for j, v := range rec {
			cells[j] = e.cellValue(v)
			if n := utf8.RuneCountInString(v); n > widths[j] {
				widths[j] = n
			}
		}
		start, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := e.file.SetSheetRow(sheet, start, &cells); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(t.Columns))
	if headerStyle > 0 {
		_ = e.file.SetCellStyle(sheet, "A1", lastCol+"1", headerStyle)
	}
	if dataStyle > 0 && len(t.Rows) > 0 {
		_ = e.file.SetCellStyle(sheet, "A2", lastCol+strconv.Itoa(len(t.Rows)+1), dataStyle)
	}

	if e.options.FreezeHeader {
		_ = e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}

	if e.options.AutoFilter && len(t.Rows) > 0 {
		if err := e.file.AutoFilter(sheet, "A1:"+lastCol+"1", nil); err != nil {
			return fmt.Errorf("failed to set auto filter: %w", err)
		}
	}

	if e.options.AutoWidth {
		for i, w := range widths {
			col, _ := excelize.ColumnNumberToName(i + 1)
			_ = e.file.SetColWidth(sheet, col, col, e.clampWidth(float64(w)*1.2))
		}
	}
	return nil
}

// WriteTo writes the workbook to a writer
func (e *ExcelExporter) WriteTo(w io.Writer) error {
	return e.file.Write(w)
}

// Close closes the workbook
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}

// cellValue keeps display strings verbatim except plain integers, which are
// stored as numbers so spreadsheets can sum them. Phone numbers and ids with
// a leading zero or plus sign stay text.
func (e *ExcelExporter) cellValue(v string) interface{} {
	if !e.options.NumericCells || v == "" || strings.HasPrefix(v, "+") || (strings.HasPrefix(v, "0") && len(v) > 1) {
		return v
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return v
}

func (e *ExcelExporter) clampWidth(w float64) float64 {
	if e.options.MinColumnSize > 0 && w < e.options.MinColumnSize {
		return e.options.MinColumnSize
	}
	if e.options.MaxColumnSize > 0 && w > e.options.MaxColumnSize {
		return e.options.MaxColumnSize
	}
	return w
}

// createStyle creates an Excel style from config; 0 means no style
func (e *ExcelExporter) createStyle(config *ExcelStyleConfig) (int, error) {
	if config == nil {
		return 0, nil
	}
	style := &excelize.Style{
		Font: &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		},
	}
	if config.FillColor != "" {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{config.FillColor},
		}
	}
	if config.Alignment != "" {
		style.Alignment = &excelize.Alignment{Horizontal: config.Alignment}
	}
	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}
	return e.file.NewStyle(style)
}

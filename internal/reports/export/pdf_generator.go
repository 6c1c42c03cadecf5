package export

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFGenerator renders result tables as a paginated PDF
type PDFGenerator struct {
	pdf     *gofpdf.Fpdf
	options PDFOptions
}

// PDFOptions configures PDF generation
type PDFOptions struct {
	PageSize       string     `json:"page_size"`   // A4, Letter, Legal
	Orientation    string     `json:"orientation"` // portrait, landscape
	Title          string     `json:"title"`
	Subtitle       string     `json:"subtitle,omitempty"`
	DateFormat     string     `json:"date_format"`
	IncludePageNum bool       `json:"include_page_num"`
	IncludeDate    bool       `json:"include_date"`
	HeaderColor    PDFColor   `json:"header_color"`
	AlternateRows  bool       `json:"alternate_rows"`
	AlternateColor PDFColor   `json:"alternate_color"`
	FontFamily     string     `json:"font_family"`
	FontSize       float64    `json:"font_size"`
	HeaderFontSize float64    `json:"header_font_size"`
	TitleFontSize  float64    `json:"title_font_size"`
	Margins        PDFMargins `json:"margins"`
}

// PDFColor represents an RGB color
type PDFColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// PDFMargins represents page margins
type PDFMargins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "portrait",
		Title:          "Report",
		DateFormat:     "2006-01-02 15:04",
		IncludePageNum: true,
		IncludeDate:    true,
		HeaderColor:    PDFColor{R: 68, G: 114, B: 196},
		AlternateRows:  true,
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		FontFamily:     "Arial",
		FontSize:       8,
		HeaderFontSize: 9,
		TitleFontSize:  16,
		Margins: PDFMargins{
			Left:   10,
			Right:  10,
			Top:    15,
			Bottom: 15,
		},
	}
}

// NewPDFGenerator creates a new PDF generator
func NewPDFGenerator(options PDFOptions) *PDFGenerator {
	orientation := "P"
	if options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", options.PageSize, "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(false, options.Margins.Bottom)

	g := &PDFGenerator{
		pdf:     pdf,
		options: options,
	}
	g.setFooter()
	return g
}

// GenerateTable lays out the title block and the table
func (g *PDFGenerator) GenerateTable(t Table) error {
	g.pdf.AddPage()
	g.addTitle()
	if g.options.Subtitle != "" {
		g.addSubtitle()
	}
	if g.options.IncludeDate {
		g.addDate()
	}
	g.pdf.Ln(4)

	if len(t.Columns) == 0 {
		g.pdf.SetFont(g.options.FontFamily, "I", g.options.FontSize)
		g.pdf.CellFormat(0, 8, "No data", "", 1, "C", false, 0, "")
		return g.pdf.Error()
	}

	records := t.records()
	widths := g.calculateColumnWidths(t.Columns, records)
	g.addTableHeader(t.Columns, widths)
	g.addTableData(t.Columns, records, widths)
	return g.pdf.Error()
}

// WriteTo writes the PDF to a writer
func (g *PDFGenerator) WriteTo(w io.Writer) error {
	return g.pdf.Output(w)
}

func (g *PDFGenerator) addTitle() {
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 10, g.options.Title, "", 1, "C", false, 0, "")
}

func (g *PDFGenerator) addSubtitle() {
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize+2)
	g.pdf.SetTextColor(100, 100, 100)
	g.pdf.CellFormat(0, 7, g.options.Subtitle, "", 1, "C", false, 0, "")
}

func (g *PDFGenerator) addDate() {
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize-1)
	g.pdf.SetTextColor(128, 128, 128)
	dateStr := fmt.Sprintf("Generated: %s", time.Now().Format(g.options.DateFormat))
	g.pdf.CellFormat(0, 6, dateStr, "", 1, "R", false, 0, "")
}

// calculateColumnWidths sizes columns by content and scales them to the page
func (g *PDFGenerator) calculateColumnWidths(columns []string, records [][]string) []float64 {
	pageWidth, _ := g.pdf.GetPageSize()
	available := pageWidth - g.options.Margins.Left - g.options.Margins.Right

	widths := make([]float64, len(columns))
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	for i, col := range columns {
		widths[i] = g.pdf.GetStringWidth(col) + 4
	}

	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	sample := records
	if len(sample) > 100 {
		sample = sample[:100]
	}
	for _, rec := range sample {
		for i, v := range rec {
			if w := g.pdf.GetStringWidth(v) + 4; w > widths[i] {
				widths[i] = w
			}
		}
	}

	total := 0.0
	for _, w := range widths {
		total += w
	}
	if total > available {
		scale := available / total
		for i := range widths {
			widths[i] *= scale
		}
	}
	return widths
}

func (g *PDFGenerator) addTableHeader(columns []string, widths []float64) {
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	g.pdf.SetFillColor(g.options.HeaderColor.R, g.options.HeaderColor.G, g.options.HeaderColor.B)
	g.pdf.SetTextColor(255, 255, 255)
	for i, col := range columns {
		g.pdf.CellFormat(widths[i], 7, g.fit(col, widths[i]), "1", 0, "C", true, 0, "")
	}
	g.pdf.Ln(-1)
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	g.pdf.SetTextColor(0, 0, 0)
}

func (g *PDFGenerator) addTableData(columns []string, records [][]string, widths []float64) {
	_, pageHeight := g.pdf.GetPageSize()
	for i, rec := range records {
		if g.pdf.GetY()+6 > pageHeight-g.options.Margins.Bottom {
			g.pdf.AddPage()
			g.addTableHeader(columns, widths)
		}
		if g.options.AlternateRows && i%2 == 1 {
			g.pdf.SetFillColor(g.options.AlternateColor.R, g.options.AlternateColor.G, g.options.AlternateColor.B)
		} else {
			g.pdf.SetFillColor(255, 255, 255)
		}
		for j, v := range rec {
			g.pdf.CellFormat(widths[j], 6, g.fit(v, widths[j]), "1", 0, "L", true, 0, "")
		}
		g.pdf.Ln(-1)
	}
}

// fit truncates s with an ellipsis so it fits into a cell of width w
func (g *PDFGenerator) fit(s string, w float64) string {
	if g.pdf.GetStringWidth(s)+2 <= w {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && g.pdf.GetStringWidth(string(r)+"...")+2 > w {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

func (g *PDFGenerator) setFooter() {
	g.pdf.SetFooterFunc(func() {
		if !g.options.IncludePageNum {
			return
		}
		g.pdf.SetY(-10)
		g.pdf.SetFont(g.options.FontFamily, "", 7)
		g.pdf.SetTextColor(128, 128, 128)
		g.pdf.CellFormat(0, 6, fmt.Sprintf("Page %d", g.pdf.PageNo()), "", 0, "C", false, 0, "")
	})
}

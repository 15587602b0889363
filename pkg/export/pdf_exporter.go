package export

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Field is a single label/value pair rendered on a document page.
type Field struct {
	Label string
	Value string
}

// DocumentPage describes one subject of a paginated document export.
// When Image is empty or not a renderable format, Notice is printed instead.
type DocumentPage struct {
	Fields []Field
	Image  []byte
	Notice string
}

// PDFExporter renders datasets and paginated documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "B", 10)
	colWidth := 190.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			value := row[header]
			pdf.CellFormat(colWidth, 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderFields creates a single-subject PDF listing label/value pairs.
func (e *PDFExporter) RenderFields(title string, fields []Field) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
		pdf.Ln(4)
	}

	for _, field := range fields {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(60, 7, field.Label+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 7, field.Value, "", "L", false)
		pdf.Ln(1)
	}

	return output(pdf)
}

// RenderDocument creates a paginated export with one page per subject.
// Pages with an unrenderable image degrade to their notice text instead of
// failing the whole document.
func (e *PDFExporter) RenderDocument(title string, pages []DocumentPage) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)

	for i, page := range pages {
		pdf.AddPage()

		if title != "" {
			pdf.SetFont("Arial", "B", 16)
			pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
			pdf.Ln(4)
		}

		pdf.SetTextColor(0, 0, 0)
		for _, field := range page.Fields {
			pdf.SetFont("Arial", "B", 12)
			pdf.CellFormat(50, 8, field.Label+":", "", 0, "L", false, 0, "")
			pdf.SetFont("Arial", "", 12)
			pdf.CellFormat(0, 8, field.Value, "", 1, "L", false, 0, "")
		}
		pdf.Ln(4)

		if imgType := renderableImageType(page.Image); imgType != "" {
			name := fmt.Sprintf("attachment-%d", i)
			opts := gofpdf.ImageOptions{ImageType: imgType}
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(page.Image))
			pdf.ImageOptions(name, 15, pdf.GetY(), 120, 0, true, opts, 0, "")
		} else {
			notice := page.Notice
			if notice == "" {
				notice = "Attachment is not a displayable image."
			}
			pdf.SetTextColor(200, 0, 0)
			pdf.SetFont("Arial", "", 12)
			pdf.MultiCell(0, 8, notice, "", "L", false)
			pdf.SetTextColor(0, 0, 0)
		}
	}

	if len(pages) == 0 {
		pdf.AddPage()
		pdf.SetFont("Arial", "", 12)
		pdf.MultiCell(0, 8, "No records found.", "", "L", false)
	}

	return output(pdf)
}

// renderableImageType returns the gofpdf image type tag for payloads that
// decode as JPEG or PNG, or "" when the payload cannot be inlined. Decoding
// the header up front keeps a corrupt payload from poisoning the document,
// since gofpdf errors are sticky.
func renderableImageType(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	switch format {
	case "jpeg":
		return "JPG"
	case "png":
		return "PNG"
	default:
		return ""
	}
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

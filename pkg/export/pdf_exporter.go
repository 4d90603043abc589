package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate holds the fields printed on a course completion certificate.
type Certificate struct {
	Number      string
	Recipient   string
	CourseTitle string
	Instructor  string
	CompletedAt time.Time
}

// PDFExporter renders tables and certificates as PDF documents.
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
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	width, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (width - left - right) / float64(len(data.Headers))

	pdf.SetFont("Arial", "B", 9)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, tr(row[header]), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderCertificate draws a single landscape certificate page.
func (e *PDFExporter) RenderCertificate(cert Certificate) ([]byte, error) {
	if cert.Number == "" || cert.Recipient == "" || cert.CourseTitle == "" {
		return nil, fmt.Errorf("certificate requires number, recipient and course title")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	width, height := pdf.GetPageSize()
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, width-20, height-20, "D")

	pdf.SetY(40)
	pdf.SetFont("Arial", "B", 30)
	pdf.CellFormat(0, 14, "CERTIFICATE OF COMPLETION", "", 1, "C", false, 0, "")

	pdf.Ln(10)
	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 24)
	pdf.CellFormat(0, 12, tr(cert.Recipient), "", 1, "C", false, 0, "")
	pdf.Ln(4)
	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "has successfully completed", "", 1, "C", false, 0, "")
	pdf.Ln(2)
	pdf.SetFont("Arial", "B", 18)
	pdf.MultiCell(0, 10, tr(strings.TrimSpace(cert.CourseTitle)), "", "C", false)

	pdf.SetY(height - 50)
	pdf.SetFont("Arial", "", 11)
	if cert.Instructor != "" {
		pdf.CellFormat(0, 6, tr("Instructor: "+cert.Instructor), "", 1, "C", false, 0, "")
	}
	if !cert.CompletedAt.IsZero() {
		pdf.CellFormat(0, 6, "Completed on "+cert.CompletedAt.UTC().Format("January 2, 2006"), "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(0, 6, "Certificate No. "+cert.Number, "", 1, "C", false, 0, "")

	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

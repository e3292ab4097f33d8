package coverage

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// SaveCoveragePDF renders the given coverage report into a PDF
// document. When the report carries source hashes, a QR code of the
// combined hash line is placed on the last page so the printout can be
// matched back to the exact containers it describes.
func SaveCoveragePDF(rep Report, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Swath Coverage Report", false)
	pdf.SetAuthor("swathctl", false)
	pdf.SetCreator("swathctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Swath Coverage Report")
	addSourcesSection(pdf, rep)
	addGroupsSection(pdf, rep.Groups)
	addHashQRSection(pdf, rep.Sources)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSourcesSection(pdf *gofpdf.Fpdf, rep Report) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Sources")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	if !rep.GeneratedAt.IsZero() {
		pdf.CellFormat(50, 6, "Generated", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, rep.GeneratedAt.Format(time.RFC3339), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	headers := []string{"File", "Format", "Pings", "Soundings"}
	widths := []float64{90, 24, 28, 28}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, src := range rep.Sources {
		values := []string{
			emptyFallback(src.Name, "-"),
			string(src.Format),
			strconv.Itoa(src.Pings),
			strconv.Itoa(src.Soundings),
		}
		renderTableRow(pdf, widths, values, 5.0)
	}
	pdf.Ln(4)
}

func addGroupsSection(pdf *gofpdf.Fpdf, rows []GroupRow) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Coverage by Mode")
	pdf.Ln(9)

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No valid soundings contributed to coverage.", "", "L", false)
		return
	}

	headers := []string{"Mode", "Swath", "Freq", "Pings", "Across [m]", "Depth [m]", "Width [m]"}
	widths := []float64{28, 16, 20, 16, 38, 34, 32}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		values := []string{
			row.Key.PingMode.String(),
			row.Key.SwathMode.String(),
			frequencyLabel(row.Key.FrequencyHz),
			strconv.Itoa(row.Pings),
			fmt.Sprintf("%.1f .. %.1f", row.MinAcrossM, row.MaxAcrossM),
			fmt.Sprintf("%.1f .. %.1f", row.MinDepthM, row.MaxDepthM),
			fmt.Sprintf("%.1f ± %.1f", row.MeanWidthM, row.StdWidthM),
		}
		renderTableRow(pdf, widths, values, 5.0)
	}
	pdf.Ln(4)
}

func addHashQRSection(pdf *gofpdf.Fpdf, sources []SourceInfo) {
	hashes := make([]string, 0, len(sources))
	for _, src := range sources {
		if src.Sha256 != "" {
			hashes = append(hashes, src.Sha256)
		}
	}
	if len(hashes) == 0 {
		return
	}

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Container Digests")
	pdf.Ln(9)

	pdf.SetFont("Courier", "", 8)
	for _, h := range hashes {
		pdf.MultiCell(0, 4, h, "", "L", false)
	}
	pdf.Ln(2)

	png, err := HashesToQR(hashes, 192)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("digest-qr", opts, bytes.NewReader(png))
	pdf.ImageOptions("digest-qr", pdf.GetX(), pdf.GetY(), 36, 36, false, opts, 0, "")
	pdf.Ln(40)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func frequencyLabel(hz float64) string {
	if hz <= 0 {
		return "-"
	}
	if hz >= 1000 {
		return fmt.Sprintf("%g kHz", hz/1000)
	}
	return fmt.Sprintf("%g Hz", hz)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

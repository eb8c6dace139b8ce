package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"

	"sensorhub/internal/audit"
)

const detailsWidth = 60

// BuildAuditReportPDF renders the given audit entries as a landscape table.
func BuildAuditReportPDF(entries []audit.Entry, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Ingestion Audit Log")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d", len(entries)))
	pdf.Ln(8)

	widths := []float64{42, 42, 18, 34, 32, 109}
	headers := []string{"Time", "Kind", "Status", "Device", "Source", "Details"}
	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, entry := range entries {
		device := "-"
		if entry.DeviceIDAttempted != nil {
			device = *entry.DeviceIDAttempted
		}
		cells := []string{
			entry.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			entry.ErrorKind,
			strconv.Itoa(entry.StatusCode),
			device,
			entry.SourceAddress,
			truncate(audit.DetailsText(entry.ErrorDetails), detailsWidth),
		}
		for i, cell := range cells {
			align := "L"
			if i == 2 {
				align = "C"
			}
			pdf.CellFormat(widths[i], 6, tr(cell), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-3]) + "..."
}

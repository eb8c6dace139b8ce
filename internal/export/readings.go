package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	registry "sensorhub/internal/registry/domain"
	telemetry "sensorhub/internal/telemetry/domain"
)

var readingsHeader = []string{"timestamp", "value", "unit"}

// WriteReadingsCSV writes one row per reading, oldest first as given.
func WriteReadingsCSV(w io.Writer, sensor registry.Sensor, readings []telemetry.Reading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(readingsHeader); err != nil {
		return err
	}
	for _, reading := range readings {
		row := []string{
			reading.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(reading.Value, 'f', -1, 64),
			sensor.Unit,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// BuildReadingsXLSX renders a workbook with a sensor summary sheet and a readings sheet.
func BuildReadingsXLSX(sensor registry.Sensor, readings []telemetry.Reading) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "sensor"
	readingsSheet := "readings"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Sensor Readings")
	_ = f.SetCellValue(summarySheet, "A3", "Sensor")
	_ = f.SetCellValue(summarySheet, "B3", sensor.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Type")
	_ = f.SetCellValue(summarySheet, "B4", string(sensor.Type))
	_ = f.SetCellValue(summarySheet, "A5", "Channel")
	_ = f.SetCellValue(summarySheet, "B5", sensor.Channel)
	_ = f.SetCellValue(summarySheet, "A6", "Unit")
	_ = f.SetCellValue(summarySheet, "B6", sensor.Unit)
	_ = f.SetCellValue(summarySheet, "A7", "Readings")
	_ = f.SetCellValue(summarySheet, "B7", len(readings))

	_ = f.SetCellValue(readingsSheet, "A1", "Timestamp")
	_ = f.SetCellValue(readingsSheet, "B1", fmt.Sprintf("Value (%s)", sensor.Unit))
	for i, reading := range readings {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), reading.Timestamp.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), reading.Value)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

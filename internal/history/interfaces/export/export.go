package export

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"energy-history/internal/history/application"
)

// Report is one exported summary.
type Report struct {
	UserID      string
	Timezone    string
	Card        application.SummaryCardData
	Chart       application.ChartData
	GeneratedAt time.Time
}

const (
	summarySheet = "summary"
	chartSheet   = "chart"
)

// BuildPDF renders a minimal PDF of the summary card and chart points.
func BuildPDF(r Report) ([]byte, error) {
	if len(r.Chart.Labels) != len(r.Chart.Data) {
		return nil, errors.New("export: chart labels and data differ in length")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Energy History (%s)", r.Chart.Period))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", r.Chart.Key))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Timezone: %s", r.Timezone))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", r.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("%s: %.3f kWh", r.Card.TotalLabel, r.Card.TotalValue))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("%s: %.3f kWh", r.Card.AvgLabel, r.Card.AvgValue))
	pdf.Ln(5)
	peak := fmt.Sprintf("%s: %.3f kWh", r.Card.PeakLabel, r.Card.PeakValue)
	if r.Card.PeakDetail != "" {
		peak += " (" + r.Card.PeakDetail + ")"
	}
	pdf.Cell(0, 6, peak)
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Bucket", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Energy (kWh)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for i, label := range r.Chart.Labels {
		pdf.CellFormat(50, 6, label, "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.3f", r.Chart.Data[i]), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders the summary card and chart points as a workbook.
func BuildXLSX(r Report) ([]byte, error) {
	if len(r.Chart.Labels) != len(r.Chart.Data) {
		return nil, errors.New("export: chart labels and data differ in length")
	}
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(chartSheet); err != nil {
		return nil, err
	}

	rows := [][]any{
		{"Energy History", string(r.Chart.Period)},
		{"Period", r.Chart.Key},
		{"Timezone", r.Timezone},
		{r.Card.TotalLabel, r.Card.TotalValue},
		{r.Card.AvgLabel, r.Card.AvgValue},
		{r.Card.PeakLabel, r.Card.PeakValue},
		{"Peak Detail", r.Card.PeakDetail},
		{"Generated", r.GeneratedAt.UTC().Format(time.RFC3339)},
	}
	for i, row := range rows {
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}

	if err := writeChart(f, chartSheet, r.Chart); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeChart(f *excelize.File, sheet string, chart application.ChartData) error {
	if err := f.SetSheetRow(sheet, "A1", &[]any{"Bucket", "Energy (kWh)"}); err != nil {
		return err
	}
	for i, label := range chart.Labels {
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &[]any{label, chart.Data[i]}); err != nil {
			return fmt.Errorf("export: chart row %d: %w", i, err)
		}
	}
	return nil
}

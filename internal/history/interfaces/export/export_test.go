package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"energy-history/internal/history/application"
)

func sampleReport() Report {
	return Report{
		UserID:   "u1",
		Timezone: "Asia/Manila",
		Card: application.SummaryCardData{
			TotalValue: 7.5, TotalLabel: "Total Consumption",
			AvgValue: 2.5, AvgLabel: "Average per Hour",
			PeakValue: 4, PeakLabel: "Peak Hour", PeakDetail: "01:00",
		},
		Chart: application.ChartData{
			Period: application.PeriodDaily,
			Key:    "2026-01-20",
			Labels: []string{"00:00", "01:00", "02:00"},
			Data:   []float64{1.5, 4, 2},
		},
		GeneratedAt: time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildXLSX(t *testing.T) {
	data, err := BuildXLSX(sampleReport())
	if err != nil {
		t.Fatalf("BuildXLSX() error = %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if v, _ := f.GetCellValue(summarySheet, "B2"); v != "2026-01-20" {
		t.Fatalf("unexpected period cell %q", v)
	}
	if v, _ := f.GetCellValue(summarySheet, "B7"); v != "01:00" {
		t.Fatalf("unexpected peak detail %q", v)
	}
	rows, err := f.GetRows(chartSheet)
	if err != nil {
		t.Fatalf("chart rows: %v", err)
	}
	if len(rows) != 4 || rows[2][0] != "01:00" || rows[2][1] != "4" {
		t.Fatalf("unexpected chart rows %v", rows)
	}
}

func TestBuildPDF(t *testing.T) {
	data, err := BuildPDF(sampleReport())
	if err != nil {
		t.Fatalf("BuildPDF() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF")
	}
}

func TestBuild_RejectsMismatchedChart(t *testing.T) {
	r := sampleReport()
	r.Chart.Data = r.Chart.Data[:1]
	if _, err := BuildXLSX(r); err == nil {
		t.Fatalf("expected xlsx error")
	}
	if _, err := BuildPDF(r); err == nil {
		t.Fatalf("expected pdf error")
	}
}

func TestWriteChart_ReportsSheetErrors(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	if err := writeChart(f, "missing", sampleReport().Chart); err == nil {
		t.Fatalf("expected error writing to a missing sheet")
	}
}

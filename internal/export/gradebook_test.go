package export

import (
	"testing"
	"time"

	"github.com/classmetrics/evaluation-service/internal/services"
)

func TestBuildGradebook(t *testing.T) {
	submitted := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	cells := []services.HeatMapCell{
		{
			StudentID: "student-1", StudentName: "Ann Chen", AttemptID: 4,
			Score: 9, MaxScore: 10, Percentage: 90,
			SubmittedAt: submitted, TimeSpent: 1500,
		},
		{
			StudentID: "student-2", StudentName: "Ben Park", AttemptID: 7,
			Score: 5.5, MaxScore: 10, Percentage: 55,
			SubmittedAt: submitted.Add(time.Hour), TimeSpent: 3600,
		},
	}

	workbook, err := BuildGradebook("Midterm", cells)
	if err != nil {
		t.Fatalf("BuildGradebook failed: %v", err)
	}
	defer workbook.Close()

	if idx, err := workbook.GetSheetIndex(gradebookSheet); err != nil || idx < 0 {
		t.Fatalf("sheet %q missing (idx=%d, err=%v)", gradebookSheet, idx, err)
	}
	if idx, _ := workbook.GetSheetIndex("Sheet1"); idx >= 0 {
		t.Error("default sheet should be removed")
	}

	mustCell := func(cell string) string {
		t.Helper()
		value, err := workbook.GetCellValue(gradebookSheet, cell)
		if err != nil {
			t.Fatalf("GetCellValue(%s) failed: %v", cell, err)
		}
		return value
	}

	if got := mustCell("A1"); got != "Midterm" {
		t.Errorf("title = %q, want Midterm", got)
	}
	if got := mustCell("A2"); got != "Student ID" {
		t.Errorf("first header = %q", got)
	}
	if got := mustCell("I2"); got != "Submitted At" {
		t.Errorf("last header = %q", got)
	}

	// First data row.
	checks := map[string]string{
		"A3": "student-1",
		"B3": "Ann Chen",
		"C3": "4",
		"D3": "9",
		"F3": "90",
		"G3": "A",
		"H3": "25",
		"I3": "2026-03-10 14:30",
	}
	for cell, want := range checks {
		if got := mustCell(cell); got != want {
			t.Errorf("%s = %q, want %q", cell, got, want)
		}
	}

	// Second row carries the failing grade and the hour of time spent.
	if got := mustCell("G4"); got != "F" {
		t.Errorf("G4 = %q, want F", got)
	}
	if got := mustCell("H4"); got != "60" {
		t.Errorf("H4 = %q, want 60", got)
	}
}

func TestBuildGradebook_EmptyClass(t *testing.T) {
	workbook, err := BuildGradebook("Final", nil)
	if err != nil {
		t.Fatalf("BuildGradebook failed: %v", err)
	}
	defer workbook.Close()

	value, err := workbook.GetCellValue(gradebookSheet, "A3")
	if err != nil {
		t.Fatalf("GetCellValue failed: %v", err)
	}
	if value != "" {
		t.Errorf("A3 = %q, want empty when no attempts exist", value)
	}
}

// Package export renders aggregated evaluation data into downloadable
// workbooks. Only the xlsx gradebook lives here; other formats are handled
// by downstream consumers.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/classmetrics/evaluation-service/internal/grades"
	"github.com/classmetrics/evaluation-service/internal/services"
)

const gradebookSheet = "Gradebook"

var gradebookHeader = []string{
	"Student ID", "Student Name", "Attempt", "Score", "Max Score",
	"Percentage", "Grade", "Time Spent (min)", "Submitted At",
}

// BuildGradebook renders one exam's heat-map cells into a workbook, one
// row per student.
func BuildGradebook(examTitle string, cells []services.HeatMapCell) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(gradebookSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	if err := f.SetCellValue(gradebookSheet, "A1", examTitle); err != nil {
		return nil, fmt.Errorf("failed to write title: %w", err)
	}

	for col, name := range gradebookHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 2)
		if err != nil {
			return nil, fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(gradebookSheet, cell, name); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, cell := range cells {
		row := i + 3
		values := []interface{}{
			cell.StudentID,
			cell.StudentName,
			cell.AttemptID,
			cell.Score,
			cell.MaxScore,
			cell.Percentage,
			grades.Letter(cell.Percentage),
			grades.Round(float64(cell.TimeSpent)/60, 1),
			cell.SubmittedAt.Format("2006-01-02 15:04"),
		}
		for col, value := range values {
			name, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, fmt.Errorf("failed to compute cell name: %w", err)
			}
			if err := f.SetCellValue(gradebookSheet, name, value); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}
	}

	return f, nil
}

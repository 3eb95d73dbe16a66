// Package grades holds the pure scoring math shared by evaluation and
// analytics. Every function is total: empty input yields zero values,
// never a panic.
package grades

import (
	"math"
	"sort"
)

// Letter grade boundaries, percentage inclusive on the low end.
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeF = "F"
)

// Percentage converts an absolute score into a percentage of totalMarks.
// A zero or negative total yields 0 rather than dividing by zero.
func Percentage(score, totalMarks float64) float64 {
	if totalMarks <= 0 {
		return 0
	}
	return (score / totalMarks) * 100
}

// Letter maps a percentage to a letter grade: A >= 90, B >= 80, C >= 70,
// D >= 60, F below. No rounding happens here; 89.9 is a B.
func Letter(percentage float64) string {
	switch {
	case percentage >= 90:
		return GradeA
	case percentage >= 80:
		return GradeB
	case percentage >= 70:
		return GradeC
	case percentage >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// Average returns the arithmetic mean, 0 for an empty slice.
func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the middle value, averaging the two middle values for an
// even count, 0 for an empty slice. The input is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Distribution counts percentages per letter grade. Grades with no entries
// are present with a zero count so consumers can render all five buckets.
type Distribution map[string]int

// Distribute buckets a list of percentages into letter grades.
func Distribute(percentages []float64) Distribution {
	dist := Distribution{
		GradeA: 0,
		GradeB: 0,
		GradeC: 0,
		GradeD: 0,
		GradeF: 0,
	}
	for _, p := range percentages {
		dist[Letter(p)]++
	}
	return dist
}

// Round rounds a value to the given number of decimal places for
// presentation in analytics responses.
func Round(value float64, precision int) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(value*ratio) / ratio
}

package features

import (
	"log/slog"
	"sort"
)

// IQRMultiplier widens the interquartile range to form the outlier fences.
const IQRMultiplier = 1.5

// Bounds holds the outlier fences for one feature.
type Bounds struct {
	Q1    float64
	Q3    float64
	Lower float64
	Upper float64
}

// OutlierReport summarizes the IQR diagnostic over a feature matrix.
type OutlierReport struct {
	// Bounds is indexed like FeatureNames.
	Bounds []Bounds

	// Rows lists the indices of rows with at least one feature outside its fences.
	Rows []int
}

// Count returns the number of flagged rows.
func (r OutlierReport) Count() int {
	return len(r.Rows)
}

// DetectOutliers flags rows that fall below Q1-1.5*IQR or above Q3+1.5*IQR
// on any feature. It does not modify X.
func DetectOutliers(X [][]float64) OutlierReport {
	if len(X) == 0 {
		return OutlierReport{}
	}

	width := len(X[0])
	report := OutlierReport{Bounds: make([]Bounds, width)}

	column := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			column[i] = row[j]
		}
		q1 := Quantile(column, 0.25)
		q3 := Quantile(column, 0.75)
		iqr := q3 - q1
		report.Bounds[j] = Bounds{
			Q1:    q1,
			Q3:    q3,
			Lower: q1 - IQRMultiplier*iqr,
			Upper: q3 + IQRMultiplier*iqr,
		}
	}

	for i, row := range X {
		for j, v := range row {
			b := report.Bounds[j]
			if v < b.Lower || v > b.Upper {
				report.Rows = append(report.Rows, i)
				break
			}
		}
	}

	return report
}

// Quantile returns the q-th quantile of values using linear interpolation
// between closest ranks. values is not modified.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Preprocess runs the outlier diagnostic and returns X unchanged.
// Flagged rows are logged, never filtered.
func Preprocess(X [][]float64, logger *slog.Logger) ([][]float64, OutlierReport) {
	if logger == nil {
		logger = slog.Default()
	}

	report := DetectOutliers(X)
	if report.Count() > 0 {
		logger.Info("outliers detected, keeping all rows", "count", report.Count(), "rows", report.Rows)
	} else {
		logger.Info("no outliers detected")
	}
	return X, report
}

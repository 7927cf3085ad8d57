package features

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

//go:embed data/iris.csv
var irisCSV []byte

// Dataset is a labelled feature matrix. X[i] is the vector for label Y[i].
type Dataset struct {
	X [][]float64
	Y []int
}

// Len returns the number of samples.
func (d Dataset) Len() int {
	return len(d.Y)
}

// LoadIris returns the embedded 150-sample iris dataset.
func LoadIris() (Dataset, error) {
	return ReadCSV(bytes.NewReader(irisCSV))
}

// ReadCSV reads a dataset with a header row followed by rows of
// NumFeatures numeric columns and an integer target column.
func ReadCSV(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = NumFeatures + 1

	if _, err := cr.Read(); err != nil {
		return Dataset{}, fmt.Errorf("read header: %w", err)
	}

	var ds Dataset
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("line %d: %w", line, err)
		}

		row := make([]float64, NumFeatures)
		for i := 0; i < NumFeatures; i++ {
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("line %d: %s: %w", line, FeatureNames[i], err)
			}
			row[i] = v
		}
		label, err := strconv.Atoi(rec[NumFeatures])
		if err != nil {
			return Dataset{}, fmt.Errorf("line %d: target: %w", line, err)
		}

		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, label)
	}

	if err := ds.Validate(); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// Validate checks that the dataset is non-empty, has no missing or
// non-finite values and only carries known labels.
func (d Dataset) Validate() error {
	if len(d.X) == 0 {
		return errors.New("dataset is empty")
	}
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("dataset has %d rows but %d labels", len(d.X), len(d.Y))
	}
	for i, row := range d.X {
		if len(row) != NumFeatures {
			return fmt.Errorf("row %d: %d features, want %d", i, len(row), NumFeatures)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d: missing value for %s", i, FeatureNames[j])
			}
		}
		if d.Y[i] < 0 || d.Y[i] >= NumClasses {
			return fmt.Errorf("row %d: label %d outside [0,%d)", i, d.Y[i], NumClasses)
		}
	}
	return nil
}

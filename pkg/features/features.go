// Package features defines the iris feature contract and the data pipeline
// that feeds the trainer.
//
// The feature contract is fixed: every vector carries exactly four real
// values in the order given by FeatureNames, and every label is an index into
// TargetNames. The serving boundary, the trainer and the artifact codec all
// agree on this contract through the constants in this package.
//
// The pipeline stages are:
//   - LoadIris: read the embedded dataset and validate it
//   - Preprocess: run the IQR outlier diagnostic (rows are never removed)
//   - Split: deterministic train/test split with a fixed seed and ratio
package features

import (
	"errors"
	"fmt"
	"math"
)

const (
	// NumFeatures is the fixed width of a feature vector.
	NumFeatures = 4

	// NumClasses is the number of target classes.
	NumClasses = 3
)

// FeatureNames lists the features in vector order.
var FeatureNames = []string{
	"sepal_length",
	"sepal_width",
	"petal_length",
	"petal_width",
}

// TargetNames maps class index to class name.
var TargetNames = []string{
	"setosa",
	"versicolor",
	"virginica",
}

var (
	// ErrArity is returned when a vector does not have exactly NumFeatures values.
	ErrArity = errors.New("feature count mismatch")

	// ErrNotFinite is returned when a vector contains NaN or an infinity.
	ErrNotFinite = errors.New("feature value is not finite")
)

// ValidateVector checks a single feature vector against the contract.
// It is the only arity policy used at the serving boundary.
func ValidateVector(v []float64) error {
	if len(v) != NumFeatures {
		return fmt.Errorf("%w: exactly %d features required (%s, %s, %s, %s), got %d",
			ErrArity, NumFeatures,
			FeatureNames[0], FeatureNames[1], FeatureNames[2], FeatureNames[3],
			len(v))
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: %s", ErrNotFinite, FeatureNames[i])
		}
	}
	return nil
}

// ClassName returns the target name for a class index.
// An out-of-range index is a broken model contract, so it panics.
func ClassName(class int) string {
	if class < 0 || class >= len(TargetNames) {
		panic(fmt.Sprintf("features: class index %d outside [0,%d)", class, len(TargetNames)))
	}
	return TargetNames[class]
}

// Names returns fresh copies of the feature and target name tables.
func Names() (featureNames, targetNames []string) {
	return append([]string(nil), FeatureNames...), append([]string(nil), TargetNames...)
}

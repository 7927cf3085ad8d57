// Package models provides the classifiers trained by the pipeline and served
// by the API.
//
// A Classifier maps one feature vector to a class index and a probability
// distribution over all classes. Implementations must be safe for concurrent
// reads once fitted: the serving layer shares a single instance across
// requests without locking.
package models

// Classifier is a fitted multi-class model.
type Classifier interface {
	// Name returns the algorithm identifier, e.g. "random_forest".
	Name() string

	// Predict returns the most probable class index for x.
	Predict(x []float64) int

	// PredictProba returns one probability per class, summing to 1.
	PredictProba(x []float64) []float64

	// NumClasses returns the number of classes the model was fitted on.
	NumClasses() int
}

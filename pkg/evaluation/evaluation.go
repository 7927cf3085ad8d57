// Package evaluation scores a classifier on held-out data and applies the
// advisory quality gate.
package evaluation

import (
	"fmt"

	"github.com/HatiCode/iris-mlops/pkg/models"
)

// AccuracyThreshold is the minimum accuracy for a model to pass the gate.
const AccuracyThreshold = 0.85

const (
	GatePassed = "passed"
	GateFailed = "failed"
)

// Metrics are the scores logged for every training run. F1, precision and
// recall are support-weighted averages over classes.
type Metrics struct {
	Accuracy  float64
	F1        float64
	Precision float64
	Recall    float64
}

// AsMap returns the metrics keyed by the names used in artifacts and the
// tracking server.
func (m Metrics) AsMap() map[string]float64 {
	return map[string]float64{
		"accuracy":  m.Accuracy,
		"f1_score":  m.F1,
		"precision": m.Precision,
		"recall":    m.Recall,
	}
}

// Gate returns GatePassed when accuracy reaches AccuracyThreshold.
// The result is advisory and never blocks persisting the model.
func Gate(accuracy float64) string {
	if accuracy >= AccuracyThreshold {
		return GatePassed
	}
	return GateFailed
}

// Score computes the metrics for predicted labels against true labels.
// Classes with no predictions contribute zero precision, as do classes with
// no support to recall.
func Score(yTrue, yPred []int, numClasses int) (Metrics, error) {
	if len(yTrue) != len(yPred) {
		return Metrics{}, fmt.Errorf("label count mismatch: %d true, %d predicted", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Metrics{}, fmt.Errorf("no samples to score")
	}

	tp := make([]float64, numClasses)
	predicted := make([]float64, numClasses)
	support := make([]float64, numClasses)

	correct := 0
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			return Metrics{}, fmt.Errorf("sample %d: label outside [0,%d)", i, numClasses)
		}
		support[t]++
		predicted[p]++
		if t == p {
			tp[t]++
			correct++
		}
	}

	n := float64(len(yTrue))
	m := Metrics{Accuracy: float64(correct) / n}

	for c := 0; c < numClasses; c++ {
		if support[c] == 0 {
			continue
		}
		w := support[c] / n

		precision := 0.0
		if predicted[c] > 0 {
			precision = tp[c] / predicted[c]
		}
		recall := tp[c] / support[c]
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		m.Precision += w * precision
		m.Recall += w * recall
		m.F1 += w * f1
	}

	return m, nil
}

// Evaluate predicts every row of X with c and scores the result.
func Evaluate(c models.Classifier, X [][]float64, y []int) (Metrics, error) {
	pred := make([]int, len(X))
	for i, x := range X {
		pred[i] = c.Predict(x)
	}
	return Score(y, pred, c.NumClasses())
}

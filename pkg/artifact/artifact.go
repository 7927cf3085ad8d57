// Package artifact defines the trained model bundle shared by the trainer,
// the local stores, the MLflow registry and the serving API.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HatiCode/iris-mlops/pkg/features"
	"github.com/HatiCode/iris-mlops/pkg/models"
)

const (
	// VersionLayout formats the version of locally persisted artifacts.
	VersionLayout = "v20060102-150405"
	// CreatedAtLayout formats created_at in every artifact source.
	CreatedAtLayout = "2006-01-02 15:04:05"

	// Framework identifies the model implementation in metadata and tags.
	Framework = "go-randomforest"
)

// Sources recorded in Metadata.Source.
const (
	SourceLocal  = "local"
	SourceRedis  = "redis"
	SourceMLflow = "mlflow"
)

// ErrInvalid is returned by Decode for documents that break the artifact
// contract.
var ErrInvalid = errors.New("invalid model artifact")

// Metadata describes a trained model. Optional fields are empty when the
// source does not provide them.
type Metadata struct {
	Version      string
	Metrics      map[string]float64
	FeatureNames []string
	TargetNames  []string
	CreatedAt    string
	Params       map[string]string
	MLflowRunID  string
	RunID        string
	Stage        string
	Source       string
	Framework    string
}

// Artifact bundles a fitted classifier with its metadata.
type Artifact struct {
	Model    *models.RandomForest
	Metadata Metadata
}

// New builds a locally versioned artifact for a freshly trained model.
func New(model *models.RandomForest, metrics map[string]float64, params map[string]string, now time.Time) Artifact {
	return Artifact{
		Model: model,
		Metadata: Normalize(Metadata{
			Version:   now.Format(VersionLayout),
			Metrics:   metrics,
			CreatedAt: now.Format(CreatedAtLayout),
			Params:    params,
			Source:    SourceLocal,
			Framework: Framework,
		}),
	}
}

// Normalize pins feature and target names to the fixed serving contract.
func Normalize(m Metadata) Metadata {
	m.FeatureNames, m.TargetNames = features.Names()
	if m.Metrics == nil {
		m.Metrics = map[string]float64{}
	}
	if m.Framework == "" {
		m.Framework = Framework
	}
	return m
}

// document is the persisted layout of a local artifact.
type document struct {
	Model        *models.RandomForest `json:"model"`
	Version      string               `json:"version"`
	Metrics      map[string]float64   `json:"metrics"`
	FeatureNames []string             `json:"feature_names"`
	TargetNames  []string             `json:"target_names"`
	CreatedAt    string               `json:"created_at"`
	Params       map[string]string    `json:"params,omitempty"`
	MLflowRunID  string               `json:"mlflow_run_id,omitempty"`
	Framework    string               `json:"framework,omitempty"`
}

// Encode serializes a to the persisted JSON layout.
func Encode(a Artifact) ([]byte, error) {
	if a.Model == nil || !a.Model.Fitted() {
		return nil, fmt.Errorf("%w: model is not fitted", ErrInvalid)
	}
	return json.Marshal(document{
		Model:        a.Model,
		Version:      a.Metadata.Version,
		Metrics:      a.Metadata.Metrics,
		FeatureNames: a.Metadata.FeatureNames,
		TargetNames:  a.Metadata.TargetNames,
		CreatedAt:    a.Metadata.CreatedAt,
		Params:       a.Metadata.Params,
		MLflowRunID:  a.Metadata.MLflowRunID,
		Framework:    a.Metadata.Framework,
	})
}

// Decode parses a persisted artifact. Documents without a model, or whose
// name lists or model shape do not match the 4-feature / 3-class contract,
// are rejected with ErrInvalid.
func Decode(data []byte) (Artifact, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.Model == nil {
		return Artifact{}, fmt.Errorf("%w: missing model", ErrInvalid)
	}
	if len(doc.FeatureNames) != features.NumFeatures {
		return Artifact{}, fmt.Errorf("%w: %d feature names, want %d", ErrInvalid, len(doc.FeatureNames), features.NumFeatures)
	}
	if len(doc.TargetNames) != features.NumClasses {
		return Artifact{}, fmt.Errorf("%w: %d target names, want %d", ErrInvalid, len(doc.TargetNames), features.NumClasses)
	}
	if err := CheckShape(doc.Model); err != nil {
		return Artifact{}, err
	}
	if doc.Version == "" {
		return Artifact{}, fmt.Errorf("%w: missing version", ErrInvalid)
	}

	return Artifact{
		Model: doc.Model,
		Metadata: Metadata{
			Version:      doc.Version,
			Metrics:      doc.Metrics,
			FeatureNames: doc.FeatureNames,
			TargetNames:  doc.TargetNames,
			CreatedAt:    doc.CreatedAt,
			Params:       doc.Params,
			MLflowRunID:  doc.MLflowRunID,
			Framework:    doc.Framework,
		},
	}, nil
}

// CheckShape verifies that a model accepts 4 features and yields 3 classes.
func CheckShape(m *models.RandomForest) error {
	if m.NumFeatures() != features.NumFeatures || m.NumClasses() != features.NumClasses {
		return fmt.Errorf("%w: model shape %dx%d, want %dx%d", ErrInvalid,
			m.NumFeatures(), m.NumClasses(), features.NumFeatures, features.NumClasses)
	}
	return nil
}

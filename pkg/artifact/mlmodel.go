package artifact

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// ModelDir is the run artifact directory holding a logged model.
	ModelDir = "model"
	// MLmodelFile is the descriptor file name inside ModelDir.
	MLmodelFile = "MLmodel"
	// DataFile is the serialized forest inside ModelDir.
	DataFile = "model.json"
	// Flavor is the MLmodel flavor written by the trainer.
	Flavor = "iris_forest"
)

// FlavorConfig is the iris_forest section of an MLmodel descriptor.
type FlavorConfig struct {
	Data      string `yaml:"data"`
	Algorithm string `yaml:"algorithm"`
	Framework string `yaml:"framework"`
}

// MLmodel is the descriptor MLflow expects at the root of a logged model.
type MLmodel struct {
	ArtifactPath   string                  `yaml:"artifact_path"`
	Flavors        map[string]FlavorConfig `yaml:"flavors"`
	ModelUUID      string                  `yaml:"model_uuid"`
	RunID          string                  `yaml:"run_id"`
	UTCTimeCreated string                  `yaml:"utc_time_created"`
}

// NewMLmodel describes a forest logged under runID.
func NewMLmodel(runID string, now time.Time) MLmodel {
	return MLmodel{
		ArtifactPath: ModelDir,
		Flavors: map[string]FlavorConfig{
			Flavor: {Data: DataFile, Algorithm: "random_forest", Framework: Framework},
		},
		ModelUUID:      uuid.NewString(),
		RunID:          runID,
		UTCTimeCreated: now.UTC().Format("2006-01-02 15:04:05.000000"),
	}
}

// Marshal renders the descriptor as YAML.
func (m MLmodel) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// DataPath returns the data file of the iris_forest flavor relative to the
// model directory.
func (m MLmodel) DataPath() (string, error) {
	f, ok := m.Flavors[Flavor]
	if !ok {
		return "", fmt.Errorf("%w: MLmodel has no %s flavor", ErrInvalid, Flavor)
	}
	if f.Data == "" {
		return "", fmt.Errorf("%w: %s flavor has no data file", ErrInvalid, Flavor)
	}
	return f.Data, nil
}

// ParseMLmodel decodes a YAML descriptor and checks it carries the
// iris_forest flavor.
func ParseMLmodel(data []byte) (MLmodel, error) {
	var m MLmodel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return MLmodel{}, fmt.Errorf("%w: MLmodel: %v", ErrInvalid, err)
	}
	if _, err := m.DataPath(); err != nil {
		return MLmodel{}, err
	}
	return m, nil
}

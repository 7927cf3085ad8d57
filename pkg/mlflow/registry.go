package mlflow

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

// Registry stages.
const (
	StageProduction = "Production"
	StageStaging    = "Staging"
	StageArchived   = "Archived"
	StageNone       = "None"
)

// ModelVersion is one registered version of a model.
type ModelVersion struct {
	Name              string
	Version           string
	Stage             string
	RunID             string
	Source            string
	Status            string
	CreationTimestamp int64
}

func parseModelVersion(r gjson.Result) ModelVersion {
	return ModelVersion{
		Name:              r.Get("name").String(),
		Version:           r.Get("version").String(),
		Stage:             r.Get("current_stage").String(),
		RunID:             r.Get("run_id").String(),
		Source:            r.Get("source").String(),
		Status:            r.Get("status").String(),
		CreationTimestamp: r.Get("creation_timestamp").Int(),
	}
}

// CreateRegisteredModel registers name. An existing model is not an error.
func (c *Client) CreateRegisteredModel(ctx context.Context, name string) error {
	_, err := c.post(ctx, "/registered-models/create", map[string]any{"name": name})
	if err != nil && !IsAlreadyExists(err) {
		return err
	}
	return nil
}

// GetLatestVersions returns the latest version of name per stage. With no
// stages every stage is included.
func (c *Client) GetLatestVersions(ctx context.Context, name string, stages ...string) ([]ModelVersion, error) {
	body := map[string]any{"name": name}
	if len(stages) > 0 {
		body["stages"] = stages
	}
	res, err := c.post(ctx, "/registered-models/get-latest-versions", body)
	if err != nil {
		return nil, err
	}

	var out []ModelVersion
	for _, mv := range res.Get("model_versions").Array() {
		out = append(out, parseModelVersion(mv))
	}
	return out, nil
}

// CreateModelVersion registers the model logged at source by runID as a new
// version of name.
func (c *Client) CreateModelVersion(ctx context.Context, name, source, runID string) (ModelVersion, error) {
	res, err := c.post(ctx, "/model-versions/create", map[string]any{
		"name":   name,
		"source": source,
		"run_id": runID,
	})
	if err != nil {
		return ModelVersion{}, err
	}
	mv := parseModelVersion(res.Get("model_version"))
	if mv.Version == "" {
		return ModelVersion{}, fmt.Errorf("mlflow: create model version of %q: empty version", name)
	}
	return mv, nil
}

// GetDownloadURI returns the artifact location of a model version.
func (c *Client) GetDownloadURI(ctx context.Context, name, version string) (string, error) {
	res, err := c.get(ctx, "/model-versions/get-download-uri", url.Values{
		"name":    {name},
		"version": {version},
	})
	if err != nil {
		return "", err
	}
	uri := res.Get("artifact_uri").String()
	if uri == "" {
		return "", fmt.Errorf("mlflow: %s version %s has no artifact uri", name, version)
	}
	return uri, nil
}

package mlflow

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Experiment is an MLflow experiment.
type Experiment struct {
	ID               string
	Name             string
	LifecycleStage   string
	ArtifactLocation string
}

// Run is an MLflow run with its logged data.
type Run struct {
	ID           string
	ExperimentID string
	Name         string
	Status       string
	ArtifactURI  string
	StartTime    int64
	Metrics      map[string]float64
	Params       map[string]string
	Tags         map[string]string
}

// Run statuses accepted by UpdateRun.
const (
	RunFinished = "FINISHED"
	RunFailed   = "FAILED"
	RunKilled   = "KILLED"
)

func parseExperiment(r gjson.Result) Experiment {
	return Experiment{
		ID:               r.Get("experiment_id").String(),
		Name:             r.Get("name").String(),
		LifecycleStage:   r.Get("lifecycle_stage").String(),
		ArtifactLocation: r.Get("artifact_location").String(),
	}
}

// GetExperimentByName returns the experiment called name. found is false
// when the server has no such experiment.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (Experiment, bool, error) {
	res, err := c.get(ctx, "/experiments/get-by-name", url.Values{"experiment_name": {name}})
	if err != nil {
		if IsNotFound(err) {
			return Experiment{}, false, nil
		}
		return Experiment{}, false, err
	}
	return parseExperiment(res.Get("experiment")), true, nil
}

// CreateExperiment creates an experiment and returns its id.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	res, err := c.post(ctx, "/experiments/create", map[string]any{"name": name})
	if err != nil {
		return "", err
	}
	id := res.Get("experiment_id").String()
	if id == "" {
		return "", fmt.Errorf("mlflow: create experiment %q: empty experiment_id", name)
	}
	return id, nil
}

// GetOrCreateExperiment returns the id of the named experiment, creating it
// when missing.
func (c *Client) GetOrCreateExperiment(ctx context.Context, name string) (string, error) {
	exp, found, err := c.GetExperimentByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("get experiment %q: %w", name, err)
	}
	if found {
		return exp.ID, nil
	}
	id, err := c.CreateExperiment(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create experiment %q: %w", name, err)
	}
	return id, nil
}

// SearchExperiments lists active experiments, following page tokens.
func (c *Client) SearchExperiments(ctx context.Context) ([]Experiment, error) {
	var out []Experiment
	token := ""
	for {
		body := map[string]any{"max_results": 1000}
		if token != "" {
			body["page_token"] = token
		}
		res, err := c.post(ctx, "/experiments/search", body)
		if err != nil {
			return nil, err
		}
		for _, e := range res.Get("experiments").Array() {
			out = append(out, parseExperiment(e))
		}
		token = res.Get("next_page_token").String()
		if token == "" {
			return out, nil
		}
	}
}

func kvMap(r gjson.Result) map[string]string {
	out := make(map[string]string)
	for _, kv := range r.Array() {
		out[kv.Get("key").String()] = kv.Get("value").String()
	}
	return out
}

func parseRun(r gjson.Result) Run {
	run := Run{
		ID:           r.Get("info.run_id").String(),
		ExperimentID: r.Get("info.experiment_id").String(),
		Name:         r.Get("info.run_name").String(),
		Status:       r.Get("info.status").String(),
		ArtifactURI:  r.Get("info.artifact_uri").String(),
		StartTime:    r.Get("info.start_time").Int(),
		Metrics:      make(map[string]float64),
		Params:       kvMap(r.Get("data.params")),
		Tags:         kvMap(r.Get("data.tags")),
	}
	for _, m := range r.Get("data.metrics").Array() {
		run.Metrics[m.Get("key").String()] = m.Get("value").Float()
	}
	return run
}

// CreateRun starts a run in experimentID.
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (Run, error) {
	body := map[string]any{
		"experiment_id": experimentID,
		"start_time":    time.Now().UnixMilli(),
		"tags":          kvList(tags),
	}
	if runName != "" {
		body["run_name"] = runName
	}
	res, err := c.post(ctx, "/runs/create", body)
	if err != nil {
		return Run{}, err
	}
	run := parseRun(res.Get("run"))
	if run.ID == "" {
		return Run{}, fmt.Errorf("mlflow: create run: empty run_id")
	}
	return run, nil
}

// GetRun fetches a run with its metrics, params and tags.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	res, err := c.get(ctx, "/runs/get", url.Values{"run_id": {runID}})
	if err != nil {
		return Run{}, err
	}
	return parseRun(res.Get("run")), nil
}

// LogBatch records metrics, params and tags on a run in one call.
func (c *Client) LogBatch(ctx context.Context, runID string, metrics map[string]float64, params, tags map[string]string) error {
	now := time.Now().UnixMilli()

	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ms := make([]map[string]any, 0, len(metrics))
	for _, k := range keys {
		ms = append(ms, map[string]any{
			"key":       k,
			"value":     metrics[k],
			"timestamp": now,
			"step":      0,
		})
	}

	_, err := c.post(ctx, "/runs/log-batch", map[string]any{
		"run_id":  runID,
		"metrics": ms,
		"params":  kvList(params),
		"tags":    kvList(tags),
	})
	return err
}

// SetTag sets a single tag on a run.
func (c *Client) SetTag(ctx context.Context, runID, key, value string) error {
	_, err := c.post(ctx, "/runs/set-tag", map[string]any{
		"run_id": runID,
		"key":    key,
		"value":  value,
	})
	return err
}

// UpdateRun marks a run with a terminal status.
func (c *Client) UpdateRun(ctx context.Context, runID, status string) error {
	_, err := c.post(ctx, "/runs/update", map[string]any{
		"run_id":   runID,
		"status":   status,
		"end_time": time.Now().UnixMilli(),
	})
	return err
}

// kvList renders a map as the sorted [{key, value}] list MLflow expects.
func kvList(m map[string]string) []map[string]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]map[string]string, 0, len(m))
	for _, k := range keys {
		out = append(out, map[string]string{"key": k, "value": m[k]})
	}
	return out
}

// ParseVersion converts an MLflow version string to an integer.
func ParseVersion(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid model version %q: %w", v, err)
	}
	return n, nil
}

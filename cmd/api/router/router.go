// Package router configures the HTTP routes of the serving API.
//
// Routes:
//   - GET  /                  - service banner
//   - GET  /health            - liveness plus whether a model is loaded
//   - GET  /model/info        - metadata of the served model
//   - POST /model/reload      - resolve the model again
//   - POST /predict           - classify one feature vector
//   - GET  /model/experiments - tracking server experiments
//   - GET  /model/versions    - latest registered versions per stage
//   - GET  /metrics           - Prometheus metrics
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/HatiCode/iris-mlops/cmd/api/metrics"
	"github.com/HatiCode/iris-mlops/pkg/artifact"
	"github.com/HatiCode/iris-mlops/pkg/features"
	"github.com/HatiCode/iris-mlops/pkg/httpx"
	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/registry"
)

const (
	// APIVersion is reported by the root endpoint.
	APIVersion = "1.0.0"

	maxBodyBytes = 64 << 10
)

// Models is the served model slot and its reload entry point.
type Models interface {
	Current() *registry.Loaded
	Reload(ctx context.Context) (*registry.Loaded, error)
}

// Registry is the part of the tracking server the passthrough routes use.
type Registry interface {
	SearchExperiments(ctx context.Context) ([]mlflow.Experiment, error)
	GetLatestVersions(ctx context.Context, name string, stages ...string) ([]mlflow.ModelVersion, error)
}

// Options configures the routes.
type Options struct {
	Models Models
	// Registry may be nil; the passthrough routes then report an error.
	Registry      Registry
	ModelName     string
	MLflowUIURL   string
	ReloadTimeout time.Duration
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

type handlers struct {
	Options
}

// SetupRoutes returns the API mux.
func SetupRoutes(opts Options) *http.ServeMux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReloadTimeout <= 0 {
		opts.ReloadTimeout = time.Minute
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{Options: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /model/info", h.modelInfo)
	mux.HandleFunc("POST /model/reload", h.reload)
	mux.HandleFunc("POST /predict", h.predict)
	mux.HandleFunc("GET /model/experiments", h.experiments)
	mux.HandleFunc("GET /model/versions", h.versions)
	mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "ML Prediction API",
		"status":  "running",
		"version": APIVersion,
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	loaded := h.Models.Current() != nil
	status := "healthy"
	if !loaded {
		status = "degraded"
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"service":      "ml-api",
		"model_loaded": loaded,
	})
}

func (h *handlers) modelInfo(w http.ResponseWriter, r *http.Request) {
	l := h.Models.Current()
	if l == nil {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"model_loaded": false})
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, infoResponse(l.Metadata, h.MLflowUIURL))
}

// infoResponse renders metadata. Optional keys are omitted when empty.
func infoResponse(m artifact.Metadata, uiURL string) map[string]any {
	metricsOut := m.Metrics
	if metricsOut == nil {
		metricsOut = map[string]float64{}
	}
	resp := map[string]any{
		"model_loaded":  true,
		"model_version": m.Version,
		"framework":     m.Framework,
		"source":        m.Source,
		"feature_names": m.FeatureNames,
		"target_names":  m.TargetNames,
		"metrics":       metricsOut,
	}
	if m.CreatedAt != "" {
		resp["created_at"] = m.CreatedAt
	}
	if m.RunID != "" {
		resp["run_id"] = m.RunID
	}
	if m.Stage != "" {
		resp["stage"] = m.Stage
	}
	if m.MLflowRunID != "" {
		resp["mlflow_run_id"] = m.MLflowRunID
		resp["mlflow_ui_url"] = uiURL
	}
	if len(m.Params) > 0 {
		resp["hyperparameters"] = m.Params
	}
	return resp
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.ReloadTimeout)
	defer cancel()

	l, err := h.Models.Reload(ctx)
	if err != nil {
		h.Logger.Error("model reload failed", "error", err)
		h.recordError("reload", "resolve")
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, fmt.Sprintf("model reload failed: %v", err))
		return
	}

	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":        "success",
		"message":       "model reloaded successfully",
		"model_version": l.Metadata.Version,
		"source":        l.Metadata.Source,
	})
}

type predictResponse struct {
	Prediction     int       `json:"prediction"`
	PredictionName string    `json:"prediction_name"`
	Probability    []float64 `json:"probability"`
	ModelVersion   string    `json:"model_version"`
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	x, err := decodeFeatures(w, r)
	if err != nil {
		h.recordError("predict", "schema")
		httpx.WriteError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := features.ValidateVector(x); err != nil {
		h.recordError("predict", "validation")
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	// one snapshot per request: model and metadata cannot diverge mid-request
	l := h.Models.Current()
	if l == nil {
		h.recordError("predict", "no_model")
		httpx.WriteErrorMessage(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	start := time.Now()
	class := l.Model.Predict(x)
	proba := l.Model.PredictProba(x)
	name := features.ClassName(class)
	elapsed := time.Since(start)

	if h.Metrics != nil {
		h.Metrics.RecordPredict(elapsed.Seconds(), name)
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.Int("iris.prediction", class),
		attribute.String("iris.model_version", l.Metadata.Version),
	)

	_ = httpx.WriteJSON(w, http.StatusOK, predictResponse{
		Prediction:     class,
		PredictionName: name,
		Probability:    proba,
		ModelVersion:   l.Metadata.Version,
	})
}

// decodeFeatures extracts the "features" array. Any schema failure (not
// JSON, missing key, non-numeric element) is an error; arity is checked
// separately.
func decodeFeatures(w http.ResponseWriter, r *http.Request) ([]float64, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("request body is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, errors.New("request body must be a JSON object")
	}
	field := doc.Get("features")
	if !field.Exists() || field.Type == gjson.Null {
		return nil, errors.New("field required: features")
	}
	if !field.IsArray() {
		return nil, errors.New("features must be an array of numbers")
	}

	items := field.Array()
	x := make([]float64, 0, len(items))
	for i, v := range items {
		if v.Type != gjson.Number {
			return nil, fmt.Errorf("features[%d] is not a number", i)
		}
		x = append(x, v.Float())
	}
	return x, nil
}

type experimentJSON struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	LifecycleStage   string `json:"lifecycle_stage"`
	ArtifactLocation string `json:"artifact_location"`
}

// experiments and versions report failures as 200 {"error": ...}; clients
// of these two routes key on the error field rather than the status.
func (h *handlers) experiments(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"error": "model registry not configured"})
		return
	}
	exps, err := h.Registry.SearchExperiments(r.Context())
	if err != nil {
		h.Logger.Warn("search experiments failed", "error", err)
		h.recordError("registry", "experiments")
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}

	out := make([]experimentJSON, 0, len(exps))
	for _, e := range exps {
		out = append(out, experimentJSON{
			ExperimentID:     e.ID,
			Name:             e.Name,
			LifecycleStage:   e.LifecycleStage,
			ArtifactLocation: e.ArtifactLocation,
		})
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"experiments": out})
}

type versionJSON struct {
	Version           string `json:"version"`
	Stage             string `json:"stage"`
	RunID             string `json:"run_id"`
	CreationTimestamp int64  `json:"creation_timestamp"`
}

func (h *handlers) versions(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"error": "model registry not configured"})
		return
	}
	vs, err := h.Registry.GetLatestVersions(r.Context(), h.ModelName)
	if err != nil {
		h.Logger.Warn("get latest versions failed", "model", h.ModelName, "error", err)
		h.recordError("registry", "versions")
		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}

	out := make([]versionJSON, 0, len(vs))
	for _, v := range vs {
		out = append(out, versionJSON{
			Version:           v.Version,
			Stage:             v.Stage,
			RunID:             v.RunID,
			CreationTimestamp: v.CreationTimestamp,
		})
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"model_name": h.ModelName,
		"versions":   out,
	})
}

func (h *handlers) recordError(component, reason string) {
	if h.Metrics != nil {
		h.Metrics.RecordError(component, reason)
	}
}

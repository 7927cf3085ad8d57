package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
	"github.com/HatiCode/iris-mlops/pkg/evaluation"
	"github.com/HatiCode/iris-mlops/pkg/features"
	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/models"
	"github.com/HatiCode/iris-mlops/pkg/storage"
)

// Sweep is the hyperparameter grid trained by -run-all.
var Sweep = []RunParams{
	{NEstimators: 100, MaxDepth: 5, RunName: "run_001"},
	{NEstimators: 50, MaxDepth: 3, RunName: "run_002"},
	{NEstimators: 200, MaxDepth: 10, RunName: "run_003"},
}

// RunParams are the inputs of one training run.
type RunParams struct {
	NEstimators int
	MaxDepth    int
	RunName     string
}

// Tracker is the part of the tracking server a training run writes to.
type Tracker interface {
	GetOrCreateExperiment(ctx context.Context, name string) (string, error)
	CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (mlflow.Run, error)
	LogBatch(ctx context.Context, runID string, metrics map[string]float64, params, tags map[string]string) error
	UpdateRun(ctx context.Context, runID, status string) error
	CreateRegisteredModel(ctx context.Context, name string) error
	CreateModelVersion(ctx context.Context, name, source, runID string) (mlflow.ModelVersion, error)
	ArtifactRepository(uri string) (mlflow.ArtifactRepository, error)
}

var _ Tracker = (*mlflow.Client)(nil)

// Result describes a finished run.
type Result struct {
	RunName    string
	Metrics    evaluation.Metrics
	Validation string
	Artifact   artifact.Artifact
	// RunID and ModelVersion are empty when tracking is disabled.
	RunID        string
	ModelVersion string
}

// Pipeline trains, evaluates and publishes iris classifiers.
type Pipeline struct {
	dataset      features.Dataset
	local        storage.Store
	cache        storage.Store // optional
	tracker      Tracker       // optional
	experiment   string
	modelName    string
	artifactName string
	logger       *slog.Logger
	now          func() time.Time
}

// PipelineOptions configures a Pipeline. Cache and Tracker may be nil.
type PipelineOptions struct {
	Dataset      features.Dataset
	Local        storage.Store
	Cache        storage.Store
	Tracker      Tracker
	Experiment   string
	ModelName    string
	ArtifactName string
	Logger       *slog.Logger
}

// NewPipeline validates the dataset and returns a pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Local == nil {
		return nil, errors.New("local artifact store required")
	}
	if err := opts.Dataset.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	if opts.ArtifactName == "" {
		opts.ArtifactName = storage.DefaultName
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		dataset:      opts.Dataset,
		local:        opts.Local,
		cache:        opts.Cache,
		tracker:      opts.Tracker,
		experiment:   opts.Experiment,
		modelName:    opts.ModelName,
		artifactName: opts.ArtifactName,
		logger:       opts.Logger,
		now:          time.Now,
	}, nil
}

func tracer() trace.Tracer {
	return otel.Tracer("iris-mlops/trainer")
}

// Run executes one training run: split, fit, evaluate, then publish. A
// failed quality gate is recorded but does not stop the model from being
// published.
func (p *Pipeline) Run(ctx context.Context, rp RunParams) (Result, error) {
	ctx, span := tracer().Start(ctx, "trainer.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.name", rp.RunName),
		attribute.Int("params.n_estimators", rp.NEstimators),
		attribute.Int("params.max_depth", rp.MaxDepth),
	)

	params := models.Params{NEstimators: rp.NEstimators, MaxDepth: rp.MaxDepth, Seed: models.DefaultSeed}
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	log := p.logger.With("run_name", rp.RunName)

	split, err := p.prepare(ctx, log)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	forest, metrics, err := p.train(ctx, log, params, split)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	res := Result{
		RunName:    rp.RunName,
		Metrics:    metrics,
		Validation: evaluation.Gate(metrics.Accuracy),
	}
	if res.Validation == evaluation.GatePassed {
		log.Info("model passed validation", "accuracy", metrics.Accuracy, "threshold", evaluation.AccuracyThreshold)
	} else {
		log.Warn("model accuracy below threshold, retraining or tuning recommended",
			"accuracy", metrics.Accuracy, "threshold", evaluation.AccuracyThreshold)
	}

	if p.tracker != nil {
		res.RunID, res.ModelVersion, err = p.track(ctx, log, rp.RunName, params, forest, res)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
	}

	res.Artifact = artifact.New(forest, metrics.AsMap(), params.AsMap(), p.now())
	res.Artifact.Metadata.MLflowRunID = res.RunID
	if err := p.persist(ctx, log, res.Artifact); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	log.Info("training run complete",
		"version", res.Artifact.Metadata.Version,
		"mlflow_run_id", res.RunID,
		"model_version", res.ModelVersion,
	)
	return res, nil
}

// RunAll trains every entry of sweep in order and stops at the first error.
func (p *Pipeline) RunAll(ctx context.Context, sweep []RunParams) ([]Result, error) {
	results := make([]Result, 0, len(sweep))
	for i, rp := range sweep {
		p.logger.Info("starting sweep run", "index", i+1, "total", len(sweep), "run_name", rp.RunName)
		res, err := p.Run(ctx, rp)
		if err != nil {
			return results, fmt.Errorf("run %s: %w", rp.RunName, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Pipeline) prepare(ctx context.Context, log *slog.Logger) (features.Split, error) {
	_, span := tracer().Start(ctx, "trainer.prepare")
	defer span.End()

	log.Info("dataset loaded", "samples", p.dataset.Len(), "features", features.NumFeatures)

	X, _ := features.Preprocess(p.dataset.X, log)
	split, err := features.TrainTestSplit(features.Dataset{X: X, Y: p.dataset.Y}, features.DefaultTestRatio, features.DefaultSeed)
	if err != nil {
		return features.Split{}, fmt.Errorf("split dataset: %w", err)
	}
	log.Info("dataset split", "train", len(split.TrainY), "test", len(split.TestY))
	return split, nil
}

func (p *Pipeline) train(ctx context.Context, log *slog.Logger, params models.Params, split features.Split) (*models.RandomForest, evaluation.Metrics, error) {
	_, span := tracer().Start(ctx, "trainer.fit")
	defer span.End()

	log.Info("training random forest", "n_estimators", params.NEstimators, "max_depth", params.MaxDepth, "random_state", params.Seed)
	start := time.Now()
	forest := models.NewRandomForest(params)
	if err := forest.Fit(split.TrainX, split.TrainY); err != nil {
		return nil, evaluation.Metrics{}, fmt.Errorf("fit: %w", err)
	}
	log.Info("training finished", "duration", time.Since(start))

	metrics, err := evaluation.Evaluate(forest, split.TestX, split.TestY)
	if err != nil {
		return nil, evaluation.Metrics{}, fmt.Errorf("evaluate: %w", err)
	}
	log.Info("model evaluated",
		"accuracy", metrics.Accuracy,
		"f1_score", metrics.F1,
		"precision", metrics.Precision,
		"recall", metrics.Recall,
	)
	span.SetAttributes(attribute.Float64("metrics.accuracy", metrics.Accuracy))
	return forest, metrics, nil
}

// runTags are the descriptive tags set on every tracked run.
func runTags(validation string) map[string]string {
	return map[string]string{
		"validation":     validation,
		"framework":      artifact.Framework,
		"algorithm":      "RandomForest",
		"dataset":        "iris",
		"feature_count":  strconv.Itoa(features.NumFeatures),
		"target_classes": strconv.Itoa(features.NumClasses),
	}
}

// track logs the run, uploads the model files and registers a new model
// version. The run is marked FAILED when any step after its creation fails.
func (p *Pipeline) track(ctx context.Context, log *slog.Logger, runName string, params models.Params, forest *models.RandomForest, res Result) (runID, version string, err error) {
	ctx, span := tracer().Start(ctx, "trainer.track")
	defer span.End()

	expID, err := p.tracker.GetOrCreateExperiment(ctx, p.experiment)
	if err != nil {
		return "", "", err
	}
	run, err := p.tracker.CreateRun(ctx, expID, runName, nil)
	if err != nil {
		return "", "", fmt.Errorf("create run: %w", err)
	}
	log = log.With("mlflow_run_id", run.ID)
	log.Info("tracking run created", "experiment", p.experiment, "experiment_id", expID)

	defer func() {
		status := mlflow.RunFinished
		if err != nil {
			status = mlflow.RunFailed
		}
		if uerr := p.tracker.UpdateRun(context.WithoutCancel(ctx), run.ID, status); uerr != nil {
			log.Error("failed to close tracking run", "status", status, "error", uerr)
			if err == nil {
				err = fmt.Errorf("finish run: %w", uerr)
			}
		}
	}()

	if err = p.tracker.LogBatch(ctx, run.ID, res.Metrics.AsMap(), params.AsMap(), runTags(res.Validation)); err != nil {
		return "", "", fmt.Errorf("log run data: %w", err)
	}

	if err = p.logModel(ctx, run, forest); err != nil {
		return "", "", err
	}

	if err = p.tracker.CreateRegisteredModel(ctx, p.modelName); err != nil {
		return "", "", fmt.Errorf("create registered model: %w", err)
	}
	source := strings.TrimRight(run.ArtifactURI, "/") + "/" + artifact.ModelDir
	mv, err := p.tracker.CreateModelVersion(ctx, p.modelName, source, run.ID)
	if err != nil {
		return "", "", fmt.Errorf("create model version: %w", err)
	}
	log.Info("model registered", "model", p.modelName, "model_version", mv.Version, "source", source)

	return run.ID, mv.Version, nil
}

// logModel uploads the MLmodel descriptor and the serialized forest below
// the run's model directory.
func (p *Pipeline) logModel(ctx context.Context, run mlflow.Run, forest *models.RandomForest) error {
	repo, err := p.tracker.ArtifactRepository(run.ArtifactURI)
	if err != nil {
		return fmt.Errorf("open run artifacts: %w", err)
	}

	descriptor, err := artifact.NewMLmodel(run.ID, p.now()).Marshal()
	if err != nil {
		return fmt.Errorf("marshal MLmodel: %w", err)
	}
	data, err := json.Marshal(forest)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}

	if err := repo.Upload(ctx, artifact.ModelDir+"/"+artifact.MLmodelFile, descriptor); err != nil {
		return fmt.Errorf("upload MLmodel: %w", err)
	}
	if err := repo.Upload(ctx, artifact.ModelDir+"/"+artifact.DataFile, data); err != nil {
		return fmt.Errorf("upload model data: %w", err)
	}
	return nil
}

// persist writes the local backup and, when configured, the shared cache.
func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, a artifact.Artifact) error {
	ctx, span := tracer().Start(ctx, "trainer.persist")
	defer span.End()

	if err := p.local.Put(ctx, p.artifactName, a); err != nil {
		return fmt.Errorf("write local artifact: %w", err)
	}
	log.Info("local artifact written", "name", p.artifactName, "version", a.Metadata.Version)

	if p.cache != nil {
		if err := p.cache.Put(ctx, p.artifactName, a); err != nil {
			return fmt.Errorf("write cached artifact: %w", err)
		}
		log.Info("artifact cached", "name", p.artifactName)
	}
	return nil
}

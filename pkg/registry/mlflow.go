package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/HatiCode/iris-mlops/pkg/artifact"
	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/models"
)

// DefaultModelName is the registered model the trainer publishes.
const DefaultModelName = "iris-classifier"

// StageLatest labels the final attempt, which ignores stages.
const StageLatest = "latest"

// Stages is the fixed resolution order.
var Stages = []string{mlflow.StageProduction, mlflow.StageStaging, StageLatest}

// Registry is the subset of *mlflow.Client used for resolution.
type Registry interface {
	GetLatestVersions(ctx context.Context, name string, stages ...string) ([]mlflow.ModelVersion, error)
	GetDownloadURI(ctx context.Context, name, version string) (string, error)
	GetRun(ctx context.Context, runID string) (mlflow.Run, error)
	ArtifactRepository(uri string) (mlflow.ArtifactRepository, error)
}

// MLflowSource resolves the served model from the MLflow model registry.
type MLflowSource struct {
	registry Registry
	name     string
	logger   *slog.Logger
	now      func() time.Time
}

// NewMLflowSource returns a source for the registered model name.
func NewMLflowSource(r Registry, name string, logger *slog.Logger) *MLflowSource {
	if name == "" {
		name = DefaultModelName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MLflowSource{
		registry: r,
		name:     name,
		logger:   logger.With("component", "mlflow-source", "model", name),
		now:      time.Now,
	}
}

// Resolve tries each stage in order and returns the first loadable model.
// A failure at one stage never prevents the next from being tried.
func (s *MLflowSource) Resolve(ctx context.Context) (*Loaded, error) {
	ctx, span := otel.Tracer("iris-mlops/registry").Start(ctx, "registry.Resolve")
	defer span.End()

	attempts := make([]Attempt, 0, len(Stages))
	for _, stage := range Stages {
		loaded, a := s.attempt(ctx, stage)
		attempts = append(attempts, a)

		if a.Outcome == OutcomeFound {
			s.logger.Info("model resolved",
				"stage", stage,
				"version", loaded.Metadata.Version,
				"run_id", loaded.Metadata.RunID,
			)
			span.SetAttributes(attribute.String("model.stage", stage), attribute.String("model.version", loaded.Metadata.Version))
			return loaded, nil
		}
		s.logger.Debug("stage skipped", "stage", stage, "outcome", a.Outcome.String(), "version", a.Version, "error", a.Err)
	}

	err := &ResolveError{Attempts: attempts}
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn("no model could be resolved from the registry", "error", err)
	return nil, err
}

func (s *MLflowSource) attempt(ctx context.Context, stage string) (*Loaded, Attempt) {
	ctx, span := otel.Tracer("iris-mlops/registry").Start(ctx, "registry.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("model.stage", stage))

	a := Attempt{Stage: stage}

	var (
		versions []mlflow.ModelVersion
		err      error
	)
	if stage == StageLatest {
		versions, err = s.registry.GetLatestVersions(ctx, s.name)
	} else {
		versions, err = s.registry.GetLatestVersions(ctx, s.name, stage)
	}
	if err != nil {
		a.Outcome, a.Err = OutcomeLoadFailed, fmt.Errorf("list versions: %w", err)
		span.SetStatus(codes.Error, a.Err.Error())
		return nil, a
	}
	if len(versions) == 0 {
		a.Outcome = OutcomeEmpty
		return nil, a
	}

	mv := versions[0]
	if stage == StageLatest {
		mv, err = highestVersion(versions, s.logger)
		if err != nil {
			a.Outcome, a.Err = OutcomeLoadFailed, err
			span.SetStatus(codes.Error, err.Error())
			return nil, a
		}
	}
	a.Version = mv.Version

	loaded, err := s.load(ctx, mv)
	if err != nil {
		a.Outcome, a.Err = OutcomeLoadFailed, err
		span.SetStatus(codes.Error, err.Error())
		return nil, a
	}

	a.Outcome = OutcomeFound
	span.SetAttributes(attribute.String("model.version", mv.Version))
	return loaded, a
}

// highestVersion picks the version with the largest numeric version.
// Versions that are not numbers are logged and skipped; an error is
// returned only when none is usable.
func highestVersion(versions []mlflow.ModelVersion, logger *slog.Logger) (mlflow.ModelVersion, error) {
	best, bestN := mlflow.ModelVersion{}, -1
	for _, v := range versions {
		n, err := mlflow.ParseVersion(v.Version)
		if err != nil {
			logger.Warn("skipping model version", "version", v.Version, "error", err)
			continue
		}
		if n > bestN {
			best, bestN = v, n
		}
	}
	if bestN < 0 {
		return mlflow.ModelVersion{}, fmt.Errorf("no numeric version among %d registered versions", len(versions))
	}
	return best, nil
}

// load downloads the model files of mv and the metadata of its run.
func (s *MLflowSource) load(ctx context.Context, mv mlflow.ModelVersion) (*Loaded, error) {
	uri, err := s.registry.GetDownloadURI(ctx, s.name, mv.Version)
	if err != nil {
		return nil, fmt.Errorf("get download uri: %w", err)
	}
	repo, err := s.registry.ArtifactRepository(uri)
	if err != nil {
		return nil, err
	}

	descriptor, err := repo.Download(ctx, artifact.MLmodelFile)
	if err != nil {
		return nil, err
	}
	mlmodel, err := artifact.ParseMLmodel(descriptor)
	if err != nil {
		return nil, err
	}
	dataPath, err := mlmodel.DataPath()
	if err != nil {
		return nil, err
	}

	data, err := repo.Download(ctx, dataPath)
	if err != nil {
		return nil, err
	}
	var forest models.RandomForest
	if err := json.Unmarshal(data, &forest); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", artifact.ErrInvalid, dataPath, err)
	}
	if err := artifact.CheckShape(&forest); err != nil {
		return nil, err
	}

	run, err := s.registry.GetRun(ctx, mv.RunID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", mv.RunID, err)
	}

	stage := mv.Stage
	if stage == "" {
		stage = mlflow.StageNone
	}
	meta := artifact.Metadata{
		Version: "mlflow-v" + mv.Version,
		Metrics: run.Metrics,
		Source:  artifact.SourceMLflow,
		RunID:   mv.RunID,
		Stage:   stage,
	}
	if len(run.Params) > 0 {
		meta.Params = run.Params
	}
	if mv.CreationTimestamp > 0 {
		meta.CreatedAt = time.UnixMilli(mv.CreationTimestamp).UTC().Format(artifact.CreatedAtLayout)
	}

	return &Loaded{
		Model:    &forest,
		Metadata: artifact.Normalize(meta),
		LoadedAt: s.now(),
	}, nil
}

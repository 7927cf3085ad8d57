// Command trainer fits the iris random forest, evaluates it and publishes it.
//
// Every run writes a local artifact. With MLflow enabled the run is tracked
// in the "iris-classification" experiment and registered as a new version of
// "iris-classifier"; with -redis-addr the artifact is also cached in Redis.
//
// Usage:
//
//	trainer -n-estimators 100 -max-depth 5 -run-name baseline
//	trainer -run-all
//	trainer -no-mlflow -model-dir /data/models
//
// Environment variables:
//
//	MLFLOW_TRACKING_URI  - Tracking server URL (default: http://mlflow-service:5000)
//	MODEL_DIR            - Local artifact directory (default: models)
//	REDIS_ADDR           - Redis address for the artifact cache (default: disabled)
//	OTEL_TRACES_EXPORTER - none, stdout or otlp (default: none)
//	LOG_LEVEL            - debug, info, warn, error (default: info)
//	LOG_FORMAT           - text, json (default: text)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/iris-mlops/cmd/trainer/config"
	"github.com/HatiCode/iris-mlops/cmd/trainer/logger"
	"github.com/HatiCode/iris-mlops/pkg/features"
	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/observability"
	"github.com/HatiCode/iris-mlops/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting trainer",
		"version", version,
		"mlflow_enabled", cfg.MLflowEnabled,
		"model_dir", cfg.ModelDir,
		"run_all", cfg.RunAll,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("training failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "trainer",
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		Insecure:    cfg.TraceInsecure,
		SampleRatio: 1,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	ds, err := loadDataset(cfg.DataFile)
	if err != nil {
		return err
	}

	opts := PipelineOptions{
		Dataset:      ds,
		Local:        storage.NewFileStore(cfg.ModelDir),
		Experiment:   cfg.ExperimentName,
		ModelName:    cfg.ModelName,
		ArtifactName: cfg.ArtifactName,
		Logger:       log,
	}

	if cfg.RedisAddr != "" {
		cache, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer cache.Close()
		opts.Cache = cache
	}

	if cfg.MLflowEnabled {
		client, err := mlflow.NewFromConfig(cfg.MLflow())
		if err != nil {
			return err
		}
		log.Info("tracking runs", "tracking_uri", client.TrackingURI(), "experiment", cfg.ExperimentName)
		opts.Tracker = client
	}

	pipeline, err := NewPipeline(opts)
	if err != nil {
		return err
	}

	if cfg.RunAll {
		results, err := pipeline.RunAll(ctx, Sweep)
		for _, r := range results {
			log.Info("sweep result", "run_name", r.RunName, "accuracy", r.Metrics.Accuracy, "validation", r.Validation, "mlflow_run_id", r.RunID)
		}
		return err
	}

	_, err = pipeline.Run(ctx, RunParams{
		NEstimators: cfg.NEstimators,
		MaxDepth:    cfg.MaxDepth,
		RunName:     cfg.RunName,
	})
	return err
}

func loadDataset(path string) (features.Dataset, error) {
	if path == "" {
		return features.LoadIris()
	}
	f, err := os.Open(path)
	if err != nil {
		return features.Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := features.ReadCSV(f)
	if err != nil {
		return features.Dataset{}, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return ds, nil
}

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/HatiCode/iris-mlops/cmd/api/config"
	"github.com/HatiCode/iris-mlops/pkg/artifact"
	"github.com/HatiCode/iris-mlops/pkg/features"
	"github.com/HatiCode/iris-mlops/pkg/models"
	"github.com/HatiCode/iris-mlops/pkg/registry"
	"github.com/HatiCode/iris-mlops/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSource_File(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &config.Config{ModelSource: config.SourceFile, ModelDir: dir, ArtifactName: "model"}

	src, closer, err := newSource(cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("newSource() error = %v", err)
	}
	defer closer.Close()

	if _, err := src.Resolve(ctx); !errors.Is(err, registry.ErrNoModel) {
		t.Fatalf("Resolve() on empty dir error = %v, want ErrNoModel", err)
	}

	ds, err := features.LoadIris()
	if err != nil {
		t.Fatal(err)
	}
	rf := models.NewRandomForest(models.Params{NEstimators: 5, MaxDepth: 2, Seed: 1})
	if err := rf.Fit(ds.X, ds.Y); err != nil {
		t.Fatal(err)
	}
	a := artifact.New(rf, map[string]float64{"accuracy": 0.9}, nil, time.Now())
	if err := storage.NewFileStore(dir).Put(ctx, "model", a); err != nil {
		t.Fatal(err)
	}

	loaded, err := src.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if loaded.Metadata.Version != a.Metadata.Version || loaded.Metadata.Source != artifact.SourceLocal {
		t.Errorf("metadata = %+v", loaded.Metadata)
	}
}

func TestNewSource_MLflowNeedsClient(t *testing.T) {
	cfg := &config.Config{ModelSource: config.SourceMLflow, ModelName: "iris-classifier"}
	if _, _, err := newSource(cfg, nil, discardLogger()); err == nil {
		t.Error("newSource() accepted mlflow source without client")
	}
}

func TestNewSource_RedisUnreachable(t *testing.T) {
	cfg := &config.Config{ModelSource: config.SourceRedis, RedisAddr: "127.0.0.1:1", ArtifactName: "model"}
	if _, _, err := newSource(cfg, nil, discardLogger()); err == nil {
		t.Error("newSource() succeeded against an unreachable redis")
	}
}

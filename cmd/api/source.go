package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/HatiCode/iris-mlops/cmd/api/config"
	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/registry"
	"github.com/HatiCode/iris-mlops/pkg/storage"
)

// newSource returns the model source selected by cfg. The closer releases
// any connection the source holds.
func newSource(cfg *config.Config, client *mlflow.Client, logger *slog.Logger) (registry.Source, io.Closer, error) {
	switch cfg.ModelSource {
	case config.SourceMLflow:
		if client == nil {
			return nil, nil, fmt.Errorf("mlflow source requires a tracking client")
		}
		return registry.NewMLflowSource(client, cfg.ModelName, logger), nopCloser{}, nil

	case config.SourceFile:
		store := storage.NewFileStore(cfg.ModelDir)
		logger.Info("using local artifact file", "path", store.Path(cfg.ArtifactName))
		return registry.NewStoreSource(store, cfg.ArtifactName), nopCloser{}, nil

	case config.SourceRedis:
		store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("using redis artifact store", "addr", cfg.RedisAddr, "name", cfg.ArtifactName)
		return registry.NewStoreSource(store, cfg.ArtifactName), store, nil

	default:
		return nil, nil, fmt.Errorf("unknown model source %q", cfg.ModelSource)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Command api serves predictions from the iris classifier.
//
// At startup the model is resolved from the configured source:
//   - mlflow: the model registry, Production then Staging then the highest
//     version regardless of stage
//   - file:   a local artifact written by the trainer
//   - redis:  an artifact cached in Redis by the trainer
//
// No model means no service: startup fails when resolution fails. Later
// reloads (POST /model/reload, or a file change with -watch-model-file) keep
// the previous model when they fail.
//
// Usage:
//
//	api -model-source=mlflow -mlflow-tracking-uri=http://mlflow:5000
//	api -model-source=file -model-dir=/data/models -watch-model-file
//
// Environment variables:
//
//	LISTEN               - HTTP listen address (default: :8000)
//	GRPC_LISTEN          - gRPC health listen address (default: :9000)
//	MODEL_SOURCE         - mlflow, file or redis (default: mlflow)
//	MODEL_NAME           - Registered model name (default: iris-classifier)
//	MODEL_DIR            - Local artifact directory (default: models)
//	ARTIFACT_NAME        - Local artifact name (default: model)
//	MLFLOW_TRACKING_URI  - Tracking server URL
//	MLFLOW_UI_URL        - UI URL reported by /model/info
//	REDIS_ADDR           - Redis address for the redis source
//	OTEL_TRACES_EXPORTER - none, stdout or otlp (default: none)
//	LOG_LEVEL            - debug, info, warn, error (default: info)
//	LOG_FORMAT           - text, json (default: text)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/iris-mlops/cmd/api/config"
	"github.com/HatiCode/iris-mlops/cmd/api/logger"
	"github.com/HatiCode/iris-mlops/cmd/api/metrics"
	"github.com/HatiCode/iris-mlops/cmd/api/router"
	"github.com/HatiCode/iris-mlops/pkg/httpx"
	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/observability"
	"github.com/HatiCode/iris-mlops/pkg/registry"
	"github.com/HatiCode/iris-mlops/pkg/storage"
	iristls "github.com/HatiCode/iris-mlops/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting iris api",
		"version", version,
		"model_source", cfg.ModelSource,
		"listen", cfg.Listen,
		"tls_enabled", cfg.TLS.Enabled,
	)

	if err := run(cfg, log, prometheus.DefaultRegisterer); err != nil {
		log.Error("api failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// run starts the servers and blocks until a signal or a server failure.
// Everything opened here is released before it returns.
func run(cfg *config.Config, log *slog.Logger, promReg prometheus.Registerer) error {
	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		ServiceName: "ml-api",
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		Insecure:    cfg.TraceInsecure,
		SampleRatio: cfg.TraceSampleRatio,
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

	m := metrics.New(promReg)

	// The tracking client is optional outside the mlflow source: the
	// passthrough routes then report an error instead of data.
	var reg router.Registry
	client, err := mlflow.NewFromConfig(cfg.MLflow())
	if err != nil {
		if cfg.ModelSource == config.SourceMLflow {
			return fmt.Errorf("create MLflow client: %w", err)
		}
		log.Warn("MLflow client unavailable, registry routes disabled", "error", err)
	} else {
		reg = client
	}

	source, closer, err := newSource(cfg, client, log)
	if err != nil {
		return fmt.Errorf("create model source: %w", err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Error("failed to close model source", "error", err)
		}
	}()

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	manager := registry.NewManager(source, log)
	manager.OnReload(func(l *registry.Loaded, err error) {
		if err != nil {
			m.RecordReload(false, "", "")
			return
		}
		m.RecordReload(true, l.Metadata.Version, l.Metadata.Source)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.ReloadTimeout)
	err = manager.Init(initCtx)
	initCancel()
	if err != nil {
		return fmt.Errorf("no model could be loaded, refusing to start: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.WatchModelFile {
		path := storage.NewFileStore(cfg.ModelDir).Path(cfg.ArtifactName)
		watcher, err := registry.NewFileWatcher(path, manager, log)
		if err != nil {
			return fmt.Errorf("watch model file: %w", err)
		}
		defer watcher.Close()
		go watcher.Run(ctx)
		log.Info("watching model file", "path", path)
	}

	mux := router.SetupRoutes(router.Options{
		Models:        manager,
		Registry:      reg,
		ModelName:     cfg.ModelName,
		MLflowUIURL:   cfg.MLflowUIURL,
		ReloadTimeout: cfg.ReloadTimeout,
		Metrics:       m,
		Logger:        log,
	})
	handler := httpx.Chain(mux,
		httpx.RecoveryMiddleware(log),
		httpx.TracingMiddleware("ml-api"),
		httpx.LoggingMiddleware(log),
	)

	httpServer := httpx.NewServer(cfg.Listen, handler, log)
	if cfg.TLS.Enabled {
		tlsConfig, err := iristls.NewServerTLSConfig(cfg.TLS)
		if err != nil {
			return fmt.Errorf("create TLS config: %w", err)
		}
		httpServer.SetTLSConfig(tlsConfig)
	}

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.GRPCListen, err)
		}
		grpcServer = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		reflection.Register(grpcServer)

		go func() {
			log.Info("grpc health server listening", "address", cfg.GRPCListen)
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("grpc server failed", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		runErr = err
	}

	log.Info("shutting down")
	cancel()
	healthServer.Shutdown()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

var _ router.Registry = (*mlflow.Client)(nil)

// Command training-controller launches iris training runs as Kubernetes Jobs.
//
// It serves a small web console and a JSON API to submit, list and delete
// jobs. Each job runs the trainer image with the requested hyperparameters.
//
// Usage:
//
//	training-controller -kubeconfig ~/.kube/config
//	training-controller -job-template /etc/iris/job.yaml
//
// Environment variables:
//
//	LISTEN        - HTTP listen address (default: :8080)
//	KUBECONFIG    - Path to kubeconfig (default: ~/.kube/config, else in-cluster)
//	JOB_TEMPLATE  - YAML job template (default: built-in)
//	NAMESPACE     - Namespace for training jobs (default: from the template)
//	MLFLOW_UI_URL - MLflow UI link shown in the console
//	LOG_LEVEL     - debug, info, warn, error (default: info)
//	LOG_FORMAT    - text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/iris-mlops/cmd/training-controller/config"
	"github.com/HatiCode/iris-mlops/cmd/training-controller/handlers"
	"github.com/HatiCode/iris-mlops/cmd/training-controller/logger"
	"github.com/HatiCode/iris-mlops/cmd/training-controller/metrics"
	"github.com/HatiCode/iris-mlops/pkg/httpx"
	"github.com/HatiCode/iris-mlops/pkg/jobs"
	"github.com/HatiCode/iris-mlops/pkg/observability"
	iristls "github.com/HatiCode/iris-mlops/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting training controller",
		"version", version,
		"listen", cfg.Listen,
		"tls_enabled", cfg.TLS.Enabled,
	)

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		ServiceName: "training-controller",
		Exporter:    cfg.TraceExporter,
		Endpoint:    cfg.TraceEndpoint,
		Insecure:    cfg.TraceInsecure,
		SampleRatio: 1,
	})
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	template, err := loadTemplate(cfg)
	if err != nil {
		log.Error("failed to load job template", "path", cfg.JobTemplate, "error", err)
		os.Exit(1)
	}

	clientset, err := jobs.Connect(cfg.Kubeconfig)
	if err != nil {
		log.Error("failed to connect to kubernetes", "error", err)
		os.Exit(1)
	}

	launcher, err := jobs.NewLauncher(jobs.WrapK8sClient(clientset), template, log)
	if err != nil {
		log.Error("invalid job template", "error", err)
		os.Exit(1)
	}
	log.Info("job launcher ready", "namespace", launcher.Namespace(), "image", template.Image)

	console, err := handlers.RenderConsole(handlers.ConsoleLinks{
		MLflowUIURL:   cfg.MLflowUIURL,
		ServingAPIURL: cfg.ServingAPIURL,
	})
	if err != nil {
		log.Error("failed to render console", "error", err)
		os.Exit(1)
	}

	e := BuildServer(ServerOptions{
		Launcher: launcher,
		Console:  console,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
		Logger:   log,
		LogLevel: cfg.LogLevel,
	})

	server := httpx.NewServer(cfg.Listen, httpx.Chain(e, httpx.TracingMiddleware("training-controller")), log)
	if cfg.TLS.Enabled {
		tlsConfig, err := iristls.NewServerTLSConfig(cfg.TLS)
		if err != nil {
			log.Error("failed to create TLS config", "error", err)
			os.Exit(1)
		}
		server.SetTLSConfig(tlsConfig)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
			exitCode = 1
		}
	}

	log.Info("shutting down")
	if err := server.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		exitCode = 1
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error("failed to flush traces", "error", err)
	}
	cancel()

	log.Info("shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// loadTemplate returns the job template from cfg.JobTemplate, or the
// built-in one, with the namespace override applied.
func loadTemplate(cfg *config.Config) (jobs.Template, error) {
	t := jobs.DefaultTemplate()
	if cfg.JobTemplate != "" {
		var err error
		if t, err = jobs.LoadTemplate(cfg.JobTemplate); err != nil {
			return jobs.Template{}, err
		}
	}
	if cfg.Namespace != "" {
		t.Namespace = cfg.Namespace
	}
	return t, nil
}

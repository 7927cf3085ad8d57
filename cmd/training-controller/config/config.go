// Package config parses the training controller configuration.
//
// Every flag falls back to an environment variable, then to a default.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/HatiCode/iris-mlops/pkg/tls"
)

// Config holds all controller configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string
	TLS       tls.Config

	Kubeconfig  string
	JobTemplate string
	Namespace   string

	MLflowUIURL   string
	ServingAPIURL string

	TraceExporter string
	TraceEndpoint string
	TraceInsecure bool
}

// ParseFlags parses os.Args and the environment. Invalid configuration
// exits the process.
func ParseFlags() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse registers the controller flags on fs, parses args and validates the
// result.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Serve HTTPS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA file; enables client certificate verification")

	fs.StringVar(&cfg.Kubeconfig, "kubeconfig", getEnv("KUBECONFIG", ""), "Path to kubeconfig (default: ~/.kube/config, else in-cluster)")
	fs.StringVar(&cfg.JobTemplate, "job-template", getEnv("JOB_TEMPLATE", ""), "YAML job template overriding the built-in defaults")
	fs.StringVar(&cfg.Namespace, "namespace", getEnv("NAMESPACE", ""), "Namespace for training jobs (overrides the template)")

	fs.StringVar(&cfg.MLflowUIURL, "mlflow-ui-url", getEnv("MLFLOW_UI_URL", "http://localhost:5000"), "MLflow UI link shown in the console")
	fs.StringVar(&cfg.ServingAPIURL, "serving-api-url", getEnv("SERVING_API_URL", "http://localhost:8000"), "Serving API link shown in the console")

	fs.StringVar(&cfg.TraceExporter, "trace-exporter", getEnv("OTEL_TRACES_EXPORTER", "none"), "Trace exporter: none, stdout or otlp")
	fs.StringVar(&cfg.TraceEndpoint, "trace-endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP/HTTP collector URL")
	fs.BoolVar(&cfg.TraceInsecure, "trace-insecure", getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true), "Use plain HTTP for OTLP")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the flag package cannot.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("--listen cannot be empty")
	}
	if c.JobTemplate != "" {
		if _, err := os.Stat(c.JobTemplate); err != nil {
			return fmt.Errorf("job template: %w", err)
		}
	}
	return c.TLS.Validate()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

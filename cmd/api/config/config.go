// Package config parses the serving API configuration.
//
// Every flag falls back to an environment variable, then to a default.
// Flags take precedence over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/tls"
)

// Model sources.
const (
	SourceMLflow = "mlflow"
	SourceFile   = "file"
	SourceRedis  = "redis"
)

// Config holds all API configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string
	TLS        tls.Config

	ModelSource    string
	ModelName      string
	ModelDir       string
	ArtifactName   string
	WatchModelFile bool
	ReloadTimeout  time.Duration

	MLflowTrackingURI string
	MLflowUIURL       string
	MLflowTimeout     time.Duration
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TraceExporter    string
	TraceEndpoint    string
	TraceInsecure    bool
	TraceSampleRatio float64
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

// Parse registers the API flags on fs, parses args and validates the result.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8000"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":9000"), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Serve HTTPS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA file; enables client certificate verification")

	fs.StringVar(&cfg.ModelSource, "model-source", getEnv("MODEL_SOURCE", SourceMLflow), "Model source: mlflow, file or redis")
	fs.StringVar(&cfg.ModelName, "model-name", getEnv("MODEL_NAME", "iris-classifier"), "Registered model name")
	fs.StringVar(&cfg.ModelDir, "model-dir", getEnv("MODEL_DIR", "models"), "Directory of the local artifact (file source)")
	fs.StringVar(&cfg.ArtifactName, "artifact-name", getEnv("ARTIFACT_NAME", "model"), "Local artifact name (file and redis sources)")
	fs.BoolVar(&cfg.WatchModelFile, "watch-model-file", getEnvBool("WATCH_MODEL_FILE", false), "Reload when the local artifact file changes")
	fs.DurationVar(&cfg.ReloadTimeout, "reload-timeout", getEnvDuration("RELOAD_TIMEOUT", 60*time.Second), "Timeout of one model resolution")

	fs.StringVar(&cfg.MLflowTrackingURI, "mlflow-tracking-uri", getEnv("MLFLOW_TRACKING_URI", "http://mlflow-service.mlops-training:5000"), "MLflow tracking server URL")
	fs.StringVar(&cfg.MLflowUIURL, "mlflow-ui-url", getEnv("MLFLOW_UI_URL", "http://localhost:5000"), "MLflow UI URL reported by /model/info")
	fs.DurationVar(&cfg.MLflowTimeout, "mlflow-timeout", getEnvDuration("MLFLOW_TIMEOUT", 30*time.Second), "Timeout of one MLflow HTTP call")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", getEnv("MLFLOW_S3_ENDPOINT_URL", ""), "S3 endpoint for s3:// artifacts")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", getEnv("AWS_ACCESS_KEY_ID", ""), "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", getEnv("AWS_SECRET_ACCESS_KEY", ""), "S3 secret key")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")

	fs.StringVar(&cfg.TraceExporter, "trace-exporter", getEnv("OTEL_TRACES_EXPORTER", "none"), "Trace exporter: none, stdout or otlp")
	fs.StringVar(&cfg.TraceEndpoint, "trace-endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP/HTTP collector URL")
	fs.BoolVar(&cfg.TraceInsecure, "trace-insecure", getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true), "Use plain HTTP for OTLP")
	fs.Float64Var(&cfg.TraceSampleRatio, "trace-sample-ratio", getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0), "Trace sampling ratio")

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
	switch c.ModelSource {
	case SourceMLflow:
		u, err := url.Parse(c.MLflowTrackingURI)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid MLflow tracking URI %q", c.MLflowTrackingURI)
		}
		if c.ModelName == "" {
			return errors.New("--model-name is required for the mlflow source")
		}
	case SourceFile:
		if c.ModelDir == "" {
			return errors.New("--model-dir is required for the file source")
		}
	case SourceRedis:
		if c.RedisAddr == "" {
			return errors.New("--redis-addr is required for the redis source")
		}
	default:
		return fmt.Errorf("invalid model source %q (must be mlflow, file or redis)", c.ModelSource)
	}

	if c.WatchModelFile && c.ModelSource != SourceFile {
		return errors.New("--watch-model-file requires the file source")
	}
	if c.ArtifactName == "" && c.ModelSource != SourceMLflow {
		return errors.New("--artifact-name cannot be empty")
	}
	if c.ReloadTimeout <= 0 {
		return errors.New("--reload-timeout must be > 0")
	}
	if c.MLflowTimeout <= 0 {
		return errors.New("--mlflow-timeout must be > 0")
	}
	if c.Listen == "" {
		return errors.New("--listen cannot be empty")
	}
	return c.TLS.Validate()
}

// MLflow returns the tracking client settings.
func (c *Config) MLflow() mlflow.Config {
	return mlflow.Config{
		TrackingURI: c.MLflowTrackingURI,
		S3Endpoint:  c.S3Endpoint,
		S3AccessKey: c.S3AccessKey,
		S3SecretKey: c.S3SecretKey,
		Timeout:     c.MLflowTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

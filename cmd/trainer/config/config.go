// Package config parses the trainer configuration.
//
// Every flag falls back to an environment variable, then to a default.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/HatiCode/iris-mlops/pkg/mlflow"
	"github.com/HatiCode/iris-mlops/pkg/models"
)

// Config holds all trainer configuration.
type Config struct {
	LogFormat string
	LogLevel  string

	NEstimators int
	MaxDepth    int
	RunName     string
	RunAll      bool
	DataFile    string

	ModelDir     string
	ArtifactName string

	MLflowEnabled     bool
	MLflowTrackingURI string
	MLflowTimeout     time.Duration
	ExperimentName    string
	ModelName         string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

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

// Parse registers the trainer flags on fs, parses args and validates the
// result.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	var noMLflow bool

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.IntVar(&cfg.NEstimators, "n-estimators", getEnvInt("N_ESTIMATORS", 100), "Number of trees in the forest")
	fs.IntVar(&cfg.MaxDepth, "max-depth", getEnvInt("MAX_DEPTH", 5), "Maximum depth of each tree")
	fs.StringVar(&cfg.RunName, "run-name", getEnv("RUN_NAME", ""), "Tracking run name (default: generated)")
	fs.BoolVar(&cfg.RunAll, "run-all", false, "Train the predefined hyperparameter sweep")
	fs.StringVar(&cfg.DataFile, "data", getEnv("DATA_FILE", ""), "CSV dataset (default: embedded iris dataset)")

	fs.StringVar(&cfg.ModelDir, "model-dir", getEnv("MODEL_DIR", "models"), "Directory of the local artifact backup")
	fs.StringVar(&cfg.ArtifactName, "artifact-name", getEnv("ARTIFACT_NAME", "model"), "Local artifact name")

	fs.BoolVar(&noMLflow, "no-mlflow", getEnvBool("NO_MLFLOW", false), "Skip tracking and registration; write local artifacts only")
	fs.StringVar(&cfg.MLflowTrackingURI, "mlflow-tracking-uri", getEnv("MLFLOW_TRACKING_URI", "http://mlflow-service:5000"), "MLflow tracking server URL")
	fs.DurationVar(&cfg.MLflowTimeout, "mlflow-timeout", getEnvDuration("MLFLOW_TIMEOUT", 30*time.Second), "Timeout of one MLflow HTTP call")
	fs.StringVar(&cfg.ExperimentName, "experiment", getEnv("MLFLOW_EXPERIMENT_NAME", "iris-classification"), "Tracking experiment name")
	fs.StringVar(&cfg.ModelName, "model-name", getEnv("MODEL_NAME", "iris-classifier"), "Registered model name")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", getEnv("MLFLOW_S3_ENDPOINT_URL", ""), "S3 endpoint for s3:// artifact roots")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", getEnv("AWS_ACCESS_KEY_ID", ""), "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", getEnv("AWS_SECRET_ACCESS_KEY", ""), "S3 secret key")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", ""), "Redis address; when set the artifact is also cached there")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 0), "Expiry of the cached artifact (0 keeps it)")

	fs.StringVar(&cfg.TraceExporter, "trace-exporter", getEnv("OTEL_TRACES_EXPORTER", "none"), "Trace exporter: none, stdout or otlp")
	fs.StringVar(&cfg.TraceEndpoint, "trace-endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP/HTTP collector URL")
	fs.BoolVar(&cfg.TraceInsecure, "trace-insecure", getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true), "Use plain HTTP for OTLP")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.MLflowEnabled = !noMLflow

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the flag package cannot. Hyperparameters are only
// checked for a single run; -run-all brings its own.
func (c *Config) Validate() error {
	if !c.RunAll {
		p := models.Params{NEstimators: c.NEstimators, MaxDepth: c.MaxDepth}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if c.RunAll && c.RunName != "" {
		return errors.New("--run-name cannot be combined with --run-all")
	}
	if c.ModelDir == "" {
		return errors.New("--model-dir cannot be empty")
	}
	if c.ArtifactName == "" {
		return errors.New("--artifact-name cannot be empty")
	}
	if c.MLflowEnabled {
		u, err := url.Parse(c.MLflowTrackingURI)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid MLflow tracking URI %q", c.MLflowTrackingURI)
		}
		if c.ExperimentName == "" || c.ModelName == "" {
			return errors.New("--experiment and --model-name are required with MLflow enabled")
		}
		if c.MLflowTimeout <= 0 {
			return errors.New("--mlflow-timeout must be > 0")
		}
	}
	if c.RedisTTL < 0 {
		return errors.New("--redis-ttl must be >= 0")
	}
	return nil
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

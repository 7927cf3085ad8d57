package config

import (
	"flag"
	"io"
	"testing"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("trainer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return Parse(fs, args)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := parse(t)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.NEstimators != 100 || cfg.MaxDepth != 5 {
		t.Errorf("hyperparameters = %d/%d, want 100/5", cfg.NEstimators, cfg.MaxDepth)
	}
	if !cfg.MLflowEnabled {
		t.Error("MLflow disabled by default")
	}
	if cfg.MLflowTrackingURI != "http://mlflow-service:5000" {
		t.Errorf("MLflowTrackingURI = %q", cfg.MLflowTrackingURI)
	}
	if cfg.ExperimentName != "iris-classification" || cfg.ModelName != "iris-classifier" {
		t.Errorf("experiment/model = %s/%s", cfg.ExperimentName, cfg.ModelName)
	}
	if cfg.ModelDir != "models" || cfg.ArtifactName != "model" {
		t.Errorf("local artifact = %s/%s", cfg.ModelDir, cfg.ArtifactName)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty", cfg.RedisAddr)
	}
}

func TestParseFlagsAndEnv(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "http://mlflow.local:5000")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := parse(t, "-n-estimators", "50", "-max-depth", "3", "-run-name", "run_002")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.NEstimators != 50 || cfg.MaxDepth != 3 || cfg.RunName != "run_002" {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.MLflowTrackingURI != "http://mlflow.local:5000" || cfg.RedisAddr != "redis:6379" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestParseNoMLflowSkipsURICheck(t *testing.T) {
	cfg, err := parse(t, "-no-mlflow", "-mlflow-tracking-uri", "not a url")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.MLflowEnabled {
		t.Error("MLflowEnabled = true with -no-mlflow")
	}
}

func TestParseRunAllIgnoresHyperparameters(t *testing.T) {
	if _, err := parse(t, "-run-all", "-n-estimators", "0"); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"too few trees", []string{"-n-estimators", "9"}},
		{"too many trees", []string{"-n-estimators", "1001"}},
		{"depth zero", []string{"-max-depth", "0"}},
		{"depth too large", []string{"-max-depth", "51"}},
		{"run name with sweep", []string{"-run-all", "-run-name", "x"}},
		{"empty model dir", []string{"-model-dir", ""}},
		{"bad tracking uri", []string{"-mlflow-tracking-uri", "ftp://mlflow"}},
		{"negative redis ttl", []string{"-redis-ttl", "-1s"}},
		{"unknown flag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parse(t, tt.args...); err == nil {
				t.Errorf("Parse(%v) succeeded, want error", tt.args)
			}
		})
	}
}

func TestMLflowSettings(t *testing.T) {
	t.Setenv("MLFLOW_S3_ENDPOINT_URL", "http://minio:9000")
	t.Setenv("AWS_ACCESS_KEY_ID", "minio")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "minio123")

	cfg, err := parse(t, "-mlflow-tracking-uri", "http://mlflow.local:5000")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got := cfg.MLflow()
	if got.TrackingURI != "http://mlflow.local:5000" || got.S3Endpoint != "http://minio:9000" {
		t.Errorf("MLflow() = %+v", got)
	}
	if got.S3AccessKey != "minio" || got.S3SecretKey != "minio123" || got.Timeout != cfg.MLflowTimeout {
		t.Errorf("MLflow() = %+v", got)
	}
}

package mlflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/iris-mlops/pkg/mlflow/mlflowtest"
)

func newTestClient(t *testing.T) (*Client, *mlflowtest.Server) {
	t.Helper()
	srv := mlflowtest.NewServer()
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, srv
}

func TestNew_InvalidURI(t *testing.T) {
	tests := []string{
		"",
		"mlflow-service:5000",
		"ftp://mlflow:5000",
		"http://",
	}
	for _, uri := range tests {
		if _, err := New(uri); err == nil {
			t.Errorf("New(%q) expected error", uri)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(Config{
		TrackingURI: "http://mlflow.example:5000",
		S3Endpoint:  "https://minio.example:9000",
		S3AccessKey: "key",
		S3SecretKey: "secret",
		Timeout:     5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if c.TrackingURI() != "http://mlflow.example:5000" {
		t.Errorf("TrackingURI() = %q", c.TrackingURI())
	}
	if c.http.Timeout != 5*time.Second {
		t.Errorf("http timeout = %v, want 5s", c.http.Timeout)
	}
	want := S3Config{Endpoint: "minio.example:9000", AccessKey: "key", SecretKey: "secret", UseSSL: true}
	if c.s3 != want {
		t.Errorf("s3 = %+v, want %+v", c.s3, want)
	}

	c, err = NewFromConfig(Config{TrackingURI: "http://mlflow.example:5000", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewFromConfig() without s3 error = %v", err)
	}
	if c.s3 != (S3Config{}) {
		t.Errorf("s3 = %+v, want unset", c.s3)
	}

	tests := []Config{
		{TrackingURI: "not a url"},
		{TrackingURI: "http://mlflow.example:5000", S3Endpoint: "ftp://minio:9000"},
	}
	for _, cfg := range tests {
		if _, err := NewFromConfig(cfg); err == nil {
			t.Errorf("NewFromConfig(%+v) expected error", cfg)
		}
	}
}

func TestNew_TrimsSlash(t *testing.T) {
	c, err := New("http://mlflow-service.mlops-training:5000/")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.TrackingURI(); got != "http://mlflow-service.mlops-training:5000" {
		t.Errorf("TrackingURI() = %q", got)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":"INVALID_PARAMETER_VALUE","message":"bad name"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.CreateExperiment(context.Background(), "x")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.ErrorCode != "INVALID_PARAMETER_VALUE" || apiErr.Message != "bad name" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "bad name") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAPIError_NonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream connect error", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.SearchExperiments(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.ErrorCode != "" || apiErr.Message != "upstream connect error" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestExperiments(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, found, err := c.GetExperimentByName(ctx, "iris-classification")
	if err != nil || found {
		t.Fatalf("GetExperimentByName() on empty server = found %v, err %v", found, err)
	}

	id, err := c.GetOrCreateExperiment(ctx, "iris-classification")
	if err != nil {
		t.Fatalf("GetOrCreateExperiment() error = %v", err)
	}
	again, err := c.GetOrCreateExperiment(ctx, "iris-classification")
	if err != nil || again != id {
		t.Errorf("second GetOrCreateExperiment() = %q, %v; want %q", again, err, id)
	}

	if _, err := c.CreateExperiment(ctx, "iris-classification"); !IsAlreadyExists(err) {
		t.Errorf("CreateExperiment(duplicate) error = %v, want already exists", err)
	}

	exps, err := c.SearchExperiments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(exps) != 1 || exps[0].Name != "iris-classification" || exps[0].LifecycleStage != "active" {
		t.Errorf("SearchExperiments() = %+v", exps)
	}
}

func TestRunLifecycle(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	expID, err := c.GetOrCreateExperiment(ctx, "iris-classification")
	if err != nil {
		t.Fatal(err)
	}

	run, err := c.CreateRun(ctx, expID, "run_001", map[string]string{"dataset": "iris"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == "" || !strings.HasPrefix(run.ArtifactURI, "mlflow-artifacts:/") {
		t.Fatalf("CreateRun() = %+v", run)
	}

	err = c.LogBatch(ctx, run.ID,
		map[string]float64{"accuracy": 0.97, "f1_score": 0.96},
		map[string]string{"n_estimators": "100", "max_depth": "5"},
		map[string]string{"validation": "passed"})
	if err != nil {
		t.Fatalf("LogBatch() error = %v", err)
	}
	if err := c.SetTag(ctx, run.ID, "framework", "go-randomforest"); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateRun(ctx, run.ID, RunFinished); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Metrics["accuracy"] != 0.97 || got.Params["max_depth"] != "5" {
		t.Errorf("GetRun() data = %+v / %+v", got.Metrics, got.Params)
	}
	if got.Tags["validation"] != "passed" || got.Tags["dataset"] != "iris" || got.Tags["framework"] != "go-randomforest" {
		t.Errorf("GetRun() tags = %+v", got.Tags)
	}
	if got.Status != RunFinished || got.Name != "run_001" {
		t.Errorf("GetRun() info = %+v", got)
	}

	_, _, _, status, ok := srv.RunData(run.ID)
	if !ok || status != RunFinished {
		t.Errorf("server run status = %q", status)
	}

	if _, err := c.GetRun(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("GetRun(missing) error = %v, want not found", err)
	}
}

func TestModelRegistry(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	if err := c.CreateRegisteredModel(ctx, "iris-classifier"); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateRegisteredModel(ctx, "iris-classifier"); err != nil {
		t.Errorf("CreateRegisteredModel(existing) error = %v, want nil", err)
	}

	v1, err := c.CreateModelVersion(ctx, "iris-classifier", "mlflow-artifacts:/1/a/artifacts/model", "a")
	if err != nil {
		t.Fatal(err)
	}
	v2, err := c.CreateModelVersion(ctx, "iris-classifier", "mlflow-artifacts:/1/b/artifacts/model", "b")
	if err != nil {
		t.Fatal(err)
	}
	if v1.Version != "1" || v2.Version != "2" {
		t.Fatalf("versions = %s, %s", v1.Version, v2.Version)
	}

	srv.SetStage("iris-classifier", 1, StageProduction)

	prod, err := c.GetLatestVersions(ctx, "iris-classifier", StageProduction)
	if err != nil {
		t.Fatal(err)
	}
	if len(prod) != 1 || prod[0].Version != "1" || prod[0].Stage != StageProduction || prod[0].RunID != "a" {
		t.Errorf("GetLatestVersions(Production) = %+v", prod)
	}

	staging, err := c.GetLatestVersions(ctx, "iris-classifier", StageStaging)
	if err != nil || len(staging) != 0 {
		t.Errorf("GetLatestVersions(Staging) = %+v, %v", staging, err)
	}

	all, err := c.GetLatestVersions(ctx, "iris-classifier")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("GetLatestVersions() = %+v, want one per populated stage", all)
	}

	uri, err := c.GetDownloadURI(ctx, "iris-classifier", "2")
	if err != nil || uri != "mlflow-artifacts:/1/b/artifacts/model" {
		t.Errorf("GetDownloadURI() = %q, %v", uri, err)
	}

	if _, err := c.GetLatestVersions(ctx, "unknown-model"); !IsNotFound(err) {
		t.Errorf("GetLatestVersions(unknown) error = %v, want not found", err)
	}
}

func TestParseVersion(t *testing.T) {
	if n, err := ParseVersion("12"); err != nil || n != 12 {
		t.Errorf("ParseVersion(12) = %d, %v", n, err)
	}
	if _, err := ParseVersion("v1"); err == nil {
		t.Error("ParseVersion(v1) expected error")
	}
}

func TestArtifactRepository_Proxy(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	repo, err := c.ArtifactRepository("mlflow-artifacts:/1/run0001/artifacts")
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Upload(ctx, "model/MLmodel", []byte("flavors: {}\n")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if data, ok := srv.Artifact("1/run0001/artifacts/model/MLmodel"); !ok || string(data) != "flavors: {}\n" {
		t.Errorf("server artifact = %q, %v", data, ok)
	}

	data, err := repo.Download(ctx, "model/MLmodel")
	if err != nil || string(data) != "flavors: {}\n" {
		t.Errorf("Download() = %q, %v", data, err)
	}

	if _, err := repo.Download(ctx, "model/missing.json"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Download(missing) error = %v, want ErrArtifactNotFound", err)
	}
}

func TestArtifactRepository_HTTP(t *testing.T) {
	c, srv := newTestClient(t)
	srv.PutArtifact("7/r/artifacts/model/model.json", []byte(`{}`))

	repo, err := c.ArtifactRepository(srv.URL + "/api/2.0/mlflow-artifacts/artifacts/7/r/artifacts/")
	if err != nil {
		t.Fatal(err)
	}
	data, err := repo.Download(context.Background(), "model/model.json")
	if err != nil || string(data) != "{}" {
		t.Errorf("Download() = %q, %v", data, err)
	}
}

func TestArtifactRepository_File(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	dir := t.TempDir()

	for _, uri := range []string{dir, "file://" + dir} {
		repo, err := c.ArtifactRepository(uri)
		if err != nil {
			t.Fatalf("ArtifactRepository(%q) error = %v", uri, err)
		}
		if err := repo.Upload(ctx, "model/model.json", []byte("x")); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
		data, err := repo.Download(ctx, "model/model.json")
		if err != nil || string(data) != "x" {
			t.Errorf("Download() = %q, %v", data, err)
		}
		if _, err := repo.Download(ctx, "nope"); !errors.Is(err, ErrArtifactNotFound) {
			t.Errorf("Download(missing) error = %v", err)
		}
		if err := repo.Upload(ctx, "../escape", []byte("x")); err == nil {
			t.Error("Upload(../escape) expected error")
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "model", "model.json")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}

func TestArtifactRepository_Unsupported(t *testing.T) {
	c, _ := newTestClient(t)
	if _, err := c.ArtifactRepository("gs://bucket/path"); err == nil {
		t.Error("expected error for gs:// scheme")
	}
	if _, err := c.ArtifactRepository("s3://bucket/path"); err == nil {
		t.Error("expected error for s3:// without endpoint")
	}
}

func TestParseS3Endpoint(t *testing.T) {
	tests := []struct {
		raw      string
		endpoint string
		ssl      bool
		wantErr  bool
	}{
		{raw: "", endpoint: ""},
		{raw: "http://minio-service:9000", endpoint: "minio-service:9000"},
		{raw: "https://s3.amazonaws.com", endpoint: "s3.amazonaws.com", ssl: true},
		{raw: "minio:9000", endpoint: "minio:9000"},
		{raw: "ftp://minio:9000", wantErr: true},
	}
	for _, tt := range tests {
		endpoint, ssl, err := ParseS3Endpoint(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseS3Endpoint(%q) error = %v", tt.raw, err)
			continue
		}
		if endpoint != tt.endpoint || ssl != tt.ssl {
			t.Errorf("ParseS3Endpoint(%q) = %q, %v", tt.raw, endpoint, ssl)
		}
	}
}

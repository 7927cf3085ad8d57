package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	kubebatch "k8s.io/api/batch/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/HatiCode/iris-mlops/cmd/training-controller/handlers"
	"github.com/HatiCode/iris-mlops/cmd/training-controller/metrics"
	"github.com/HatiCode/iris-mlops/pkg/jobs"
)

const namespace = "mlops-training"

func newTestServer(t *testing.T, cs *fake.Clientset) *echo.Echo {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	launcher, err := jobs.NewLauncher(jobs.WrapK8sClient(cs), jobs.DefaultTemplate(), logger)
	if err != nil {
		t.Fatalf("NewLauncher() error = %v", err)
	}
	console, err := handlers.RenderConsole(handlers.ConsoleLinks{
		MLflowUIURL:   "http://mlflow.example:5000",
		ServingAPIURL: "http://api.example:8000",
	})
	if err != nil {
		t.Fatalf("RenderConsole() error = %v", err)
	}

	reg := prometheus.NewRegistry()
	return BuildServer(ServerOptions{
		Launcher: launcher,
		Console:  console,
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Logger:   logger,
		LogLevel: "off",
	})
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func seedJob(t *testing.T, cs *fake.Clientset, name string, created time.Time, status kubebatch.JobStatus) {
	t.Helper()
	job := &kubebatch.Job{
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:              name,
			Namespace:         namespace,
			Labels:            map[string]string{"app": "iris-training", "component": "training"},
			CreationTimestamp: kubeapimeta.NewTime(created),
		},
		Status: status,
	}
	if _, err := cs.BatchV1().Jobs(namespace).Create(context.Background(), job, kubeapimeta.CreateOptions{}); err != nil {
		t.Fatal(err)
	}
}

func TestConsole(t *testing.T) {
	e := newTestServer(t, fake.NewSimpleClientset())

	rec := do(e, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"http://mlflow.example:5000", "http://api.example:8000", "result.detail", `min="10"`, `max="1000"`} {
		if !strings.Contains(body, want) {
			t.Errorf("console does not contain %q", want)
		}
	}
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, fake.NewSimpleClientset())

	rec := do(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["status"] != "healthy" {
		t.Errorf("body = %v", got)
	}
}

func TestListJobs(t *testing.T) {
	cs := fake.NewSimpleClientset()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedJob(t, cs, "iris-training-old", base, kubebatch.JobStatus{Succeeded: 1})
	seedJob(t, cs, "iris-training-new", base.Add(time.Hour), kubebatch.JobStatus{Active: 1})
	seedJob(t, cs, "iris-training-mid", base.Add(time.Minute), kubebatch.JobStatus{Failed: 2})

	e := newTestServer(t, cs)
	rec := do(e, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	got := decode[[]handlers.JobJSON](t, rec)
	want := []handlers.JobJSON{
		{JobName: "iris-training-new", Status: "Running", CreatedAt: "2025-06-01 13:00:00", Pods: []string{}},
		{JobName: "iris-training-mid", Status: "Failed", CreatedAt: "2025-06-01 12:01:00", Pods: []string{}},
		{JobName: "iris-training-old", Status: "Succeeded", CreatedAt: "2025-06-01 12:00:00", Pods: []string{}},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d jobs, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].JobName != want[i].JobName || got[i].Status != want[i].Status || got[i].CreatedAt != want[i].CreatedAt {
			t.Errorf("job %d = %+v, want %+v", i, got[i], want[i])
		}
		if got[i].Pods == nil || len(got[i].Pods) != 0 {
			t.Errorf("job %d pods = %v, want []", i, got[i].Pods)
		}
	}
}

func TestListJobs_Empty(t *testing.T) {
	e := newTestServer(t, fake.NewSimpleClientset())

	rec := do(e, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("status = %d, body = %q, want 200 []", rec.Code, rec.Body.String())
	}
}

func TestListJobs_ClusterError(t *testing.T) {
	cs := fake.NewSimpleClientset()
	cs.PrependReactor("list", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unavailable")
	})
	e := newTestServer(t, cs)

	rec := do(e, http.MethodGet, "/jobs", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	got := decode[handlers.ErrorResponse](t, rec)
	if !strings.Contains(got.Detail, "apiserver unavailable") {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestTrain(t *testing.T) {
	cs := fake.NewSimpleClientset()
	e := newTestServer(t, cs)

	rec := do(e, http.MethodPost, "/jobs/train", `{"n_estimators": 50, "max_depth": 3, "run_name": "run_002"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[handlers.TrainResponse](t, rec)
	if !strings.HasPrefix(got.JobName, "iris-training-") {
		t.Errorf("job_name = %q", got.JobName)
	}
	if got.RunName != "run_002" || got.Status != "Created" {
		t.Errorf("response = %+v", got)
	}
	if got.Parameters != (handlers.Parameters{NEstimators: 50, MaxDepth: 3}) {
		t.Errorf("parameters = %+v", got.Parameters)
	}

	job, err := cs.BatchV1().Jobs(namespace).Get(context.Background(), got.JobName, kubeapimeta.GetOptions{})
	if err != nil {
		t.Fatalf("job not created: %v", err)
	}
	args := job.Spec.Template.Spec.Containers[0].Args
	for _, want := range [][]string{{"--n-estimators", "50"}, {"--max-depth", "3"}, {"--run-name", "run_002"}} {
		i := slices.Index(args, want[0])
		if i < 0 || i+1 >= len(args) || args[i+1] != want[1] {
			t.Errorf("args %v missing %v", args, want)
		}
	}
}

func TestTrain_Defaults(t *testing.T) {
	for _, body := range []string{"", `{}`, `{"run_name": null}`} {
		e := newTestServer(t, fake.NewSimpleClientset())

		rec := do(e, http.MethodPost, "/jobs/train", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("body %q: status = %d, %s", body, rec.Code, rec.Body)
		}
		got := decode[handlers.TrainResponse](t, rec)
		if got.Parameters != (handlers.Parameters{NEstimators: 100, MaxDepth: 5}) {
			t.Errorf("body %q: parameters = %+v", body, got.Parameters)
		}
		if !strings.HasPrefix(got.RunName, "training-") {
			t.Errorf("body %q: run_name = %q", body, got.RunName)
		}
	}
}

func TestTrain_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"too few trees", `{"n_estimators": 5}`, "n_estimators"},
		{"too deep", `{"max_depth": 51}`, "max_depth"},
		{"wrong type", `{"n_estimators": "many"}`, "invalid request body"},
		{"not json", `n_estimators=10`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := fake.NewSimpleClientset()
			e := newTestServer(t, cs)

			rec := do(e, http.MethodPost, "/jobs/train", tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422", rec.Code)
			}
			if got := decode[handlers.ErrorResponse](t, rec); !strings.Contains(got.Detail, tt.want) {
				t.Errorf("detail = %q, want it to mention %q", got.Detail, tt.want)
			}
			list, _ := cs.BatchV1().Jobs(namespace).List(context.Background(), kubeapimeta.ListOptions{})
			if len(list.Items) != 0 {
				t.Errorf("%d jobs created for an invalid request", len(list.Items))
			}
		})
	}
}

func TestTrain_ClusterError(t *testing.T) {
	cs := fake.NewSimpleClientset()
	cs.PrependReactor("create", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("quota exceeded")
	})
	e := newTestServer(t, cs)

	rec := do(e, http.MethodPost, "/jobs/train", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decode[handlers.ErrorResponse](t, rec); !strings.Contains(got.Detail, "quota exceeded") {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestDeleteJob(t *testing.T) {
	cs := fake.NewSimpleClientset()
	seedJob(t, cs, "iris-training-x", time.Now(), kubebatch.JobStatus{})
	e := newTestServer(t, cs)

	rec := do(e, http.MethodDelete, "/jobs/iris-training-x", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[handlers.MessageResponse](t, rec); !strings.Contains(got.Message, "iris-training-x") {
		t.Errorf("message = %q", got.Message)
	}

	rec = do(e, http.MethodDelete, "/jobs/iris-training-x", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
	if got := decode[handlers.ErrorResponse](t, rec); !strings.Contains(got.Detail, "not found") {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestDeleteJob_ClusterError(t *testing.T) {
	cs := fake.NewSimpleClientset()
	cs.PrependReactor("delete", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("forbidden by policy")
	})
	e := newTestServer(t, cs)

	rec := do(e, http.MethodDelete, "/jobs/anything", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decode[handlers.ErrorResponse](t, rec); !strings.Contains(got.Detail, "forbidden by policy") {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestUnknownRoute(t *testing.T) {
	e := newTestServer(t, fake.NewSimpleClientset())

	rec := do(e, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decode[handlers.ErrorResponse](t, rec); got.Detail == "" {
		t.Error("404 has no detail")
	}
}

func TestMetricsCountSubmissions(t *testing.T) {
	e := newTestServer(t, fake.NewSimpleClientset())

	do(e, http.MethodPost, "/jobs/train", `{}`)
	do(e, http.MethodPost, "/jobs/train", `{"max_depth": 0}`)
	do(e, http.MethodDelete, "/jobs/missing", "")

	rec := do(e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`iris_training_jobs_submitted_total{result="created"} 1`,
		`iris_training_jobs_submitted_total{result="invalid"} 1`,
		`iris_training_jobs_deleted_total{result="not_found"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// Package mlflowtest provides an in-memory MLflow tracking server for tests.
//
// It implements the subset of the REST API used by package mlflow: the
// experiment, run and model registry calls plus the artifact proxy. Run
// artifact roots use the mlflow-artifacts: scheme so they are served by the
// same process.
package mlflowtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const artifactsPrefix = "/api/2.0/mlflow-artifacts/artifacts/"

type experiment struct {
	ID   string
	Name string
}

type run struct {
	ID           string
	ExperimentID string
	Name         string
	Status       string
	StartTime    int64
	Metrics      map[string]float64
	Params       map[string]string
	Tags         map[string]string
}

// Version is a registered model version held by the server.
type Version struct {
	Name              string
	Version           int
	Stage             string
	RunID             string
	Source            string
	CreationTimestamp int64
}

// Server is a fake tracking server. The zero value is not usable; call
// NewServer.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	experiments map[string]*experiment
	runs        map[string]*run
	models      map[string][]*Version
	artifacts   map[string][]byte
	failures    map[string]int
	requests    []string
	nextID      int
}

// NewServer starts a fake tracking server. It is closed with t.Cleanup by
// the caller.
func NewServer() *Server {
	s := &Server{
		experiments: make(map[string]*experiment),
		runs:        make(map[string]*run),
		models:      make(map[string][]*Version),
		artifacts:   make(map[string][]byte),
		failures:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Fail makes every request whose path starts with prefix answer with status.
func (s *Server) Fail(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[prefix] = status
}

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]int)
}

// SetStage moves a model version to stage.
func (s *Server) SetStage(name string, version int, stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.models[name] {
		if v.Version == version {
			v.Stage = stage
		}
	}
}

// Versions returns a copy of the registered versions of name.
func (s *Server) Versions(name string) []Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Version, 0, len(s.models[name]))
	for _, v := range s.models[name] {
		out = append(out, *v)
	}
	return out
}

// Artifact returns an uploaded artifact by its path below the proxy root,
// e.g. "1/<run id>/artifacts/model/MLmodel".
func (s *Server) Artifact(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.artifacts[path]
	return data, ok
}

// PutArtifact stores an artifact directly.
func (s *Server) PutArtifact(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[path] = data
}

// DeleteArtifact removes a stored artifact.
func (s *Server) DeleteArtifact(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, path)
}

// RunData returns the metrics, params, tags and status logged on a run.
func (s *Server) RunData(runID string) (metrics map[string]float64, params, tags map[string]string, status string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, nil, nil, "", false
	}
	return r.Metrics, r.Params, r.Tags, r.Status, true
}

// Requests returns "METHOD path" for every request served so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) id() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error_code": code, "message": msg})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	for prefix, status := range s.failures {
		if strings.HasPrefix(r.URL.Path, prefix) {
			writeError(w, status, "INTERNAL_ERROR", "injected failure")
			return
		}
	}

	if strings.HasPrefix(r.URL.Path, artifactsPrefix) {
		s.serveArtifact(w, r, strings.TrimPrefix(r.URL.Path, artifactsPrefix))
		return
	}

	var body map[string]any
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
			return
		}
	}
	q := r.URL.Query()

	switch r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow") {
	case "GET /experiments/get-by-name":
		s.getExperimentByName(w, q.Get("experiment_name"))
	case "POST /experiments/create":
		s.createExperiment(w, str(body, "name"))
	case "POST /experiments/search":
		s.searchExperiments(w)
	case "POST /runs/create":
		s.createRun(w, body)
	case "GET /runs/get":
		s.getRun(w, q.Get("run_id"))
	case "POST /runs/log-batch":
		s.logBatch(w, body)
	case "POST /runs/set-tag":
		s.setTag(w, body)
	case "POST /runs/update":
		s.updateRun(w, body)
	case "POST /registered-models/create":
		s.createRegisteredModel(w, str(body, "name"))
	case "POST /registered-models/get-latest-versions":
		s.getLatestVersions(w, body)
	case "POST /model-versions/create":
		s.createModelVersion(w, body)
	case "GET /model-versions/get-download-uri":
		s.getDownloadURI(w, q.Get("name"), q.Get("version"))
	default:
		writeError(w, http.StatusNotFound, "ENDPOINT_NOT_FOUND", r.Method+" "+r.URL.Path)
	}
}

func str(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, path string) {
	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER_VALUE", err.Error())
			return
		}
		s.artifacts[path] = data
		writeJSON(w, http.StatusOK, map[string]any{})
	case http.MethodGet:
		data, ok := s.artifacts[path]
		if !ok {
			writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "artifact "+path+" not found")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) experimentJSON(e *experiment) map[string]any {
	return map[string]any{
		"experiment_id":     e.ID,
		"name":              e.Name,
		"lifecycle_stage":   "active",
		"artifact_location": "mlflow-artifacts:/" + e.ID,
	}
}

func (s *Server) getExperimentByName(w http.ResponseWriter, name string) {
	for _, e := range s.experiments {
		if e.Name == name {
			writeJSON(w, http.StatusOK, map[string]any{"experiment": s.experimentJSON(e)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", fmt.Sprintf("Could not find experiment with name '%s'", name))
}

func (s *Server) createExperiment(w http.ResponseWriter, name string) {
	for _, e := range s.experiments {
		if e.Name == name {
			writeError(w, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", "experiment "+name+" already exists")
			return
		}
	}
	e := &experiment{ID: s.id(), Name: name}
	s.experiments[e.ID] = e
	writeJSON(w, http.StatusOK, map[string]any{"experiment_id": e.ID})
}

func (s *Server) searchExperiments(w http.ResponseWriter) {
	ids := make([]string, 0, len(s.experiments))
	for id := range s.experiments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	list := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, s.experimentJSON(s.experiments[id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiments": list})
}

func kvs(body map[string]any, key string) map[string]string {
	out := make(map[string]string)
	list, _ := body[key].([]any)
	for _, item := range list {
		kv, _ := item.(map[string]any)
		k, _ := kv["key"].(string)
		v, _ := kv["value"].(string)
		out[k] = v
	}
	return out
}

func (s *Server) runJSON(r *run) map[string]any {
	toList := func(m map[string]string) []map[string]string {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]map[string]string, 0, len(m))
		for _, k := range keys {
			out = append(out, map[string]string{"key": k, "value": m[k]})
		}
		return out
	}
	metrics := make([]map[string]any, 0, len(r.Metrics))
	for k, v := range r.Metrics {
		metrics = append(metrics, map[string]any{"key": k, "value": v})
	}
	return map[string]any{
		"info": map[string]any{
			"run_id":        r.ID,
			"experiment_id": r.ExperimentID,
			"run_name":      r.Name,
			"status":        r.Status,
			"start_time":    r.StartTime,
			"artifact_uri":  fmt.Sprintf("mlflow-artifacts:/%s/%s/artifacts", r.ExperimentID, r.ID),
		},
		"data": map[string]any{
			"metrics": metrics,
			"params":  toList(r.Params),
			"tags":    toList(r.Tags),
		},
	}
}

func (s *Server) createRun(w http.ResponseWriter, body map[string]any) {
	expID := str(body, "experiment_id")
	if _, ok := s.experiments[expID]; !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "no experiment "+expID)
		return
	}
	r := &run{
		ID:           fmt.Sprintf("run%04d", len(s.runs)+1),
		ExperimentID: expID,
		Name:         str(body, "run_name"),
		Status:       "RUNNING",
		StartTime:    time.Now().UnixMilli(),
		Metrics:      make(map[string]float64),
		Params:       make(map[string]string),
		Tags:         kvs(body, "tags"),
	}
	s.runs[r.ID] = r
	writeJSON(w, http.StatusOK, map[string]any{"run": s.runJSON(r)})
}

func (s *Server) getRun(w http.ResponseWriter, id string) {
	r, ok := s.runs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Run '"+id+"' not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": s.runJSON(r)})
}

func (s *Server) logBatch(w http.ResponseWriter, body map[string]any) {
	r, ok := s.runs[str(body, "run_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "run not found")
		return
	}
	list, _ := body["metrics"].([]any)
	for _, item := range list {
		m, _ := item.(map[string]any)
		k, _ := m["key"].(string)
		v, _ := m["value"].(float64)
		r.Metrics[k] = v
	}
	for k, v := range kvs(body, "params") {
		r.Params[k] = v
	}
	for k, v := range kvs(body, "tags") {
		r.Tags[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) setTag(w http.ResponseWriter, body map[string]any) {
	r, ok := s.runs[str(body, "run_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "run not found")
		return
	}
	r.Tags[str(body, "key")] = str(body, "value")
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) updateRun(w http.ResponseWriter, body map[string]any) {
	r, ok := s.runs[str(body, "run_id")]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "run not found")
		return
	}
	r.Status = str(body, "status")
	writeJSON(w, http.StatusOK, map[string]any{"run_info": map[string]any{"run_id": r.ID, "status": r.Status}})
}

func (s *Server) createRegisteredModel(w http.ResponseWriter, name string) {
	if _, ok := s.models[name]; ok {
		writeError(w, http.StatusBadRequest, "RESOURCE_ALREADY_EXISTS", "Registered Model (name="+name+") already exists.")
		return
	}
	s.models[name] = []*Version{}
	writeJSON(w, http.StatusOK, map[string]any{"registered_model": map[string]any{"name": name}})
}

func versionJSON(v *Version) map[string]any {
	return map[string]any{
		"name":               v.Name,
		"version":            strconv.Itoa(v.Version),
		"current_stage":      v.Stage,
		"run_id":             v.RunID,
		"source":             v.Source,
		"status":             "READY",
		"creation_timestamp": v.CreationTimestamp,
	}
}

func (s *Server) getLatestVersions(w http.ResponseWriter, body map[string]any) {
	name := str(body, "name")
	versions, ok := s.models[name]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Registered Model with name="+name+" not found")
		return
	}

	stages := []string{"None", "Staging", "Production", "Archived"}
	if list, ok := body["stages"].([]any); ok && len(list) > 0 {
		stages = stages[:0:0]
		for _, st := range list {
			if v, ok := st.(string); ok {
				stages = append(stages, v)
			}
		}
	}

	out := []map[string]any{}
	for _, stage := range stages {
		var latest *Version
		for _, v := range versions {
			if strings.EqualFold(v.Stage, stage) && (latest == nil || v.Version > latest.Version) {
				latest = v
			}
		}
		if latest != nil {
			out = append(out, versionJSON(latest))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model_versions": out})
}

func (s *Server) createModelVersion(w http.ResponseWriter, body map[string]any) {
	name := str(body, "name")
	versions, ok := s.models[name]
	if !ok {
		writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Registered Model with name="+name+" not found")
		return
	}
	v := &Version{
		Name:              name,
		Version:           len(versions) + 1,
		Stage:             "None",
		RunID:             str(body, "run_id"),
		Source:            str(body, "source"),
		CreationTimestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(versions)) * time.Hour).UnixMilli(),
	}
	s.models[name] = append(versions, v)
	writeJSON(w, http.StatusOK, map[string]any{"model_version": versionJSON(v)})
}

func (s *Server) getDownloadURI(w http.ResponseWriter, name, version string) {
	for _, v := range s.models[name] {
		if strconv.Itoa(v.Version) == version {
			writeJSON(w, http.StatusOK, map[string]any{"artifact_uri": v.Source})
			return
		}
	}
	writeError(w, http.StatusNotFound, "RESOURCE_DOES_NOT_EXIST", "Model Version (name="+name+", version="+version+") not found")
}

// AddVersion registers a new version of name without going through the API.
// The backing run carries metrics and params, and files are stored below
// the run's "model" artifact directory. It returns the version number.
func (s *Server) AddVersion(name, stage string, files map[string][]byte, metrics map[string]float64, params map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exp *experiment
	for _, e := range s.experiments {
		if e.Name == "seeded" {
			exp = e
		}
	}
	if exp == nil {
		exp = &experiment{ID: s.id(), Name: "seeded"}
		s.experiments[exp.ID] = exp
	}

	r := &run{
		ID:           fmt.Sprintf("run%04d", len(s.runs)+1),
		ExperimentID: exp.ID,
		Status:       "FINISHED",
		StartTime:    time.Now().UnixMilli(),
		Metrics:      make(map[string]float64),
		Params:       make(map[string]string),
		Tags:         make(map[string]string),
	}
	for k, v := range metrics {
		r.Metrics[k] = v
	}
	for k, v := range params {
		r.Params[k] = v
	}
	s.runs[r.ID] = r

	root := fmt.Sprintf("%s/%s/artifacts/model", exp.ID, r.ID)
	for file, data := range files {
		s.artifacts[root+"/"+file] = data
	}

	versions := s.models[name]
	v := &Version{
		Name:              name,
		Version:           len(versions) + 1,
		Stage:             stage,
		RunID:             r.ID,
		Source:            "mlflow-artifacts:/" + root,
		CreationTimestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(versions)) * time.Hour).UnixMilli(),
	}
	s.models[name] = append(versions, v)
	return v.Version
}

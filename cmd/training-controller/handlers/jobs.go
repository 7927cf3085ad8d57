// Package handlers implements the training controller routes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HatiCode/iris-mlops/cmd/training-controller/metrics"
	"github.com/HatiCode/iris-mlops/pkg/jobs"
)

// CreatedAtLayout formats job creation times.
const CreatedAtLayout = "2006-01-02 15:04:05"

// Launcher submits, lists and deletes training jobs.
type Launcher interface {
	Submit(ctx context.Context, req jobs.TrainingRequest) (jobs.Submission, error)
	List(ctx context.Context) ([]jobs.Summary, error)
	Delete(ctx context.Context, name string) error
}

var _ Launcher = (*jobs.Launcher)(nil)

// JobJSON is one entry of GET /jobs.
type JobJSON struct {
	JobName   string   `json:"job_name"`
	Status    string   `json:"status"`
	CreatedAt string   `json:"created_at"`
	Pods      []string `json:"pods"`
}

// Parameters echoes the hyperparameters of a submitted job.
type Parameters struct {
	NEstimators int `json:"n_estimators"`
	MaxDepth    int `json:"max_depth"`
}

// TrainResponse is the body of a successful POST /jobs/train.
type TrainResponse struct {
	JobName    string     `json:"job_name"`
	RunName    string     `json:"run_name"`
	Status     string     `json:"status"`
	Parameters Parameters `json:"parameters"`
	Message    string     `json:"message"`
}

// MessageResponse is the body of a successful DELETE.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthHandler reports liveness.
func HealthHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// ListJobsHandler lists training jobs, newest first.
func ListJobsHandler(l Launcher, logger *slog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		summaries, err := l.List(c.Request().Context())
		if err != nil {
			logger.Error("failed to list jobs", "error", err)
			return Detail(http.StatusInternalServerError, "failed to list jobs: %v", err)
		}

		out := make([]JobJSON, 0, len(summaries))
		for _, s := range summaries {
			created := ""
			if !s.CreatedAt.IsZero() {
				created = s.CreatedAt.UTC().Format(CreatedAtLayout)
			}
			out = append(out, JobJSON{
				JobName:   s.Name,
				Status:    string(s.Status),
				CreatedAt: created,
				Pods:      []string{},
			})
		}
		return c.JSON(http.StatusOK, out)
	}
}

// TrainHandler creates a training job from a JSON TrainingRequest. Missing
// fields take their defaults; an empty body trains with all defaults.
func TrainHandler(l Launcher, m *metrics.Metrics, logger *slog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, err := decodeRequest(c.Request().Body)
		if err != nil {
			m.RecordSubmission(metrics.ResultInvalid)
			return Detail(http.StatusUnprocessableEntity, "%v", err)
		}

		sub, err := l.Submit(c.Request().Context(), req)
		if err != nil {
			if errors.Is(err, jobs.ErrInvalidRequest) {
				m.RecordSubmission(metrics.ResultInvalid)
				return Detail(http.StatusUnprocessableEntity, "%v", err)
			}
			m.RecordSubmission(metrics.ResultError)
			logger.Error("failed to create training job", "error", err)
			return Detail(http.StatusInternalServerError, "failed to create job: %v", err)
		}

		m.RecordSubmission(metrics.ResultCreated)
		return c.JSON(http.StatusOK, TrainResponse{
			JobName: sub.JobName,
			RunName: sub.Request.RunName,
			Status:  "Created",
			Parameters: Parameters{
				NEstimators: sub.Request.NEstimators,
				MaxDepth:    sub.Request.MaxDepth,
			},
			Message: "training job created successfully",
		})
	}
}

func decodeRequest(body io.Reader) (jobs.TrainingRequest, error) {
	req := jobs.DefaultRequest()
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return jobs.DefaultRequest(), nil
		}
		return jobs.TrainingRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// DeleteJobHandler deletes the job named by the path parameter param.
func DeleteJobHandler(l Launcher, m *metrics.Metrics, logger *slog.Logger, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param(param)

		if err := l.Delete(c.Request().Context(), name); err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				m.RecordDeletion(metrics.ResultNotFound)
				return Detail(http.StatusNotFound, "job %q not found", name)
			}
			m.RecordDeletion(metrics.ResultError)
			logger.Error("failed to delete training job", "job", name, "error", err)
			return Detail(http.StatusInternalServerError, "failed to delete job: %v", err)
		}

		m.RecordDeletion(metrics.ResultDeleted)
		return c.JSON(http.StatusOK, MessageResponse{Message: fmt.Sprintf("job '%s' deleted", name)})
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	kubeerrors "k8s.io/apimachinery/pkg/api/errors"
	kubelabels "k8s.io/apimachinery/pkg/labels"
)

var (
	// ErrInvalidRequest wraps hyperparameter validation failures.
	ErrInvalidRequest = errors.New("invalid training request")
	// ErrJobNotFound is returned when deleting a job the cluster does not know.
	ErrJobNotFound = errors.New("job not found")
)

// Submission describes a created job.
type Submission struct {
	JobName string
	Request TrainingRequest
}

// Summary is one listed training job.
type Summary struct {
	Name      string
	Status    JobStatus
	CreatedAt time.Time
}

// Launcher submits, lists and deletes training jobs in one namespace.
type Launcher struct {
	client   K8sClient
	template Template
	logger   *slog.Logger

	now    func() time.Time
	suffix func() string
}

// NewLauncher returns a launcher using t for every job. t is validated here
// so a bad template fails at startup instead of on the first submission.
func NewLauncher(client K8sClient, t Template, logger *slog.Logger) (*Launcher, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		client:   client,
		template: t,
		logger:   logger.With("component", "job-launcher", "namespace", t.Namespace),
		now:      time.Now,
		suffix:   randomSuffix,
	}, nil
}

// Namespace returns the namespace jobs are created in.
func (l *Launcher) Namespace() string {
	return l.template.Namespace
}

// Submit validates req, fills the run name and creates the job.
func (l *Launcher) Submit(ctx context.Context, req TrainingRequest) (Submission, error) {
	if err := req.Validate(); err != nil {
		return Submission{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := l.now()
	if req.RunName == "" {
		req.RunName = RunName(now)
	}
	name := JobName(now, l.suffix())

	job := BuildJob(l.template, name, req)
	if _, err := l.client.CreateJob(ctx, l.template.Namespace, job); err != nil {
		return Submission{}, fmt.Errorf("create job %s: %w", name, err)
	}

	l.logger.Info("training job created",
		"job", name,
		"run_name", req.RunName,
		"n_estimators", req.NEstimators,
		"max_depth", req.MaxDepth,
	)
	return Submission{JobName: name, Request: req}, nil
}

// List returns the training jobs in the namespace, newest first.
func (l *Launcher) List(ctx context.Context) ([]Summary, error) {
	selector := kubelabels.SelectorFromSet(kubelabels.Set{"app": l.template.Labels["app"]}).String()
	items, err := l.client.ListJobs(ctx, l.template.Namespace, selector)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]Summary, 0, len(items))
	for i := range items {
		out = append(out, Summary{
			Name:      items[i].Name,
			Status:    StatusOf(&items[i]),
			CreatedAt: items[i].CreationTimestamp.Time,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Delete removes the named job. Its pods are collected in the background.
func (l *Launcher) Delete(ctx context.Context, name string) error {
	if err := l.client.DeleteJob(ctx, l.template.Namespace, name); err != nil {
		if kubeerrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, name)
		}
		return fmt.Errorf("delete job %s: %w", name, err)
	}
	l.logger.Info("training job deleted", "job", name)
	return nil
}

package jobs

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapiresource "k8s.io/apimachinery/pkg/api/resource"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/HatiCode/iris-mlops/pkg/models"
)

const (
	// JobNamePrefix starts every training job name.
	JobNamePrefix = "iris-training"
	// RunNamePrefix starts generated run names.
	RunNamePrefix = "training"
	// ContainerName is the name of the single container of a training pod.
	ContainerName = "training"
	// VolumeName is the pod volume backed by the template PVC.
	VolumeName = "mlops-storage"

	nameTimeLayout = "20060102-150405"

	DefaultEstimators = 100
	DefaultDepth      = 5
)

// TrainingRequest is a request to train one model.
type TrainingRequest struct {
	NEstimators int    `json:"n_estimators"`
	MaxDepth    int    `json:"max_depth"`
	RunName     string `json:"run_name,omitempty"`
}

// DefaultRequest returns the request used for omitted fields.
func DefaultRequest() TrainingRequest {
	return TrainingRequest{NEstimators: DefaultEstimators, MaxDepth: DefaultDepth}
}

// Validate checks the hyperparameter bounds.
func (r TrainingRequest) Validate() error {
	return models.Params{NEstimators: r.NEstimators, MaxDepth: r.MaxDepth}.Validate()
}

// JobName returns "iris-training-YYYYmmdd-HHMMSS-<suffix>". The suffix keeps
// two submissions within the same second apart.
func JobName(now time.Time, suffix string) string {
	return fmt.Sprintf("%s-%s-%s", JobNamePrefix, now.Format(nameTimeLayout), suffix)
}

// RunName returns the run name used when a request does not set one.
func RunName(now time.Time) string {
	return fmt.Sprintf("%s-%s", RunNamePrefix, now.Format(nameTimeLayout))
}

// randomSuffix returns six lowercase hex characters.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// BuildJob renders the Job manifest for req. req must already be validated
// and carry a run name.
func BuildJob(t Template, jobName string, req TrainingRequest) *kubebatch.Job {
	labels := maps.Clone(t.Labels)

	args := []string{
		"--n-estimators", strconv.Itoa(req.NEstimators),
		"--max-depth", strconv.Itoa(req.MaxDepth),
		"--run-name", req.RunName,
	}
	args = append(args, t.Args...)

	container := kubecore.Container{
		Name:            ContainerName,
		Image:           t.Image,
		ImagePullPolicy: kubecore.PullPolicy(t.ImagePullPolicy),
		Command:         slices.Clone(t.Command),
		Args:            args,
		Env:             envVars(t.Env),
		Resources: kubecore.ResourceRequirements{
			Requests: resourceList(t.Resources.Requests),
			Limits:   resourceList(t.Resources.Limits),
		},
	}

	podSpec := kubecore.PodSpec{
		RestartPolicy: kubecore.RestartPolicyNever,
	}
	if t.PVC != "" {
		container.VolumeMounts = []kubecore.VolumeMount{
			{Name: VolumeName, MountPath: t.MountPath},
		}
		podSpec.Volumes = []kubecore.Volume{
			{
				Name: VolumeName,
				VolumeSource: kubecore.VolumeSource{
					PersistentVolumeClaim: &kubecore.PersistentVolumeClaimVolumeSource{
						ClaimName: t.PVC,
					},
				},
			},
		}
	}
	podSpec.Containers = []kubecore.Container{container}

	backoff := t.BackoffLimit
	ttl := t.TTLSecondsAfterFinished

	return &kubebatch.Job{
		TypeMeta: kubeapimeta.TypeMeta{
			APIVersion: "batch/v1",
			Kind:       "Job",
		},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      jobName,
			Namespace: t.Namespace,
			Labels:    labels,
		},
		Spec: kubebatch.JobSpec{
			BackoffLimit:            &backoff,
			TTLSecondsAfterFinished: &ttl,
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{
					Labels: maps.Clone(t.Labels),
				},
				Spec: podSpec,
			},
		},
	}
}

func envVars(env map[string]string) []kubecore.EnvVar {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]kubecore.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, kubecore.EnvVar{Name: k, Value: env[k]})
	}
	return out
}

// resourceList converts validated quantities. Invalid entries are rejected
// by Template.Validate, so MustParse cannot panic for a validated template.
func resourceList(in map[string]string) kubecore.ResourceList {
	if len(in) == 0 {
		return nil
	}
	out := make(kubecore.ResourceList, len(in))
	for k, v := range in {
		out[kubecore.ResourceName(k)] = kubeapiresource.MustParse(v)
	}
	return out
}

// JobStatus is the coarse state of a training job.
type JobStatus string

const (
	Pending   JobStatus = "Pending"
	Running   JobStatus = "Running"
	Succeeded JobStatus = "Succeeded"
	Failed    JobStatus = "Failed"
)

// StatusOf derives the state from the job counters. Active pods win over
// finished ones so a retrying job reads as Running.
func StatusOf(job *kubebatch.Job) JobStatus {
	switch {
	case job.Status.Active > 0:
		return Running
	case job.Status.Succeeded > 0:
		return Succeeded
	case job.Status.Failed > 0:
		return Failed
	default:
		return Pending
	}
}

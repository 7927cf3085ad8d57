package jobs

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/go-containerregistry/pkg/name"
	"gopkg.in/yaml.v3"
	kubeapiresource "k8s.io/apimachinery/pkg/api/resource"
)

// Resources are container resource requests and limits.
type Resources struct {
	Requests map[string]string `yaml:"requests"`
	Limits   map[string]string `yaml:"limits"`
}

// Template is the cluster-side shape of every training job. Fields not set
// in a template file keep their defaults.
type Template struct {
	Namespace               string            `yaml:"namespace"`
	Labels                  map[string]string `yaml:"labels"`
	Image                   string            `yaml:"image"`
	ImagePullPolicy         string            `yaml:"imagePullPolicy"`
	Command                 []string          `yaml:"command"`
	Args                    []string          `yaml:"args"`
	Env                     map[string]string `yaml:"env"`
	PVC                     string            `yaml:"pvc"`
	MountPath               string            `yaml:"mountPath"`
	Resources               Resources         `yaml:"resources"`
	BackoffLimit            int32             `yaml:"backoffLimit"`
	TTLSecondsAfterFinished int32             `yaml:"ttlSecondsAfterFinished"`
}

// DefaultTemplate returns the template used when no file is configured.
func DefaultTemplate() Template {
	return Template{
		Namespace: "mlops-training",
		Labels: map[string]string{
			"app":       "iris-training",
			"component": "training",
		},
		Image:           "ops-demo:training",
		ImagePullPolicy: "IfNotPresent",
		Command:         []string{"/usr/local/bin/trainer"},
		Args:            []string{"--model-dir", "/data/models"},
		Env: map[string]string{
			"MLFLOW_TRACKING_URI": "http://mlflow-service:5000",
			"LOG_FORMAT":          "json",
		},
		PVC:       "mlops-pvc",
		MountPath: "/data",
		Resources: Resources{
			Requests: map[string]string{"cpu": "1000m", "memory": "2Gi"},
			Limits:   map[string]string{"cpu": "2000m", "memory": "4Gi"},
		},
		BackoffLimit:            3,
		TTLSecondsAfterFinished: 3600,
	}
}

// LoadTemplate reads a YAML template from path over the defaults.
func LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read job template: %w", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate decodes YAML over the defaults and validates the result.
func ParseTemplate(data []byte) (Template, error) {
	t := DefaultTemplate()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("parse job template: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	return t, nil
}

// Validate checks the template before any job is built from it.
func (t Template) Validate() error {
	var errs []error

	if t.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if t.Labels["app"] == "" {
		errs = append(errs, errors.New("labels.app is required to list jobs"))
	}
	if _, err := name.ParseReference(t.Image); err != nil {
		errs = append(errs, fmt.Errorf("invalid image %q: %w", t.Image, err))
	}
	switch t.ImagePullPolicy {
	case "", "Always", "IfNotPresent", "Never":
	default:
		errs = append(errs, fmt.Errorf("invalid imagePullPolicy %q", t.ImagePullPolicy))
	}
	if len(t.Command) == 0 {
		errs = append(errs, errors.New("command is required"))
	}
	if t.PVC != "" && t.MountPath == "" {
		errs = append(errs, errors.New("mountPath is required when pvc is set"))
	}
	for kind, list := range map[string]map[string]string{"requests": t.Resources.Requests, "limits": t.Resources.Limits} {
		for res, q := range list {
			if _, err := kubeapiresource.ParseQuantity(q); err != nil {
				errs = append(errs, fmt.Errorf("invalid resources.%s.%s %q: %w", kind, res, q, err))
			}
		}
	}
	if t.BackoffLimit < 0 {
		errs = append(errs, errors.New("backoffLimit must be >= 0"))
	}
	if t.TTLSecondsAfterFinished < 0 {
		errs = append(errs, errors.New("ttlSecondsAfterFinished must be >= 0"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid job template: %w", errors.Join(errs...))
	}
	return nil
}

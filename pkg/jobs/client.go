// Package jobs launches and tracks training runs as Kubernetes Jobs.
//
// The cluster is the only source of truth: nothing about submitted jobs is
// kept in process, so a restarted controller sees exactly what the API
// server reports.
package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	kubebatch "k8s.io/api/batch/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// subset of kubernetes.Interface
type K8sClient interface {
	CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
	ListJobs(ctx context.Context, namespace string, labelSelector string) ([]kubebatch.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error
}

// A wrapper for kubernetes.Interface without method chains.
type k8sClient struct {
	client kubernetes.Interface
}

var _ K8sClient = &k8sClient{}

// WrapK8sClient adapts a clientset (real or fake) to K8sClient.
func WrapK8sClient(c kubernetes.Interface) K8sClient {
	return &k8sClient{client: c}
}

func (k *k8sClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Create(ctx, job, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) ListJobs(ctx context.Context, namespace string, labelSelector string) ([]kubebatch.Job, error) {
	resp, err := k.client.BatchV1().Jobs(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// DeleteJob removes a job and lets the garbage collector remove its pods in
// the background.
func (k *k8sClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	background := kubeapimeta.DeletePropagationBackground
	return k.client.BatchV1().Jobs(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{
		PropagationPolicy: &background,
	})
}

// Connect builds a clientset.
//
// The kubeconfig is searched in this order, last match wins:
//
// - `~/.kube/config`
//
// - environment variable `KUBECONFIG`
//
// - the kubeconfig argument (usually the `-kubeconfig` flag)
//
// When none of them exists the in-cluster configuration is used.
func Connect(kubeconfig string) (kubernetes.Interface, error) {
	path := ""
	if home := homedir.HomeDir(); home != "" {
		path = filepath.Join(home, ".kube", "config")
	}
	if k := os.Getenv("KUBECONFIG"); k != "" {
		path = k
	}
	if kubeconfig != "" {
		path = kubeconfig
	}

	if path != "" {
		stat, err := os.Stat(path)
		if err != nil || stat.IsDir() {
			path = ""
		}
	}

	var (
		config *rest.Config
		err    error
	)
	if path == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", path)
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return clientset, nil
}

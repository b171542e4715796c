package kube

import (
	"context"
	"fmt"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Helm labels every object of a release with its instance name.
const releaseLabel = "app.kubernetes.io/instance"

const pollInterval = 3 * time.Second

// Client handles the Kubernetes-side steps of a deploy.
type Client struct {
	clientset kubernetes.Interface
	config    *rest.Config
}

// New creates a client from a kubeconfig path; empty means in-cluster config.
func New(kubeconfig string) (*Client, error) {
	var config *rest.Config
	var err error

	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{clientset: clientset, config: config}, nil
}

// NewWithClientset wires an existing clientset; tests use this with a fake.
func NewWithClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// ServerVersion verifies connectivity and returns the cluster version.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	version, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get server version: %w", err)
	}
	return version.GitVersion, nil
}

// EnsureNamespace creates the namespace when absent. Reports whether it was
// created.
func (c *Client) EnsureNamespace(ctx context.Context, namespace string) (bool, error) {
	_, err := c.clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return false, nil
	}
	if !apierrors.IsNotFound(err) {
		return false, fmt.Errorf("failed to get namespace %s: %w", namespace, err)
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	if _, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create namespace %s: %w", namespace, err)
	}
	return true, nil
}

// WaitForRollout polls every Deployment of the release until all converge or
// the timeout elapses.
func (c *Client) WaitForRollout(ctx context.Context, namespace, release string, timeout time.Duration) error {
	selector := fmt.Sprintf("%s=%s", releaseLabel, release)

	var lastPending string
	err := wait.PollUntilContextTimeout(ctx, pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		list, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return false, err
		}
		if len(list.Items) == 0 {
			lastPending = "no deployments found for release " + release
			return false, nil
		}
		for _, d := range list.Items {
			if !deploymentReady(&d) {
				lastPending = fmt.Sprintf("deployment %s not ready (%d/%d available)",
					d.Name, d.Status.AvailableReplicas, replicaTarget(&d))
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		if lastPending != "" {
			return fmt.Errorf("rollout did not converge: %s: %w", lastPending, err)
		}
		return fmt.Errorf("rollout did not converge: %w", err)
	}
	return nil
}

// deploymentReady mirrors what kubectl rollout status checks: the controller
// has observed the latest generation and every replica is updated and
// available with no stragglers from the old ReplicaSet.
func deploymentReady(d *appsv1.Deployment) bool {
	if d.Generation > d.Status.ObservedGeneration {
		return false
	}
	target := replicaTarget(d)
	return d.Status.UpdatedReplicas == target &&
		d.Status.AvailableReplicas == target &&
		d.Status.Replicas == target
}

func replicaTarget(d *appsv1.Deployment) int32 {
	if d.Spec.Replicas == nil {
		return 1
	}
	return *d.Spec.Replicas
}

// ProbeService GETs a path on a service through the API server proxy and
// fails on any non-2xx answer. This replaces a local port-forward.
func (c *Client) ProbeService(ctx context.Context, namespace, service string, port int, path string) error {
	result := c.clientset.CoreV1().RESTClient().Get().
		Namespace(namespace).
		Resource("services").
		Name(fmt.Sprintf("%s:%d", service, port)).
		SubResource("proxy").
		Suffix(strings.TrimPrefix(path, "/")).
		Do(ctx)
	if err := result.Error(); err != nil {
		return fmt.Errorf("probe %s on service %s:%d: %w", path, service, port, err)
	}
	return nil
}

package kube

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes/fake"
)

func TestServerVersion(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.31.3"}

	got, err := NewWithClientset(clientset).ServerVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.31.3", got)
}

func TestEnsureNamespaceCreates(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := NewWithClientset(clientset)

	created, err := client.EnsureNamespace(context.Background(), "demo-dev")
	require.NoError(t, err)
	assert.True(t, created)

	// second call finds it
	created, err = client.EnsureNamespace(context.Background(), "demo-dev")
	require.NoError(t, err)
	assert.False(t, created)
}

func deployment(name, release string, replicas, updated, available int32, gen, observed int64) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  "demo-dev",
			Labels:     map[string]string{releaseLabel: release},
			Generation: gen,
		},
		Spec: appsv1.DeploymentSpec{Replicas: &replicas},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: observed,
			Replicas:           updated,
			UpdatedReplicas:    updated,
			AvailableReplicas:  available,
		},
	}
}

func TestWaitForRolloutConverged(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		deployment("web", "springboot-demo", 2, 2, 2, 1, 1),
	)
	client := NewWithClientset(clientset)

	err := client.WaitForRollout(context.Background(), "demo-dev", "springboot-demo", time.Second)
	assert.NoError(t, err)
}

func TestWaitForRolloutPending(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		deployment("web", "springboot-demo", 2, 2, 1, 1, 1), // one replica still unavailable
	)
	client := NewWithClientset(clientset)

	// timeout below the poll interval so the immediate check decides
	err := client.WaitForRollout(context.Background(), "demo-dev", "springboot-demo", 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestWaitForRolloutNoDeployments(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset())

	err := client.WaitForRollout(context.Background(), "demo-dev", "springboot-demo", 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no deployments found")
}

func TestWaitForRolloutStaleGeneration(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		deployment("web", "springboot-demo", 1, 1, 1, 2, 1), // controller lagging
	)
	client := NewWithClientset(clientset)

	err := client.WaitForRollout(context.Background(), "demo-dev", "springboot-demo", 50*time.Millisecond)
	assert.Error(t, err)
}

func TestWaitForRolloutIgnoresOtherReleases(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		deployment("other", "another-release", 1, 0, 0, 1, 1),
		deployment("web", "springboot-demo", 1, 1, 1, 1, 1),
	)
	client := NewWithClientset(clientset)

	err := client.WaitForRollout(context.Background(), "demo-dev", "springboot-demo", time.Second)
	assert.NoError(t, err)
}

package kube

import (
	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
	"github.com/bryanwahyu/automaton-cicd/internal/infra/helm"
)

// Factory builds the cluster and release clients for a deploy request's
// kubeconfig. Satisfies the deploy service's ClientFactory.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Clients(kubeconfigPath, namespace string) (domain.Cluster, domain.Releases, error) {
	cluster, err := New(kubeconfigPath)
	if err != nil {
		return nil, nil, err
	}
	return cluster, helm.NewClientWithKubeconfig(kubeconfigPath), nil
}

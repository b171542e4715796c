package deploy

import (
	"context"
	"time"
)

// Cluster port: the Kubernetes-side operations of the deploy sequence.
type Cluster interface {
	// ServerVersion verifies connectivity and returns the cluster version.
	ServerVersion(ctx context.Context) (string, error)
	// EnsureNamespace creates the namespace if absent. Reports whether it
	// had to be created.
	EnsureNamespace(ctx context.Context, namespace string) (bool, error)
	// WaitForRollout blocks until every Deployment belonging to the release
	// has converged or the timeout elapses.
	WaitForRollout(ctx context.Context, namespace, release string, timeout time.Duration) error
	// ProbeService issues an HTTP GET against a service path through the
	// API server proxy and fails on non-2xx.
	ProbeService(ctx context.Context, namespace, service string, port int, path string) error
}

// UpgradeRequest is what Releases needs to run one atomic upgrade.
type UpgradeRequest struct {
	Release     string
	Namespace   string
	Chart       string
	ValuesFiles []string
	SetValues   map[string]string
	Timeout     time.Duration
}

// Releases port: Helm release lifecycle.
type Releases interface {
	// DeployedRevision returns the current revision, 0 when the release
	// does not exist yet.
	DeployedRevision(ctx context.Context, namespace, release string) (int, error)
	// UpgradeOrInstall runs an atomic upgrade (install on first deploy) and
	// returns the new revision.
	UpgradeOrInstall(ctx context.Context, req UpgradeRequest) (int, error)
	// Rollback reverts the release to the given revision and waits.
	Rollback(ctx context.Context, namespace, release string, toRevision int) error
}

// Repository port for persisting deployments
type Repository interface {
	Save(ctx context.Context, d *Deployment) error
	Get(ctx context.Context, tenant string, id DeployID) (*Deployment, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*Deployment, error)
}

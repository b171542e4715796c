package deploy

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-cicd/internal/application"
	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
)

type fakeCluster struct {
	versionErr error
	nsErr      error
	rolloutErr error
	probeErr   map[string]error

	rolloutCalls int
	probed       []string
}

func (f *fakeCluster) ServerVersion(ctx context.Context) (string, error) {
	return "v1.31.0", f.versionErr
}

func (f *fakeCluster) EnsureNamespace(ctx context.Context, ns string) (bool, error) {
	return true, f.nsErr
}

func (f *fakeCluster) WaitForRollout(ctx context.Context, ns, release string, timeout time.Duration) error {
	f.rolloutCalls++
	return f.rolloutErr
}

func (f *fakeCluster) ProbeService(ctx context.Context, ns, service string, port int, path string) error {
	f.probed = append(f.probed, path)
	if f.probeErr == nil {
		return nil
	}
	return f.probeErr[path]
}

type fakeReleases struct {
	revision    int
	upgradeErr  error
	rollbackErr error

	upgraded   []domain.UpgradeRequest
	rolledBack []int
}

func (f *fakeReleases) DeployedRevision(ctx context.Context, ns, release string) (int, error) {
	return f.revision, nil
}

func (f *fakeReleases) UpgradeOrInstall(ctx context.Context, req domain.UpgradeRequest) (int, error) {
	f.upgraded = append(f.upgraded, req)
	if f.upgradeErr != nil {
		return 0, f.upgradeErr
	}
	return f.revision + 1, nil
}

func (f *fakeReleases) Rollback(ctx context.Context, ns, release string, to int) error {
	f.rolledBack = append(f.rolledBack, to)
	return f.rollbackErr
}

type fakeFactory struct {
	cluster  *fakeCluster
	releases *fakeReleases
	err      error
}

func (f *fakeFactory) Clients(kubeconfigPath, namespace string) (domain.Cluster, domain.Releases, error) {
	return f.cluster, f.releases, f.err
}

type memRepo struct {
	saved []*domain.Deployment
}

func (m *memRepo) Save(ctx context.Context, d *domain.Deployment) error {
	m.saved = append(m.saved, d)
	return nil
}

func (m *memRepo) Get(ctx context.Context, tenant string, id domain.DeployID) (*domain.Deployment, error) {
	for _, d := range m.saved {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (m *memRepo) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Deployment, error) {
	return m.saved, nil
}

func kubeconfigB64() string {
	return base64.StdEncoding.EncodeToString([]byte("apiVersion: v1\nkind: Config\n"))
}

func baseRequest() domain.Request {
	return domain.Request{
		Environment:   domain.EnvDev,
		Release:       "springboot-demo",
		Namespace:     "demo-dev",
		Chart:         "./charts/springboot-demo",
		ImageTag:      "1.2.3",
		KubeconfigB64: kubeconfigB64(),
		Service:       "springboot-demo",
		ServicePort:   8080,
		SmokePaths:    []string{"/actuator/health", "/actuator/health/readiness"},
	}
}

func newService(f *fakeFactory, repo *memRepo) *Service {
	return NewService(f, repo, nil, application.FixedClock{T: time.Unix(1700000000, 0)}, nil)
}

func TestRunHappyPath(t *testing.T) {
	cluster := &fakeCluster{}
	releases := &fakeReleases{revision: 3}
	repo := &memRepo{}
	svc := newService(&fakeFactory{cluster: cluster, releases: releases}, repo)

	d, err := svc.Run(context.Background(), "acme", baseRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSucceeded, d.Status)
	assert.Equal(t, 4, d.Revision)
	assert.Zero(t, d.RolledBackTo)

	// image tag override reaches helm as image.tag
	require.Len(t, releases.upgraded, 1)
	assert.Equal(t, "1.2.3", releases.upgraded[0].SetValues["image.tag"])

	// all smoke endpoints probed
	assert.Equal(t, []string{"/actuator/health", "/actuator/health/readiness"}, cluster.probed)

	names := stepNames(d)
	assert.Equal(t, []string{
		domain.StepKubeconfig,
		domain.StepClusterInfo,
		domain.StepNamespace,
		domain.StepUpgrade,
		domain.StepRollout,
		domain.StepSmoke,
	}, names)

	// final state persisted
	require.NotEmpty(t, repo.saved)
	assert.Equal(t, domain.StatusSucceeded, repo.saved[len(repo.saved)-1].Status)
}

func TestRunBadKubeconfig(t *testing.T) {
	svc := newService(&fakeFactory{cluster: &fakeCluster{}, releases: &fakeReleases{}}, &memRepo{})

	req := baseRequest()
	req.KubeconfigB64 = "not-base64!!"

	d, err := svc.Run(context.Background(), "acme", req)
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Equal(t, []string{domain.StepKubeconfig}, stepNames(d))
}

func TestRunUpgradeFailureStopsSequence(t *testing.T) {
	cluster := &fakeCluster{}
	releases := &fakeReleases{revision: 1, upgradeErr: errors.New("timed out waiting for the condition")}
	svc := newService(&fakeFactory{cluster: cluster, releases: releases}, &memRepo{})

	d, err := svc.Run(context.Background(), "acme", baseRequest())
	require.Error(t, err)

	assert.Equal(t, domain.StatusFailed, d.Status)
	// atomic upgrade reverts on its own; no explicit rollback and no rollout wait
	assert.Empty(t, releases.rolledBack)
	assert.Zero(t, cluster.rolloutCalls)
}

func TestRunSmokeFailureRollsBack(t *testing.T) {
	cluster := &fakeCluster{probeErr: map[string]error{"/actuator/health": errors.New("503")}}
	releases := &fakeReleases{revision: 5}
	svc := newService(&fakeFactory{cluster: cluster, releases: releases}, &memRepo{})

	req := baseRequest()
	req.RollbackOnSmokeFailure = true

	d, err := svc.Run(context.Background(), "acme", req)
	require.Error(t, err)

	assert.Equal(t, domain.StatusRolledBack, d.Status)
	assert.Equal(t, []int{5}, releases.rolledBack)
	assert.Equal(t, 5, d.RolledBackTo)
	// rollout waited once for the upgrade and once after the rollback
	assert.Equal(t, 2, cluster.rolloutCalls)
	assert.Contains(t, stepNames(d), domain.StepRollback)
}

func TestRunSmokeFailureNoRollbackOnFirstInstall(t *testing.T) {
	cluster := &fakeCluster{probeErr: map[string]error{"/actuator/health": errors.New("503")}}
	releases := &fakeReleases{revision: 0} // nothing deployed before
	svc := newService(&fakeFactory{cluster: cluster, releases: releases}, &memRepo{})

	req := baseRequest()
	req.RollbackOnSmokeFailure = true

	d, err := svc.Run(context.Background(), "acme", req)
	require.Error(t, err)

	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Empty(t, releases.rolledBack)
}

func TestRunSmokeFailureWithoutRollbackFlag(t *testing.T) {
	cluster := &fakeCluster{probeErr: map[string]error{"/actuator/health": errors.New("503")}}
	releases := &fakeReleases{revision: 5}
	svc := newService(&fakeFactory{cluster: cluster, releases: releases}, &memRepo{})

	d, err := svc.Run(context.Background(), "acme", baseRequest())
	require.Error(t, err)

	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Empty(t, releases.rolledBack)
}

func TestRunSmokeSkippedWithoutService(t *testing.T) {
	cluster := &fakeCluster{}
	releases := &fakeReleases{}
	svc := newService(&fakeFactory{cluster: cluster, releases: releases}, &memRepo{})

	req := baseRequest()
	req.Service = ""

	d, err := svc.Run(context.Background(), "acme", req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, d.Status)
	assert.Empty(t, cluster.probed)
}

func stepNames(d *domain.Deployment) []string {
	names := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		names = append(names, s.Name)
	}
	return names
}

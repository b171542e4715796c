package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-cicd/internal/application"
	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
	"github.com/bryanwahyu/automaton-cicd/internal/domain/piperrors"
)

// ClientFactory builds cluster-side clients for a materialized kubeconfig.
// Deploys carry their own kubeconfig secret, so clients are per-request.
type ClientFactory interface {
	Clients(kubeconfigPath, namespace string) (domain.Cluster, domain.Releases, error)
}

// Service runs the deploy sequence: kubeconfig → cluster check → namespace →
// atomic helm upgrade → rollout wait → smoke tests → rollback on smoke
// failure. Every step is recorded on the Deployment aggregate.
type Service struct {
	Factory ClientFactory
	Repo    domain.Repository
	Errors  piperrors.Repository
	Clock   application.Clock
	Logger  *zap.Logger
}

func NewService(factory ClientFactory, repo domain.Repository, errs piperrors.Repository, clock application.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Factory: factory, Repo: repo, Errors: errs, Clock: clock, Logger: logger}
}

const defaultTimeout = 5 * time.Minute

// Run executes one deploy end to end. The returned Deployment is populated
// even on failure so callers can see how far the sequence got.
func (s *Service) Run(ctx context.Context, tenant string, req domain.Request) (*domain.Deployment, error) {
	start := s.Clock.Now()
	id := fmt.Sprintf("%s-deploy-%s", uuid.New().String(), req.Environment)

	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}

	d := &domain.Deployment{
		ID:          domain.DeployID(id),
		TenantID:    tenant,
		StartedAt:   start,
		Environment: req.Environment,
		Release:     req.Release,
		Namespace:   req.Namespace,
		Chart:       req.Chart,
		ImageTag:    req.ImageTag,
		Status:      domain.StatusRunning,
		CommitSHA:   req.CommitSHA,
		Branch:      req.Branch,
	}
	s.save(ctx, d)

	log := s.Logger.With(
		zap.String("deploy_id", id),
		zap.String("tenant", tenant),
		zap.String("env", string(req.Environment)),
		zap.String("release", req.Release),
		zap.String("namespace", req.Namespace),
	)

	kubeconfigPath, cleanup, err := materializeKubeconfig(req.KubeconfigB64)
	s.step(d, log, domain.StepKubeconfig, err)
	if err != nil {
		return s.finish(ctx, d, start, domain.StatusFailed, err)
	}
	defer cleanup()

	cluster, releases, err := s.Factory.Clients(kubeconfigPath, req.Namespace)
	if err != nil {
		s.step(d, log, domain.StepClusterInfo, err)
		return s.finish(ctx, d, start, domain.StatusFailed, err)
	}

	version, err := cluster.ServerVersion(ctx)
	s.stepMsg(d, log, domain.StepClusterInfo, version, err)
	if err != nil {
		return s.finish(ctx, d, start, domain.StatusFailed, err)
	}

	created, err := cluster.EnsureNamespace(ctx, req.Namespace)
	msg := "exists"
	if created {
		msg = "created"
	}
	s.stepMsg(d, log, domain.StepNamespace, msg, err)
	if err != nil {
		return s.finish(ctx, d, start, domain.StatusFailed, err)
	}

	// Revision to roll back to must be read before the upgrade; 0 means
	// first install, nothing to roll back to.
	prevRevision, err := releases.DeployedRevision(ctx, req.Namespace, req.Release)
	if err != nil {
		s.step(d, log, domain.StepUpgrade, err)
		return s.finish(ctx, d, start, domain.StatusFailed, err)
	}

	setValues := map[string]string{}
	for k, v := range req.SetValues {
		setValues[k] = v
	}
	if req.ImageTag != "" {
		setValues["image.tag"] = req.ImageTag
	}

	revision, err := releases.UpgradeOrInstall(ctx, domain.UpgradeRequest{
		Release:     req.Release,
		Namespace:   req.Namespace,
		Chart:       req.Chart,
		ValuesFiles: req.ValuesFiles,
		SetValues:   setValues,
		Timeout:     req.Timeout,
	})
	s.stepMsg(d, log, domain.StepUpgrade, fmt.Sprintf("revision %d", revision), err)
	if err != nil {
		// --atomic already reverted the release; nothing more to do here
		return s.finish(ctx, d, start, domain.StatusFailed, err)
	}
	d.Revision = revision

	err = cluster.WaitForRollout(ctx, req.Namespace, req.Release, req.Timeout)
	s.step(d, log, domain.StepRollout, err)
	if err != nil {
		return s.finish(ctx, d, start, domain.StatusFailed, err)
	}

	if err := s.smoke(ctx, d, log, cluster, req); err != nil {
		if !req.RollbackOnSmokeFailure || prevRevision == 0 {
			return s.finish(ctx, d, start, domain.StatusFailed, err)
		}

		rbErr := releases.Rollback(ctx, req.Namespace, req.Release, prevRevision)
		if rbErr == nil {
			rbErr = cluster.WaitForRollout(ctx, req.Namespace, req.Release, req.Timeout)
		}
		s.stepMsg(d, log, domain.StepRollback, fmt.Sprintf("to revision %d", prevRevision), rbErr)
		if rbErr != nil {
			return s.finish(ctx, d, start, domain.StatusFailed, fmt.Errorf("smoke failed and rollback failed: %w", rbErr))
		}
		d.RolledBackTo = prevRevision
		return s.finish(ctx, d, start, domain.StatusRolledBack, err)
	}

	return s.finish(ctx, d, start, domain.StatusSucceeded, nil)
}

func (s *Service) smoke(ctx context.Context, d *domain.Deployment, log *zap.Logger, cluster domain.Cluster, req domain.Request) error {
	if len(req.SmokePaths) == 0 || req.Service == "" {
		s.stepMsg(d, log, domain.StepSmoke, "skipped", nil)
		return nil
	}
	for _, path := range req.SmokePaths {
		if err := cluster.ProbeService(ctx, req.Namespace, req.Service, req.ServicePort, path); err != nil {
			s.stepMsg(d, log, domain.StepSmoke, path, err)
			return fmt.Errorf("smoke test %s: %w", path, err)
		}
	}
	s.stepMsg(d, log, domain.StepSmoke, fmt.Sprintf("%d endpoints ok", len(req.SmokePaths)), nil)
	return nil
}

func (s *Service) step(d *domain.Deployment, log *zap.Logger, name string, err error) {
	s.stepMsg(d, log, name, "", err)
}

func (s *Service) stepMsg(d *domain.Deployment, log *zap.Logger, name, msg string, err error) {
	status := domain.StatusSucceeded
	if err != nil {
		status = domain.StatusFailed
		if msg == "" {
			msg = err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
	}
	var elapsed int64
	if n := len(d.Steps); n > 0 {
		// step duration = time since the previous step finished
		prev := d.StartedAt.Add(time.Duration(stepOffset(d)) * time.Millisecond)
		elapsed = s.Clock.Now().Sub(prev).Milliseconds()
	} else {
		elapsed = s.Clock.Now().Sub(d.StartedAt).Milliseconds()
	}
	if elapsed < 0 {
		elapsed = 0
	}
	d.Steps = append(d.Steps, domain.StepResult{Name: name, Status: status, Message: msg, DurationMS: elapsed})

	if err != nil {
		log.Warn("deploy step failed", zap.String("step", name), zap.Error(err))
	} else {
		log.Info("deploy step ok", zap.String("step", name), zap.String("detail", msg))
	}
}

func stepOffset(d *domain.Deployment) int64 {
	var total int64
	for _, st := range d.Steps {
		total += st.DurationMS
	}
	return total
}

func (s *Service) finish(ctx context.Context, d *domain.Deployment, start time.Time, status domain.Status, cause error) (*domain.Deployment, error) {
	d.Status = status
	d.DurationMS = s.Clock.Now().Sub(start).Milliseconds()
	s.save(ctx, d)
	if cause != nil {
		s.recordError(d, cause)
	}
	return d, cause
}

func (s *Service) save(ctx context.Context, d *domain.Deployment) {
	if s.Repo == nil {
		return
	}
	if err := s.Repo.Save(ctx, d); err != nil {
		s.Logger.Warn("persist deployment", zap.String("deploy_id", string(d.ID)), zap.Error(err))
	}
}

func (s *Service) recordError(d *domain.Deployment, cause error) {
	if s.Errors == nil {
		return
	}
	details, _ := json.Marshal(map[string]any{"error": cause.Error(), "steps": d.Steps})
	_ = s.Errors.Save(context.Background(), &piperrors.PipeError{
		TenantID:    d.TenantID,
		RunID:       string(d.ID),
		Pipe:        "deploy",
		Phase:       "deploy",
		Message:     cause.Error(),
		DetailsJSON: string(details),
		CreatedAt:   s.Clock.Now(),
	})
}

// Get ambil 1 deployment by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.DeployID) (*domain.Deployment, error) {
	if s.Repo == nil {
		return nil, fmt.Errorf("deployment persistence not configured")
	}
	return s.Repo.Get(ctx, tenant, id)
}

// Latest ambil N deployment terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Deployment, error) {
	if s.Repo == nil {
		return nil, fmt.Errorf("deployment persistence not configured")
	}
	return s.Repo.Latest(ctx, tenant, limit)
}

// materializeKubeconfig decodes the base64 secret into a 0600 temp file.
// The caller must invoke cleanup to drop the credentials from disk.
func materializeKubeconfig(b64 string) (string, func(), error) {
	if b64 == "" {
		return "", nil, fmt.Errorf("kubeconfig secret is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("decode kubeconfig: %w", err)
	}
	f, err := os.CreateTemp("", "kubeconfig-*")
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-cicd/internal/application"
	appai "github.com/bryanwahyu/automaton-cicd/internal/application/ai"
	appdeploy "github.com/bryanwahyu/automaton-cicd/internal/application/deploy"
	apppipes "github.com/bryanwahyu/automaton-cicd/internal/application/pipes"
	"github.com/bryanwahyu/automaton-cicd/internal/config"
	depdomain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/pipes"
)

type memRepo struct {
	runs map[domain.RunID]*domain.PipeRun
}

func newMemRepo() *memRepo { return &memRepo{runs: map[domain.RunID]*domain.PipeRun{}} }

func (m *memRepo) Save(ctx context.Context, r *domain.PipeRun) error {
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *memRepo) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.PipeRun, error) {
	r, ok := m.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r, nil
}

func (m *memRepo) Latest(ctx context.Context, tenant string, limit int) ([]*domain.PipeRun, error) {
	out := []*domain.PipeRun{}
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error) {
	return len(m.runs), 0, 0, 0, nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, tenant string, id domain.RunID, status domain.Status) error {
	if r, ok := m.runs[id]; ok {
		r.Status = status
	}
	return nil
}

func (m *memRepo) UpdateResult(ctx context.Context, tenant string, id domain.RunID, status domain.Status, artifactURL string, counts domain.SeverityCounts) error {
	if r, ok := m.runs[id]; ok {
		r.Status = status
		r.ArtifactURL = artifactURL
		r.Counts = counts
	}
	return nil
}

func (m *memRepo) Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	runs, _ := m.Latest(ctx, tenant, pageSize)
	return domain.PaginatedResult{Data: runs, Page: page, PageSize: pageSize, Total: int64(len(runs)), TotalPages: 1}, nil
}

func (m *memRepo) Cursor(ctx context.Context, tenant string, cursorTime time.Time, cursorID string, pageSize int) ([]*domain.PipeRun, error) {
	return m.Latest(ctx, tenant, pageSize)
}

type fakeRunner struct {
	result domain.RunResult
	done   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	if f.done != nil {
		defer close(f.done)
	}
	return f.result, nil
}

type fakeCluster struct{}

func (fakeCluster) ServerVersion(ctx context.Context) (string, error) { return "v1.31.3", nil }
func (fakeCluster) EnsureNamespace(ctx context.Context, ns string) (bool, error) {
	return false, nil
}
func (fakeCluster) WaitForRollout(ctx context.Context, ns, release string, timeout time.Duration) error {
	return nil
}
func (fakeCluster) ProbeService(ctx context.Context, ns, service string, port int, path string) error {
	return nil
}

type fakeReleases struct{}

func (fakeReleases) DeployedRevision(ctx context.Context, ns, release string) (int, error) {
	return 2, nil
}
func (fakeReleases) UpgradeOrInstall(ctx context.Context, req depdomain.UpgradeRequest) (int, error) {
	return 3, nil
}
func (fakeReleases) Rollback(ctx context.Context, ns, release string, revision int) error {
	return nil
}

type fakeFactory struct{}

func (fakeFactory) Clients(kubeconfigPath, namespace string) (depdomain.Cluster, depdomain.Releases, error) {
	return fakeCluster{}, fakeReleases{}, nil
}

func testRouter(t *testing.T, repo *memRepo, runner *fakeRunner) http.Handler {
	t.Helper()
	pipesSvc := &apppipes.Service{Repo: repo, Runner: runner, Clock: application.SystemClock{}}
	deploySvc := appdeploy.NewService(fakeFactory{}, nil, nil, application.SystemClock{}, nil)
	aiSvc := appai.NewService(stubAI{}, nil)
	envs := map[string]config.EnvironmentConfig{
		"prod": {Namespace: "app-prod", RollbackOnSmokeFailure: true},
	}
	return NewRouter(pipesSvc, deploySvc, aiSvc, nil, envs, nil)
}

type stubAI struct{}

func (stubAI) Analyze(ctx context.Context, fileURL string) (string, error) {
	return `{"file_url":"` + fileURL + `"}`, nil
}

func TestTriggerPipeRejectsUnknownPipe(t *testing.T) {
	h := testRouter(t, newMemRepo(), &fakeRunner{})

	body := bytes.NewBufferString(`{"pipe":"dropdb"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/acme/webhook/pipeline", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid pipe")
}

func TestTriggerPipeQueuesBackgroundRun(t *testing.T) {
	repo := newMemRepo()
	runner := &fakeRunner{done: make(chan struct{})}
	h := testRouter(t, repo, runner)

	body := bytes.NewBufferString(`{"pipe":"secrets","workspace":".","branch":"main"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/acme/webhook/pipeline", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, "secrets", resp["pipe"])

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background run never started")
	}
}

func TestGetRunNotFound(t *testing.T) {
	h := testRouter(t, newMemRepo(), &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/v1/acme/runs/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaginatePassesFilters(t *testing.T) {
	repo := newMemRepo()
	repo.runs["x"] = &domain.PipeRun{ID: "x", TenantID: "acme", Pipe: domain.PipeSecurity}
	h := testRouter(t, repo, &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/v1/acme/runs?page=1&page_size=10&pipe=security", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.PaginatedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.EqualValues(t, 1, result.Total)
}

func TestDeployRequiresKubeconfig(t *testing.T) {
	h := testRouter(t, newMemRepo(), &fakeRunner{})

	body := bytes.NewBufferString(`{"environment":"prod","release":"app","chart":"./chart"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/acme/deployments", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "kubeconfig_b64")
}

func TestDeployUsesEnvironmentDefaults(t *testing.T) {
	h := testRouter(t, newMemRepo(), &fakeRunner{})

	kubeconfig := base64.StdEncoding.EncodeToString([]byte("apiVersion: v1\nkind: Config\n"))
	payload := map[string]any{
		"environment":    "prod",
		"release":        "app",
		"chart":          "./chart",
		"image_tag":      "1.2.3",
		"kubeconfig_b64": kubeconfig,
	}
	raw, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/v1/acme/deployments", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var d depdomain.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, depdomain.StatusSucceeded, d.Status)
	// namespace comes from the prod environment config
	assert.Equal(t, "app-prod", d.Namespace)
	assert.Equal(t, 3, d.Revision)
}

func TestDeployRejectsBadEnvironment(t *testing.T) {
	h := testRouter(t, newMemRepo(), &fakeRunner{})

	body := bytes.NewBufferString(`{"environment":"qa","release":"app","chart":"./chart","kubeconfig_b64":"Zm9v"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/acme/deployments", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid environment")
}

func TestAIAnalyzeLatestRequiresRunID(t *testing.T) {
	h := testRouter(t, newMemRepo(), &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/v1/acme/ai/analyze/latest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidTenantRejected(t *testing.T) {
	h := testRouter(t, newMemRepo(), &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/v1/bad%20tenant/runs/latest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package pipes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-cicd/internal/application"
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
	return m.runs[id], nil
}

func (m *memRepo) Latest(ctx context.Context, tenant string, limit int) ([]*domain.PipeRun, error) {
	var out []*domain.PipeRun
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
	err    error
	got    domain.RunRequest
}

func (f *fakeRunner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	f.got = req
	return f.result, f.err
}

type fakeStore struct {
	url string
	err error
	key string
}

func (f *fakeStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	f.key = key
	return f.url, f.err
}

func (f *fakeStore) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	f.key = key
	if f.err == nil {
		os.Remove(localPath)
	}
	return f.url, f.err
}

type fakeSource struct {
	sha, branch string
}

func (f *fakeSource) Resolve(workspace string) (string, string, error) {
	return f.sha, f.branch, nil
}

func artifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTriggerPipeSuccess(t *testing.T) {
	report := artifact(t, "gitleaks.json", `[{"RuleID":"aws-access-key"}]`)
	runner := &fakeRunner{result: domain.RunResult{
		LocalArtifactPath: report,
		RawFormat:         "json",
		ExitCode:          1,
		DurationMS:        1200,
	}}
	repo := newMemRepo()
	store := &fakeStore{url: "http://minio/artifacts/acme/secrets/gitleaks.json"}

	svc := &Service{Repo: repo, Runner: runner, Artifacts: store, Clock: application.SystemClock{}}

	res, err := svc.TriggerPipe(context.Background(), TriggerPipeCommand{
		TenantID: "acme",
		Pipe:     "secrets",
		Image:    "",
		Source:   "bitbucket",
		Branch:   "main",
	})
	require.NoError(t, err)

	// exit code 1 → failed, and counts come from the parsed report
	assert.Equal(t, string(domain.StatusFailed), res.Status)
	assert.Equal(t, domain.SeverityCounts{Critical: 1, Total: 1}, res.Counts)
	assert.Equal(t, store.url, res.ArtifactURL)
	assert.Contains(t, store.key, "acme/secrets/")

	saved := repo.runs[domain.RunID(res.ID)]
	require.NotNil(t, saved)
	assert.Equal(t, domain.StatusFailed, saved.Status)
}

func TestTriggerPipeResolvesSourceMetadata(t *testing.T) {
	report := artifact(t, "mvn.log", "[INFO] BUILD SUCCESS")
	runner := &fakeRunner{result: domain.RunResult{LocalArtifactPath: report, RawFormat: "log"}}
	repo := newMemRepo()

	svc := &Service{
		Repo:   repo,
		Runner: runner,
		Source: &fakeSource{sha: "abc123", branch: "feature/x"},
		Clock:  application.SystemClock{},
	}

	res, err := svc.TriggerPipe(context.Background(), TriggerPipeCommand{
		TenantID:  "acme",
		Pipe:      "build",
		Workspace: "/workspace",
	})
	require.NoError(t, err)

	saved := repo.runs[domain.RunID(res.ID)]
	require.NotNil(t, saved)
	assert.Equal(t, "abc123", saved.CommitSHA)
	assert.Equal(t, "feature/x", saved.Branch)
}

func TestTriggerPipeExplicitMetadataWins(t *testing.T) {
	report := artifact(t, "mvn.log", "[INFO] BUILD SUCCESS")
	runner := &fakeRunner{result: domain.RunResult{LocalArtifactPath: report}}
	repo := newMemRepo()

	svc := &Service{
		Repo:   repo,
		Runner: runner,
		Source: &fakeSource{sha: "resolver-sha", branch: "resolver-branch"},
		Clock:  application.SystemClock{},
	}

	res, err := svc.TriggerPipe(context.Background(), TriggerPipeCommand{
		TenantID:  "acme",
		Pipe:      "build",
		Workspace: "/workspace",
		CommitSHA: "env-sha",
		Branch:    "env-branch",
	})
	require.NoError(t, err)

	saved := repo.runs[domain.RunID(res.ID)]
	assert.Equal(t, "env-sha", saved.CommitSHA)
	assert.Equal(t, "env-branch", saved.Branch)
}

func TestTriggerPipeRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("docker: not found")}
	repo := newMemRepo()
	svc := &Service{Repo: repo, Runner: runner, Clock: application.SystemClock{}}

	res, err := svc.TriggerPipe(context.Background(), TriggerPipeCommand{TenantID: "acme", Pipe: "security", Image: "demo:1"})
	require.Error(t, err)
	assert.Equal(t, string(domain.StatusError), res.Status)

	saved := repo.runs[domain.RunID(res.ID)]
	require.NotNil(t, saved)
	assert.Equal(t, domain.StatusError, saved.Status)
}

func TestTriggerPipeWithoutRepoOrStore(t *testing.T) {
	report := artifact(t, "hadolint.json", `[]`)
	runner := &fakeRunner{result: domain.RunResult{LocalArtifactPath: report, RawFormat: "json"}}
	svc := &Service{Runner: runner, Clock: application.SystemClock{}}

	res, err := svc.TriggerPipe(context.Background(), TriggerPipeCommand{TenantID: "local", Pipe: "lint", Workspace: "."})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusSuccess), res.Status)
	// without a store the artifact stays local
	assert.Equal(t, report, res.ArtifactURL)
}

func TestRetryPipe(t *testing.T) {
	report := artifact(t, "trivy.sarif", `{"runs":[{"results":[{"level":"error","properties":{"severity":"HIGH"}}]}]}`)
	runner := &fakeRunner{result: domain.RunResult{LocalArtifactPath: report, RawFormat: "sarif", ExitCode: 1}}
	repo := newMemRepo()
	svc := &Service{Repo: repo, Runner: runner, Clock: application.SystemClock{}}

	first, err := svc.TriggerPipe(context.Background(), TriggerPipeCommand{TenantID: "acme", Pipe: "security", Image: "demo:1"})
	require.NoError(t, err)

	// re-run re-reads the stored run's parameters
	report2 := artifact(t, "trivy.sarif", `{"runs":[{"results":[]}]}`)
	runner.result = domain.RunResult{LocalArtifactPath: report2, RawFormat: "sarif", ExitCode: 0}

	res, err := svc.RetryPipe(context.Background(), "acme", domain.RunID(first.ID))
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusSuccess), res.Status)
	assert.Equal(t, domain.Pipe("security"), runner.got.Pipe)
	assert.Equal(t, "demo:1", runner.got.Image)
}

func TestSummary(t *testing.T) {
	repo := newMemRepo()
	svc := &Service{Repo: repo, Clock: application.SystemClock{}}

	out, err := svc.Summary(context.Background(), "acme", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, out["total_runs"])
}

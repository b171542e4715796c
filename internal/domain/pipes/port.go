package pipes

import "context"
import "time"

// Repository port (persistence untuk PipeRun)
type Repository interface {
	Save(ctx context.Context, r *PipeRun) error
	Get(ctx context.Context, tenant string, id RunID) (*PipeRun, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*PipeRun, error)
	Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error)
	UpdateStatus(ctx context.Context, tenant string, id RunID, status Status) error
	UpdateResult(ctx context.Context, tenant string, id RunID, status Status, artifactURL string, counts SeverityCounts) error

	Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (PaginatedResult, error)
	Cursor(ctx context.Context, tenant string, cursorTime time.Time, cursorID string, pageSize int) ([]*PipeRun, error)
}

// Runner port (eksekusi pipe sebagai subprocess)
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// ArtifactStore port (penyimpanan report/log artefak)
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}

// SourceResolver port: commit/branch metadata dari workspace checkout
type SourceResolver interface {
	Resolve(workspace string) (commitSHA, branch string, err error)
}

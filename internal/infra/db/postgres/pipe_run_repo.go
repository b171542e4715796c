package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/pipes"
)

type PipeRunRepository struct{ db *sql.DB }

func NewPipeRunRepository(db *sql.DB) *PipeRunRepository { return &PipeRunRepository{db: db} }

// Save insert/update PipeRun record
func (r *PipeRunRepository) Save(ctx context.Context, p *domain.PipeRun) error {
	const q = `
INSERT INTO pipeline_runs
(id, tenant_id, triggered_at, pipe, workspace, image, chart, status,
 critical, high, medium, low, findings_total,
 artifact_url, raw_format, duration_ms, source, commit_sha, branch)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,
        $9,$10,$11,$12,$13,
        $14,$15,$16,$17,$18,$19)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 critical = EXCLUDED.critical,
 high = EXCLUDED.high,
 medium = EXCLUDED.medium,
 low = EXCLUDED.low,
 findings_total = EXCLUDED.findings_total,
 artifact_url = EXCLUDED.artifact_url,
 raw_format = EXCLUDED.raw_format,
 duration_ms = EXCLUDED.duration_ms;`

	tenant := stringOrDash(p.TenantID)
	pipe := stringOrDash(string(p.Pipe))
	status := stringOrDash(string(p.Status))
	triggered := p.TriggeredAt
	if triggered.IsZero() {
		triggered = time.Now()
	}

	_, err := r.db.ExecContext(ctx, q,
		p.ID, tenant, triggered, pipe, p.Workspace, p.Image, p.Chart, status,
		p.Counts.Critical, p.Counts.High, p.Counts.Medium, p.Counts.Low, p.Counts.Total,
		p.ArtifactURL, p.RawFormat, p.DurationMS,
		p.Source, p.CommitSHA, p.Branch,
	)
	return err
}

// Get by ID + Tenant
func (r *PipeRunRepository) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.PipeRun, error) {
	const q = `
SELECT id, tenant_id, triggered_at, pipe, workspace, image, chart, status,
       critical, high, medium, low, findings_total,
       artifact_url, raw_format, duration_ms, source, commit_sha, branch
FROM pipeline_runs
WHERE tenant_id=$1 AND id=$2
LIMIT 1;`
	row := r.db.QueryRowContext(ctx, q, tenant, id)
	return scanRow(row)
}

// Latest runs per tenant
func (r *PipeRunRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.PipeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, triggered_at, pipe, workspace, image, chart, status,
       critical, high, medium, low, findings_total,
       artifact_url, raw_format, duration_ms, source, commit_sha, branch
FROM pipeline_runs
WHERE tenant_id=$1 ORDER BY triggered_at DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

// Summary counts run results since N days
func (r *PipeRunRepository) Summary(ctx context.Context, tenant string, sinceDays int) (int, int, int, int, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays)
	const q = `
SELECT COUNT(*) AS total_runs,
       COALESCE(SUM(critical),0) AS critical,
       COALESCE(SUM(high),0)     AS high,
       COALESCE(SUM(medium),0)   AS medium
FROM pipeline_runs
WHERE tenant_id=$1 AND triggered_at >= $2;`
	var t, c, h, m int
	if err := r.db.QueryRowContext(ctx, q, tenant, cut).Scan(&t, &c, &h, &m); err != nil {
		return 0, 0, 0, 0, err
	}
	return t, c, h, m, nil
}

// Paginate with offset + limit (classic pagination)
func (r *PipeRunRepository) Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `
SELECT id, tenant_id, triggered_at, pipe, workspace, image, chart, status,
       critical, high, medium, low, findings_total,
       artifact_url, raw_format, duration_ms, source, commit_sha, branch
FROM pipeline_runs
WHERE tenant_id=$1`

	args := []interface{}{tenant}
	query, args = applyFilters(query, args, filters)

	next := len(args) + 1
	query += fmt.Sprintf("\n ORDER BY triggered_at DESC, id DESC LIMIT $%d OFFSET $%d", next, next+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs, err := collectRows(rows)
	if err != nil {
		return domain.PaginatedResult{}, err
	}

	total, err := r.Count(ctx, tenant, filters)
	if err != nil {
		return domain.PaginatedResult{}, fmt.Errorf("getting total count: %w", err)
	}

	return domain.PaginatedResult{
		Data:       runs,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// UpdateStatus hanya update kolom status
func (r *PipeRunRepository) UpdateStatus(ctx context.Context, tenant string, id domain.RunID, status domain.Status) error {
	const q = `
UPDATE pipeline_runs
SET status = $1
WHERE tenant_id = $2 AND id = $3;`
	_, err := r.db.ExecContext(ctx, q, status, tenant, id)
	return err
}

// UpdateResult update hasil run
func (r *PipeRunRepository) UpdateResult(ctx context.Context, tenant string, id domain.RunID, status domain.Status, artifactURL string, counts domain.SeverityCounts) error {
	const q = `
UPDATE pipeline_runs
SET status = $1,
    critical = $2,
    high = $3,
    medium = $4,
    low = $5,
    findings_total = $6,
    artifact_url = $7
WHERE tenant_id = $8 AND id = $9;`
	_, err := r.db.ExecContext(ctx, q,
		status,
		counts.Critical, counts.High, counts.Medium, counts.Low, counts.Total,
		artifactURL,
		tenant, id,
	)
	return err
}

// Cursor-based pagination (after cursorTime, cursorID)
func (r *PipeRunRepository) Cursor(ctx context.Context, tenant string, cursorTime time.Time, cursorID string, pageSize int) ([]*domain.PipeRun, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	const q = `
SELECT id, tenant_id, triggered_at, pipe, workspace, image, chart, status,
       critical, high, medium, low, findings_total,
       artifact_url, raw_format, duration_ms, source, commit_sha, branch
FROM pipeline_runs
WHERE tenant_id=$1
  AND (triggered_at < $2 OR (triggered_at = $3 AND id < $4))
ORDER BY triggered_at DESC, id DESC
LIMIT $5;`
	rows, err := r.db.QueryContext(ctx, q, tenant, cursorTime, cursorTime, cursorID, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

// Count returns the total number of records matching the given filters
func (r *PipeRunRepository) Count(ctx context.Context, tenant string, filters map[string]interface{}) (int64, error) {
	query := "SELECT COUNT(*) FROM pipeline_runs WHERE tenant_id = $1"
	args := []interface{}{tenant}
	query, args = applyFilters(query, args, filters)

	var total int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func applyFilters(query string, args []interface{}, filters map[string]interface{}) (string, []interface{}) {
	if filters == nil {
		return query, args
	}
	next := len(args) + 1
	for key, value := range filters {
		switch key {
		case "pipe":
			query += fmt.Sprintf(" AND pipe = $%d", next)
			args = append(args, value)
			next++
		case "status":
			query += fmt.Sprintf(" AND status = $%d", next)
			args = append(args, value)
			next++
		case "image":
			query += fmt.Sprintf(" AND image LIKE $%d", next)
			searchTerm, _ := value.(string)
			args = append(args, "%"+escapeLikePattern(searchTerm)+"%")
			next++
		case "branch":
			query += fmt.Sprintf(" AND branch = $%d", next)
			args = append(args, value)
			next++
		}
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*domain.PipeRun, error) {
	var p domain.PipeRun
	var crit, hi, med, lo, tot int
	if err := row.Scan(
		&p.ID, &p.TenantID, &p.TriggeredAt, &p.Pipe, &p.Workspace, &p.Image, &p.Chart, &p.Status,
		&crit, &hi, &med, &lo, &tot,
		&p.ArtifactURL, &p.RawFormat, &p.DurationMS,
		&p.Source, &p.CommitSHA, &p.Branch,
	); err != nil {
		return nil, err
	}
	p.Counts = domain.SeverityCounts{Critical: crit, High: hi, Medium: med, Low: lo, Total: tot}
	return &p, nil
}

func collectRows(rows *sql.Rows) ([]*domain.PipeRun, error) {
	var out []*domain.PipeRun
	for rows.Next() {
		p, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

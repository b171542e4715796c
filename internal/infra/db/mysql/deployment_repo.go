package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
)

type DeploymentRepository struct {
	db *sql.DB
}

func NewDeploymentRepository(db *sql.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

// Save insert/update Deployment record; steps are stored as one JSON column
func (r *DeploymentRepository) Save(ctx context.Context, d *domain.Deployment) error {
	const q = `
INSERT INTO deployments
(id, tenant_id, started_at, environment, release_name, namespace, chart, image_tag,
 status, revision, rolled_back_to, steps_json, duration_ms, commit_sha, branch)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status), revision=VALUES(revision), rolled_back_to=VALUES(rolled_back_to),
 steps_json=VALUES(steps_json), duration_ms=VALUES(duration_ms);
`
	tenant := stringOrDash(d.TenantID)
	started := d.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	steps, err := json.Marshal(d.Steps)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, q,
		d.ID, tenant, started, d.Environment, d.Release, d.Namespace, d.Chart, d.ImageTag,
		stringOrDash(string(d.Status)), d.Revision, d.RolledBackTo, string(steps), d.DurationMS,
		d.CommitSHA, d.Branch,
	)
	return err
}

// Get by ID + Tenant
func (r *DeploymentRepository) Get(ctx context.Context, tenant string, id domain.DeployID) (*domain.Deployment, error) {
	const q = `
SELECT id, tenant_id, started_at, environment, release_name, namespace, chart, image_tag,
       status, revision, rolled_back_to, steps_json, duration_ms, commit_sha, branch
FROM deployments
WHERE tenant_id=? AND id=? LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, tenant, id)
	return scanDeployment(row)
}

// Latest deployments per tenant
func (r *DeploymentRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, started_at, environment, release_name, namespace, chart, image_tag,
       status, revision, rolled_back_to, steps_json, duration_ms, commit_sha, branch
FROM deployments
WHERE tenant_id=? ORDER BY started_at DESC LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	var stepsJSON string
	if err := row.Scan(
		&d.ID, &d.TenantID, &d.StartedAt, &d.Environment, &d.Release, &d.Namespace, &d.Chart, &d.ImageTag,
		&d.Status, &d.Revision, &d.RolledBackTo, &stepsJSON, &d.DurationMS,
		&d.CommitSHA, &d.Branch,
	); err != nil {
		return nil, err
	}
	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &d.Steps); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

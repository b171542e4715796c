package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/piperrors"
)

type PipeErrorRepository struct {
	db *sql.DB
}

func NewPipeErrorRepository(db *sql.DB) *PipeErrorRepository { return &PipeErrorRepository{db: db} }

func (r *PipeErrorRepository) Save(ctx context.Context, e *domain.PipeError) error {
	const q = `
INSERT INTO pipeline_errors
  (tenant_id, run_id, pipe, phase, message, details_json, created_at)
VALUES (?,?,?,?,?,?,?)
`
	tenant := stringOrDash(e.TenantID)
	run := stringOrDash(e.RunID)
	pipe := stringOrDash(e.Pipe)
	phase := stringOrDash(e.Phase)
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	details := e.DetailsJSON
	if strings.TrimSpace(details) == "" {
		details = "{}"
	} else {
		// ensure valid json; if invalid, wrap as string field
		var js any
		if json.Unmarshal([]byte(details), &js) != nil {
			b, _ := json.Marshal(map[string]string{"raw": details})
			details = string(b)
		}
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q, tenant, run, pipe, phase, msg, details, created)
	return err
}

func (r *PipeErrorRepository) ListByRun(ctx context.Context, tenant string, runID string, limit int) ([]*domain.PipeError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, run_id, pipe, phase, message, details_json, created_at
FROM pipeline_errors
WHERE tenant_id = ? AND run_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.PipeError
	for rows.Next() {
		var e domain.PipeError
		var created time.Time
		if err := rows.Scan(&e.ID, &e.TenantID, &e.RunID, &e.Pipe, &e.Phase, &e.Message, &e.DetailsJSON, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = created
		out = append(out, &e)
	}
	return out, rows.Err()
}

package piperrors

import (
	"context"
)

// Repository defines persistence for pipe errors
type Repository interface {
	Save(ctx context.Context, e *PipeError) error
	ListByRun(ctx context.Context, tenant string, runID string, limit int) ([]*PipeError, error)
}

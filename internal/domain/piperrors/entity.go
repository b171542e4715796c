package piperrors

import "time"

// PipeError represents a persisted pipe/deploy failure entry
type PipeError struct {
	ID          int64     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	RunID       string    `json:"run_id"`
	Pipe        string    `json:"pipe,omitempty"`
	Phase       string    `json:"phase,omitempty"` // trigger | deploy | rollback | other
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}

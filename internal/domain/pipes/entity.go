package pipes

import (
	"time"
)

// ID tipe untuk PipeRun
type RunID string

// Pipe enum
type Pipe string

const (
	PipeBuild    Pipe = "build"
	PipeTest     Pipe = "test"
	PipeQuality  Pipe = "quality"
	PipeSecurity Pipe = "security"
	PipeSecrets  Pipe = "secrets"
	PipeIaC      Pipe = "iac"
	PipeLint     Pipe = "lint"
	PipeSBOM     Pipe = "sbom"
	PipeDocker   Pipe = "docker"
	PipeHelmLint Pipe = "helm-lint"
)

// Status enum
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
)

// SeverityCounts value object. Scan pipes fill the severity buckets; the
// test pipe reuses them as failures (High) and errors (Medium) with Total
// being the executed test count.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// Aggregate Root: PipeRun — one execution of a pipe against a workspace,
// an image, or a chart.
type PipeRun struct {
	ID          RunID          `json:"id"`
	TenantID    string         `json:"tenant_id"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Pipe        Pipe           `json:"pipe"`
	Workspace   string         `json:"workspace,omitempty"`
	Image       string         `json:"image,omitempty"`
	Chart       string         `json:"chart,omitempty"`
	Status      Status         `json:"status"`
	Counts      SeverityCounts `json:"counts"`
	ArtifactURL string         `json:"artifact_url,omitempty"`
	RawFormat   string         `json:"raw_format,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	Source      string         `json:"source,omitempty"`
	CommitSHA   string         `json:"commit_sha,omitempty"`
	Branch      string         `json:"branch,omitempty"`
	Metadata    any            `json:"metadata,omitempty"`
}

package deploy

import "time"

// DeployID identifier type
type DeployID string

// Environment enum
type Environment string

const (
	EnvDev   Environment = "dev"
	EnvStage Environment = "stage"
	EnvProd  Environment = "prod"
)

// Status enum
type Status string

const (
	StatusRunning    Status = "running"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
)

// Step names, in execution order.
const (
	StepKubeconfig  = "kubeconfig"
	StepClusterInfo = "cluster-info"
	StepNamespace   = "namespace"
	StepUpgrade     = "helm-upgrade"
	StepRollout     = "rollout"
	StepSmoke       = "smoke"
	StepRollback    = "rollback"
)

// StepResult records the outcome of one step of the deploy sequence.
type StepResult struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Aggregate Root: Deployment — one run of the deploy sequence against an
// environment. Steps are appended as the sequence advances so a failed run
// still shows how far it got.
type Deployment struct {
	ID           DeployID     `json:"id"`
	TenantID     string       `json:"tenant_id"`
	StartedAt    time.Time    `json:"started_at"`
	Environment  Environment  `json:"environment"`
	Release      string       `json:"release"`
	Namespace    string       `json:"namespace"`
	Chart        string       `json:"chart"`
	ImageTag     string       `json:"image_tag,omitempty"`
	Status       Status       `json:"status"`
	Revision     int          `json:"revision"`
	RolledBackTo int          `json:"rolled_back_to,omitempty"`
	Steps        []StepResult `json:"steps"`
	DurationMS   int64        `json:"duration_ms"`
	CommitSHA    string       `json:"commit_sha,omitempty"`
	Branch       string       `json:"branch,omitempty"`
}

// Request carries everything the orchestrator needs for one deploy.
type Request struct {
	Environment   Environment
	Release       string
	Namespace     string
	Chart         string
	ImageTag      string
	ValuesFiles   []string
	SetValues     map[string]string
	Timeout       time.Duration
	KubeconfigB64 string

	// Smoke test target: the chart's service probed through the API server
	// proxy after rollout converges.
	Service     string
	ServicePort int
	SmokePaths  []string

	// RollbackOnSmokeFailure controls whether a failed smoke test triggers
	// helm rollback to the pre-upgrade revision. Enabled for prod.
	RollbackOnSmokeFailure bool

	CommitSHA string
	Branch    string
}

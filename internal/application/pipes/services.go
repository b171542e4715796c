package pipes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-cicd/internal/application"
	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/pipes"
	"github.com/bryanwahyu/automaton-cicd/internal/domain/piperrors"
)

// Service implements use-cases untuk PipeRun
// Service is designed to be used concurrently and is thread-safe
type Service struct {
	Repo      domain.Repository
	Runner    domain.Runner
	Artifacts domain.ArtifactStore
	Source    domain.SourceResolver
	Errors    piperrors.Repository
	Clock     application.Clock
}

//
// ==== USE CASES ====
//

// Command untuk trigger pipe run
type TriggerPipeCommand struct {
	TenantID  string
	Pipe      string
	Workspace string
	Image     string
	Chart     string
	Tag       string
	Push      bool
	Source    string
	CommitSHA string
	Branch    string
	Metadata  any
}

type TriggerPipeResult struct {
	ID          string                `json:"id"`
	Status      string                `json:"status"`
	Counts      domain.SeverityCounts `json:"counts"`
	ArtifactURL string                `json:"artifact_url"`
	RawFormat   string                `json:"raw_format"`
	DurationMS  int64                 `json:"duration_ms"`
}

// TriggerPipeUntilDone runs the pipe with context.Background() so a handler
// can fire it from a goroutine without the request context cancelling it.
func (s *Service) TriggerPipeUntilDone(cmd TriggerPipeCommand) (TriggerPipeResult, error) {
	return s.TriggerPipe(context.Background(), cmd)
}

// UpdateStatus updates the status of one run (queued / running / failed)
func (s *Service) UpdateStatus(tenant, id, status string) error {
	if s.Repo == nil {
		return nil
	}
	return s.Repo.UpdateStatus(context.Background(), tenant, domain.RunID(id), domain.Status(status))
}

// MarkDone persists the final result of a background run
func (s *Service) MarkDone(tenant string, res TriggerPipeResult) error {
	if s.Repo == nil {
		return nil
	}
	return s.Repo.UpdateResult(
		context.Background(),
		tenant,
		domain.RunID(res.ID),
		domain.Status(res.Status),
		res.ArtifactURL,
		res.Counts,
	)
}

// TriggerPipe jalankan pipe → parse report → upload artifact → simpan ke repo
func (s *Service) TriggerPipe(ctx context.Context, cmd TriggerPipeCommand) (TriggerPipeResult, error) {
	now := s.Clock.Now()
	uniqueID := uuid.New().String()
	id := fmt.Sprintf("%s-%s", uniqueID, cmd.Pipe)

	// Workspace checkouts carry their own commit metadata; explicit values
	// from the CI environment win.
	if cmd.Workspace != "" && s.Source != nil && (cmd.CommitSHA == "" || cmd.Branch == "") {
		if sha, branch, err := s.Source.Resolve(cmd.Workspace); err == nil {
			if cmd.CommitSHA == "" {
				cmd.CommitSHA = sha
			}
			if cmd.Branch == "" {
				cmd.Branch = branch
			}
		}
	}

	// Create an initial run row so we always have an ID to reference
	initial := &domain.PipeRun{
		ID:          domain.RunID(id),
		TenantID:    cmd.TenantID,
		TriggeredAt: now,
		Pipe:        domain.Pipe(cmd.Pipe),
		Workspace:   cmd.Workspace,
		Image:       cmd.Image,
		Chart:       cmd.Chart,
		Status:      domain.StatusRunning,
		Source:      cmd.Source,
		CommitSHA:   cmd.CommitSHA,
		Branch:      cmd.Branch,
		Metadata:    cmd.Metadata,
	}
	if s.Repo != nil {
		if err := s.Repo.Save(ctx, initial); err != nil {
			return TriggerPipeResult{ID: id, Status: string(domain.StatusError)}, err
		}
	}

	res, err := s.Runner.Run(ctx, domain.RunRequest{
		Pipe:      domain.Pipe(cmd.Pipe),
		Workspace: cmd.Workspace,
		Image:     cmd.Image,
		Chart:     cmd.Chart,
		Tag:       cmd.Tag,
		Push:      cmd.Push,
	})
	if err != nil {
		s.recordError(cmd.TenantID, id, cmd.Pipe, "trigger", err)
		_ = s.UpdateStatus(cmd.TenantID, id, string(domain.StatusError))
		return TriggerPipeResult{ID: id, Status: string(domain.StatusError)}, err
	}

	// The runner only maps exit codes; the report artifact has the real
	// counts when the tool produced one.
	counts := res.Counts
	if parsed, perr := domain.ParseSeverityCounts(domain.Pipe(cmd.Pipe), res.LocalArtifactPath); perr == nil && parsed.Total > 0 {
		counts = parsed
	}

	artifactURL := res.LocalArtifactPath
	if s.Artifacts != nil {
		key := fmt.Sprintf("%s/%s/%s", cmd.TenantID, cmd.Pipe, filepath.Base(res.LocalArtifactPath))
		url, uerr := s.Artifacts.UploadAndCleanup(ctx, res.LocalArtifactPath, key)
		if uerr != nil {
			os.Remove(res.LocalArtifactPath)
			s.recordError(cmd.TenantID, id, cmd.Pipe, "upload", uerr)
			return TriggerPipeResult{ID: id, Status: string(domain.StatusError)}, uerr
		}
		artifactURL = url
	}

	run := &domain.PipeRun{
		ID:          domain.RunID(id),
		TenantID:    cmd.TenantID,
		TriggeredAt: now,
		Pipe:        domain.Pipe(cmd.Pipe),
		Workspace:   cmd.Workspace,
		Image:       cmd.Image,
		Chart:       cmd.Chart,
		Status:      statusFromExit(res.ExitCode),
		Counts:      counts,
		ArtifactURL: artifactURL,
		RawFormat:   res.RawFormat,
		DurationMS:  res.DurationMS,
		Source:      cmd.Source,
		CommitSHA:   cmd.CommitSHA,
		Branch:      cmd.Branch,
		Metadata:    cmd.Metadata,
	}

	if s.Repo != nil {
		if err := s.Repo.Save(ctx, run); err != nil {
			return TriggerPipeResult{ID: id, Status: string(run.Status)}, err
		}
	}

	return TriggerPipeResult{
		ID:          string(run.ID),
		Status:      string(run.Status),
		Counts:      run.Counts,
		ArtifactURL: run.ArtifactURL,
		RawFormat:   run.RawFormat,
		DurationMS:  run.DurationMS,
	}, nil
}

// RetryPipe: jalankan ulang run yang sudah ada (biasanya yang status error/failed)
func (s *Service) RetryPipe(ctx context.Context, tenant string, id domain.RunID) (TriggerPipeResult, error) {
	if s.Repo == nil {
		return TriggerPipeResult{}, fmt.Errorf("retry requires a repository")
	}
	existing, err := s.Repo.Get(ctx, tenant, id)
	if err != nil {
		return TriggerPipeResult{}, err
	}
	if existing == nil {
		return TriggerPipeResult{}, fmt.Errorf("run not found: %s", id)
	}

	_ = s.Repo.UpdateStatus(context.Background(), tenant, id, domain.StatusRunning)

	res, err := s.Runner.Run(ctx, domain.RunRequest{
		Pipe:      existing.Pipe,
		Workspace: existing.Workspace,
		Image:     existing.Image,
		Chart:     existing.Chart,
	})
	if err != nil {
		s.recordError(tenant, string(id), string(existing.Pipe), "retry", err)
		_ = s.Repo.UpdateStatus(context.Background(), tenant, id, domain.StatusError)
		return TriggerPipeResult{ID: string(existing.ID), Status: string(domain.StatusError)}, err
	}

	counts := res.Counts
	if parsed, perr := domain.ParseSeverityCounts(existing.Pipe, res.LocalArtifactPath); perr == nil && parsed.Total > 0 {
		counts = parsed
	}

	artifactURL := res.LocalArtifactPath
	if s.Artifacts != nil {
		key := fmt.Sprintf("%s/%s/%s", tenant, existing.Pipe, filepath.Base(res.LocalArtifactPath))
		url, uerr := s.Artifacts.UploadAndCleanup(ctx, res.LocalArtifactPath, key)
		if uerr != nil {
			os.Remove(res.LocalArtifactPath)
			return TriggerPipeResult{ID: string(existing.ID), Status: string(domain.StatusError)}, uerr
		}
		artifactURL = url
	}

	updated := &domain.PipeRun{
		ID:          existing.ID,
		TenantID:    tenant,
		TriggeredAt: existing.TriggeredAt,
		Pipe:        existing.Pipe,
		Workspace:   existing.Workspace,
		Image:       existing.Image,
		Chart:       existing.Chart,
		Status:      statusFromExit(res.ExitCode),
		Counts:      counts,
		ArtifactURL: artifactURL,
		RawFormat:   res.RawFormat,
		DurationMS:  res.DurationMS,
		Source:      existing.Source,
		CommitSHA:   existing.CommitSHA,
		Branch:      existing.Branch,
		Metadata:    existing.Metadata,
	}
	if err := s.Repo.Save(ctx, updated); err != nil {
		return TriggerPipeResult{ID: string(existing.ID), Status: string(updated.Status)}, err
	}

	return TriggerPipeResult{
		ID:          string(updated.ID),
		Status:      string(updated.Status),
		Counts:      updated.Counts,
		ArtifactURL: updated.ArtifactURL,
		RawFormat:   updated.RawFormat,
		DurationMS:  updated.DurationMS,
	}, nil
}

// Latest ambil N run terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.PipeRun, error) {
	return s.Repo.Latest(ctx, tenant, limit)
}

// Get ambil 1 run by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.RunID) (*domain.PipeRun, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// Paginate ambil page run + metadata
func (s *Service) Paginate(ctx context.Context, tenant string, page, pageSize int, filters map[string]interface{}) (domain.PaginatedResult, error) {
	return s.Repo.Paginate(ctx, tenant, page, pageSize, filters)
}

// Summary rekap hasil run N hari terakhir
func (s *Service) Summary(ctx context.Context, tenant string, sinceDays int) (map[string]any, error) {
	total, critical, high, medium, err := s.Repo.Summary(ctx, tenant, sinceDays)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_runs": total,
		"critical":   critical,
		"high":       high,
		"medium":     medium,
	}, nil
}

func (s *Service) recordError(tenant, runID, pipe, phase string, cause error) {
	if s.Errors == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_ = s.Errors.Save(context.Background(), &piperrors.PipeError{
		TenantID:    tenant,
		RunID:       runID,
		Pipe:        pipe,
		Phase:       phase,
		Message:     cause.Error(),
		DetailsJSON: string(details),
		CreatedAt:   s.Clock.Now(),
	})
}

// helper
func statusFromExit(code int) domain.Status {
	if code == 0 {
		return domain.StatusSuccess
	}
	return domain.StatusFailed
}

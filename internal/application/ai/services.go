package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/automaton-cicd/internal/domain/ai"
	"github.com/bryanwahyu/automaton-cicd/internal/domain/analyst"
)

type Service struct {
	client ai.Client
	repo   analyst.Repository
}

func NewService(client ai.Client, repo analyst.Repository) *Service {
	return &Service{client: client, repo: repo}
}

func (s *Service) Analyze(ctx context.Context, fileURL string) (string, error) {
	return s.client.Analyze(ctx, fileURL)
}

// AnalyzeAndStore runs the AI analysis over a stored artifact and persists
// the result for later retrieval.
func (s *Service) AnalyzeAndStore(ctx context.Context, tenant, runID, fileURL string) (*analyst.Analysis, error) {
	if fileURL == "" {
		return nil, fmt.Errorf("file url is required")
	}
	result, err := s.client.Analyze(ctx, fileURL)
	if err != nil {
		return nil, err
	}

	a := &analyst.Analysis{
		ID:        analyst.AnalysisID(uuid.New().String()),
		TenantID:  tenant,
		RunID:     runID,
		FileURL:   fileURL,
		Result:    result,
		CreatedAt: time.Now(),
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ListAnalyses returns a page of stored analyses for a tenant
func (s *Service) ListAnalyses(ctx context.Context, tenant string, page, pageSize int) ([]*analyst.Analysis, error) {
	return s.repo.Paginate(ctx, tenant, page, pageSize)
}

// LatestByRun returns the most recent analysis for one run
func (s *Service) LatestByRun(ctx context.Context, tenant, runID string) (*analyst.Analysis, error) {
	return s.repo.LatestByRun(ctx, tenant, runID)
}

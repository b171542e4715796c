package offline

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bryanwahyu/automaton-cicd/internal/infra/ai/prompt"
)

const maxReportBytes = 2 << 20

// Client is a heuristic analyzer used when no AI API key is configured.
// It fetches the artifact and runs local pattern checks.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Analyze(ctx context.Context, fileURL string) (string, error) {
	var content string
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err == nil {
		if resp, err := c.httpClient.Do(req); err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				if b, err := io.ReadAll(io.LimitReader(resp.Body, maxReportBytes)); err == nil {
					content = string(b)
				}
			}
		}
	}
	// Content fetch failures degrade to URL-only heuristics
	return prompt.AnalyzeFileContent(fileURL, content), nil
}

package ai

import "context"

// Client analyzes a pipeline report artifact by URL and returns the analysis
// as a JSON string.
type Client interface {
	Analyze(ctx context.Context, fileURL string) (string, error)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-cicd/internal/application"
	appdeploy "github.com/bryanwahyu/automaton-cicd/internal/application/deploy"
	apppipes "github.com/bryanwahyu/automaton-cicd/internal/application/pipes"
	depdomain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
	dockerrunner "github.com/bryanwahyu/automaton-cicd/internal/infra/executor/docker"
	"github.com/bryanwahyu/automaton-cicd/internal/infra/gitmeta"
	"github.com/bryanwahyu/automaton-cicd/internal/infra/kube"
)

// Entry point for running one pipe inside a CI step. Everything comes in via
// environment variables (the Bitbucket pipe contract); the result is printed
// as JSON and the exit code reflects the outcome.
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	pipe := strings.ToLower(envOr("PIPE", ""))
	if pipe == "" {
		logger.Error("PIPE is required")
		os.Exit(2)
	}

	ctx := context.Background()

	if pipe == "deploy" {
		runDeploy(ctx, logger)
		return
	}
	runPipe(ctx, logger, pipe)
}

func runPipe(ctx context.Context, logger *zap.Logger, pipe string) {
	svc := &apppipes.Service{
		Runner: dockerrunner.NewRunner(),
		Source: gitmeta.NewResolver(),
		Clock:  application.SystemClock{},
	}

	cmd := apppipes.TriggerPipeCommand{
		TenantID:  envOr("TENANT", "local"),
		Pipe:      pipe,
		Workspace: envOr("WORKSPACE", "."),
		Image:     os.Getenv("IMAGE"),
		Chart:     os.Getenv("CHART"),
		Tag:       os.Getenv("TAG"),
		Push:      envBool("PUSH"),
		Source:    envOr("SOURCE", "bitbucket"),
		CommitSHA: os.Getenv("BITBUCKET_COMMIT"),
		Branch:    os.Getenv("BITBUCKET_BRANCH"),
	}

	logger.Info("running pipe",
		zap.String("pipe", pipe),
		zap.String("workspace", cmd.Workspace),
		zap.String("image", cmd.Image),
	)

	result, err := svc.TriggerPipe(ctx, cmd)
	if err != nil {
		logger.Error("pipe failed", zap.String("pipe", pipe), zap.Error(err))
		printJSON(result)
		os.Exit(1)
	}

	printJSON(result)
	logger.Info("pipe finished",
		zap.String("pipe", pipe),
		zap.String("status", result.Status),
		zap.String("artifact", result.ArtifactURL),
		zap.Int64("duration_ms", result.DurationMS),
	)
	if result.Status != "success" {
		os.Exit(1)
	}
}

func runDeploy(ctx context.Context, logger *zap.Logger) {
	svc := appdeploy.NewService(kube.NewFactory(), nil, nil, application.SystemClock{}, logger)

	req := depdomain.Request{
		Environment:            depdomain.Environment(envOr("ENVIRONMENT", "dev")),
		Release:                os.Getenv("RELEASE"),
		Namespace:              os.Getenv("NAMESPACE"),
		Chart:                  os.Getenv("CHART"),
		ImageTag:               os.Getenv("IMAGE_TAG"),
		KubeconfigB64:          os.Getenv("KUBECONFIG_B64"),
		ValuesFiles:            envList("VALUES_FILES"),
		SetValues:              envKeyValues("SET_VALUES"),
		Service:                os.Getenv("SERVICE"),
		ServicePort:            envInt("SERVICE_PORT"),
		SmokePaths:             envList("SMOKE_PATHS"),
		RollbackOnSmokeFailure: envBool("ROLLBACK_ON_SMOKE_FAILURE"),
		CommitSHA:              os.Getenv("BITBUCKET_COMMIT"),
		Branch:                 os.Getenv("BITBUCKET_BRANCH"),
	}
	if secs := envInt("TIMEOUT_SECONDS"); secs > 0 {
		req.Timeout = time.Duration(secs) * time.Second
	}

	d, err := svc.Run(ctx, envOr("TENANT", "local"), req)
	printJSON(d)
	if err != nil {
		logger.Error("deploy failed",
			zap.String("release", req.Release),
			zap.String("environment", string(req.Environment)),
			zap.Error(err),
		)
		os.Exit(1)
	}
	logger.Info("deploy finished",
		zap.String("release", req.Release),
		zap.String("status", string(d.Status)),
		zap.Int("revision", d.Revision),
	)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envInt(key string) int {
	v, _ := strconv.Atoi(os.Getenv(key))
	return v
}

// envList splits a comma-separated variable, dropping empty entries
func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envKeyValues parses "k1=v1,k2=v2" into a map
func envKeyValues(key string) map[string]string {
	parts := envList(key)
	if len(parts) == 0 {
		return nil
	}
	out := make(map[string]string, len(parts))
	for _, part := range parts {
		if k, v, ok := strings.Cut(part, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

package docker

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/pipes"
)

// Image pins for the wrapped tools. Tags are the ones the pipelines ship with.
const (
	imageMaven    = "maven:3.9-eclipse-temurin-17"
	imageTrivy    = "aquasec/trivy:latest"
	imageGitleaks = "zricethezav/gitleaks:latest"
	imageCheckov  = "bridgecrew/checkov:latest"
	imageHadolint = "hadolint/hadolint:latest"
	imageSyft     = "anchore/syft:latest"
	imageSonar    = "sonarsource/sonar-scanner-cli:latest"
	imageHelm     = "alpine/helm:3.16.3"
)

type Runner struct {
	randSource *rand.Rand
}

func NewRunner() *Runner {
	// Create a dedicated random source to avoid contention
	src := rand.NewSource(time.Now().UnixNano())
	return &Runner{
		randSource: rand.New(src),
	}
}

func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	start := time.Now()

	// Use ./temp directory instead of system temp
	tempDir := filepath.Join(".", "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return domain.RunResult{}, err
	}
	artifactPath := filepath.Join(tempDir, fmt.Sprintf("%s-%d", req.Pipe, r.randSource.Int()))

	var cmds []*exec.Cmd
	rawFormat := "json"
	// captureLog pipes emit their report on stdout/stderr; we persist the
	// combined output as the artifact ourselves
	captureLog := false

	outMount := fmt.Sprintf("%s:/out", absOrSelf(tempDir))
	wsMount := fmt.Sprintf("%s:/workspace", absOrSelf(req.Workspace))

	switch req.Pipe {
	case domain.PipeBuild:
		artifactPath += ".log"
		rawFormat = "log"
		captureLog = true
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", wsMount, "-w", "/workspace",
			imageMaven,
			"mvn", "-B", "-DskipTests", "clean", "package",
		))

	case domain.PipeTest:
		artifactPath += ".log"
		rawFormat = "log"
		captureLog = true
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", wsMount, "-w", "/workspace",
			imageMaven,
			"mvn", "-B", "clean", "verify",
		))

	case domain.PipeQuality:
		artifactPath += ".log"
		rawFormat = "log"
		captureLog = true
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", fmt.Sprintf("%s:/usr/src", absOrSelf(req.Workspace)),
			"-e", "SONAR_HOST_URL", "-e", "SONAR_TOKEN",
			imageSonar,
		))

	case domain.PipeSecurity:
		artifactPath += ".sarif"
		rawFormat = "sarif"
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", "/var/run/docker.sock:/var/run/docker.sock",
			"-v", outMount,
			imageTrivy,
			"image", "--scanners", "vuln",
			"--severity", "HIGH,CRITICAL",
			"--format", "sarif",
			"-o", "/out/"+filepath.Base(artifactPath),
			req.Image,
		))

	case domain.PipeSecrets:
		artifactPath += ".json"
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", fmt.Sprintf("%s:/repo", absOrSelf(req.Workspace)),
			"-v", outMount,
			imageGitleaks,
			"detect", "--source=/repo",
			"--report-format=json", "--report-path=/out/"+filepath.Base(artifactPath),
			"--exit-code=1",
		))

	case domain.PipeIaC:
		artifactPath += ".json"
		captureLog = true
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", fmt.Sprintf("%s:/tf", absOrSelf(req.Workspace)),
			imageCheckov,
			"-d", "/tf", "-o", "json", "--quiet",
		))

	case domain.PipeLint:
		artifactPath += ".json"
		captureLog = true
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", fmt.Sprintf("%s:/src", absOrSelf(req.Workspace)),
			imageHadolint,
			"hadolint", "-f", "json", "--no-fail", "/src/Dockerfile",
		))

	case domain.PipeSBOM:
		artifactPath += ".cdx.json"
		rawFormat = "cyclonedx"
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", "/var/run/docker.sock:/var/run/docker.sock",
			"-v", outMount,
			imageSyft,
			req.Image,
			"-o", "cyclonedx-json=/out/"+filepath.Base(artifactPath),
		))

	case domain.PipeDocker:
		artifactPath += ".log"
		rawFormat = "log"
		captureLog = true
		image := req.Image
		if req.Tag != "" {
			image = fmt.Sprintf("%s:%s", req.Image, req.Tag)
		}
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "build", "-t", image, absOrSelf(req.Workspace)))
		if req.Push {
			cmds = append(cmds, exec.CommandContext(ctx, "docker", "push", image))
		}

	case domain.PipeHelmLint:
		artifactPath += ".log"
		rawFormat = "log"
		captureLog = true
		cmds = append(cmds, exec.CommandContext(ctx, "docker", "run", "--rm",
			"-v", fmt.Sprintf("%s:/apps", absOrSelf(req.Chart)),
			imageHelm,
			"lint", "/apps",
		))

	default:
		return domain.RunResult{}, fmt.Errorf("unsupported pipe: %s", req.Pipe)
	}

	var combined []byte
	exitCode := 0
	for _, cmd := range cmds {
		out, err := cmd.CombinedOutput()
		combined = append(combined, out...)
		if err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				exitCode = ee.ExitCode()
				break
			}
			return domain.RunResult{}, fmt.Errorf("run error: %v, output=%s", err, string(out))
		}
	}
	duration := time.Since(start).Milliseconds()

	if captureLog {
		if err := os.WriteFile(artifactPath, combined, 0o644); err != nil {
			return domain.RunResult{}, fmt.Errorf("write artifact: %w", err)
		}
	}

	// counts here are a coarse fallback; callers parse the artifact for the
	// real severity breakdown
	counts := domain.SeverityCounts{}
	if exitCode != 0 {
		counts.High = 1
		counts.Total = 1
	}

	return domain.RunResult{
		Counts:            counts,
		LocalArtifactPath: artifactPath,
		RawFormat:         rawFormat,
		ExitCode:          exitCode,
		DurationMS:        duration,
	}, nil
}

func absOrSelf(path string) string {
	if path == "" {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

package pipes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTrivySARIF(t *testing.T) {
	sarif := `{
  "runs": [{
    "results": [
      {"level": "error", "properties": {"severity": "CRITICAL"}},
      {"level": "error", "properties": {"severity": "HIGH"}},
      {"level": "warning"},
      {"level": "note"}
    ]
  }]
}`
	path := writeArtifact(t, "trivy.sarif", sarif)

	c, err := ParseSeverityCounts(PipeSecurity, path)
	require.NoError(t, err)
	assert.Equal(t, SeverityCounts{Critical: 1, High: 1, Medium: 1, Low: 1, Total: 4}, c)
}

func TestParseGitleaksJSON(t *testing.T) {
	path := writeArtifact(t, "gitleaks.json", `[{"RuleID":"aws-access-key"},{"RuleID":"generic-api-key"}]`)

	c, err := ParseSeverityCounts(PipeSecrets, path)
	require.NoError(t, err)
	assert.Equal(t, SeverityCounts{Critical: 2, Total: 2}, c)
}

func TestParseGitleaksJSONEmpty(t *testing.T) {
	path := writeArtifact(t, "gitleaks.json", `[]`)

	c, err := ParseSeverityCounts(PipeSecrets, path)
	require.NoError(t, err)
	assert.Zero(t, c.Total)
}

func TestParseCheckovJSON(t *testing.T) {
	t.Run("single framework object", func(t *testing.T) {
		path := writeArtifact(t, "checkov.json", `{
  "results": {
    "failed_checks": [
      {"severity": "HIGH"},
      {"severity": "MEDIUM"},
      {"severity": ""}
    ]
  }
}`)
		c, err := ParseSeverityCounts(PipeIaC, path)
		require.NoError(t, err)
		assert.Equal(t, SeverityCounts{High: 1, Medium: 1, Low: 1, Total: 3}, c)
	})

	t.Run("multi framework array", func(t *testing.T) {
		path := writeArtifact(t, "checkov.json", `[
  {"results": {"failed_checks": [{"severity": "CRITICAL"}]}},
  {"results": {"failed_checks": [{"severity": "HIGH"}]}}
]`)
		c, err := ParseSeverityCounts(PipeIaC, path)
		require.NoError(t, err)
		assert.Equal(t, SeverityCounts{Critical: 1, High: 1, Total: 2}, c)
	})
}

func TestParseHadolintJSON(t *testing.T) {
	path := writeArtifact(t, "hadolint.json", `[
  {"code": "DL3006", "level": "error"},
  {"code": "DL3008", "level": "warning"},
  {"code": "DL3059", "level": "info"}
]`)

	c, err := ParseSeverityCounts(PipeLint, path)
	require.NoError(t, err)
	assert.Equal(t, SeverityCounts{High: 1, Medium: 1, Low: 1, Total: 3}, c)
}

func TestParseCycloneDX(t *testing.T) {
	path := writeArtifact(t, "sbom.cdx.json", `{
  "bomFormat": "CycloneDX",
  "components": [{"name": "spring-core"}, {"name": "jackson-databind"}]
}`)

	c, err := ParseSeverityCounts(PipeSBOM, path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Total)
}

func TestParseMavenLog(t *testing.T) {
	log := `[INFO] Running com.example.AppTest
[INFO] Tests run: 3, Failures: 0, Errors: 0, Skipped: 0, Time elapsed: 0.1 s
[INFO] Results:
[ERROR] Tests run: 12, Failures: 2, Errors: 1, Skipped: 3
[INFO] BUILD FAILURE`
	path := writeArtifact(t, "mvn.log", log)

	c, err := ParseSeverityCounts(PipeTest, path)
	require.NoError(t, err)
	assert.Equal(t, SeverityCounts{High: 2, Medium: 1, Low: 3, Total: 12}, c)
}

func TestParseMavenLogNoSummary(t *testing.T) {
	path := writeArtifact(t, "mvn.log", "[INFO] BUILD SUCCESS")

	c, err := ParseSeverityCounts(PipeBuild, path)
	require.NoError(t, err)
	assert.Zero(t, c.Total)
}

func TestParseUnknownPipeIsZero(t *testing.T) {
	c, err := ParseSeverityCounts(PipeDocker, "does-not-matter")
	require.NoError(t, err)
	assert.Zero(t, c)
}

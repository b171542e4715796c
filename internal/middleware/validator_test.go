package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePipe(t *testing.T) {
	for _, pipe := range []string{"build", "test", "quality", "security", "secrets", "iac", "lint", "sbom", "docker", "helm-lint"} {
		assert.NoError(t, ValidatePipe(pipe), pipe)
	}
	assert.Error(t, ValidatePipe("rm -rf"))
	assert.Error(t, ValidatePipe(""))
	// case-insensitive
	assert.NoError(t, ValidatePipe("Build"))
}

func TestValidateImageName(t *testing.T) {
	assert.NoError(t, ValidateImageName(""))
	assert.NoError(t, ValidateImageName("nginx"))
	assert.NoError(t, ValidateImageName("registry.example.com/team/app:1.2.3"))
	assert.Error(t, ValidateImageName("app:$(whoami)"))
	assert.Error(t, ValidateImageName("app;ls"))
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath(""))
	assert.NoError(t, ValidatePath("./workspace"))
	assert.Error(t, ValidatePath("../../etc/passwd"))
	assert.Error(t, ValidatePath("/etc/shadow"))
	assert.Error(t, ValidatePath("dir && rm"))
}

func TestValidateNamespace(t *testing.T) {
	assert.NoError(t, ValidateNamespace("app-prod"))
	assert.Error(t, ValidateNamespace(""))
	assert.Error(t, ValidateNamespace("App_Prod"))
	assert.Error(t, ValidateNamespace("-starts-with-dash"))
}

func TestValidateReleaseName(t *testing.T) {
	assert.NoError(t, ValidateReleaseName("my-app"))
	assert.Error(t, ValidateReleaseName(""))
	assert.Error(t, ValidateReleaseName("My.App"))
}

func TestValidateEnvironment(t *testing.T) {
	assert.NoError(t, ValidateEnvironment("dev"))
	assert.NoError(t, ValidateEnvironment("stage"))
	assert.NoError(t, ValidateEnvironment("prod"))
	assert.Error(t, ValidateEnvironment("qa"))
}

func TestValidateRunID(t *testing.T) {
	assert.NoError(t, ValidateRunID("a1b2c3d4-1111-2222-3333-444455556666-security"))
	assert.NoError(t, ValidateRunID("a1b2c3d4-1111-2222-3333-444455556666-deploy-prod"))
	assert.Error(t, ValidateRunID("not-a-run-id"))
	assert.Error(t, ValidateRunID(""))
}

func TestValidateTenantID(t *testing.T) {
	assert.NoError(t, ValidateTenantID("acme_01"))
	assert.Error(t, ValidateTenantID(""))
	assert.Error(t, ValidateTenantID("bad tenant"))
}

func TestLimitAndDays(t *testing.T) {
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 100, ValidateLimit(500))
	assert.Equal(t, 42, ValidateLimit(42))

	assert.Equal(t, 7, ValidateDays(-1))
	assert.Equal(t, 365, ValidateDays(1000))
	assert.Equal(t, 30, ValidateDays(30))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "clean", SanitizeString("  clean \x00"))
	assert.Equal(t, "a b", SanitizeString("a\x01 b"))
}

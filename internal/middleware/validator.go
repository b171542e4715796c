package middleware

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

// ValidatePipe checks if the pipe name is in the allowed list
func ValidatePipe(pipe string) error {
	allowed := map[string]bool{
		"build":     true,
		"test":      true,
		"quality":   true,
		"security":  true,
		"secrets":   true,
		"iac":       true,
		"lint":      true,
		"sbom":      true,
		"docker":    true,
		"helm-lint": true,
	}

	if !allowed[strings.ToLower(pipe)] {
		return fmt.Errorf("invalid pipe: %s (allowed: build, test, quality, security, secrets, iac, lint, sbom, docker, helm-lint)", pipe)
	}
	return nil
}

// ValidateImageName validates Docker image names
func ValidateImageName(image string) error {
	if image == "" {
		return nil // Optional field
	}

	// Docker image name pattern: [registry/]name[:tag][@digest]
	pattern := `^([a-z0-9]+([._-][a-z0-9]+)*(/[a-z0-9]+([._-][a-z0-9]+)*)*(:[a-zA-Z0-9._-]+)?(@sha256:[a-f0-9]{64})?)$`
	matched, _ := regexp.MatchString(pattern, strings.ToLower(image))
	if !matched {
		return fmt.Errorf("invalid Docker image name format")
	}

	// Block dangerous patterns
	dangerous := []string{"../", "..", "$(", "`", "&", "|", ";", "\n", "\r"}
	for _, d := range dangerous {
		if strings.Contains(image, d) {
			return fmt.Errorf("invalid characters in image name")
		}
	}

	return nil
}

// ValidatePath validates workspace/chart paths (for security)
func ValidatePath(path string) error {
	if path == "" {
		return nil // Optional field
	}

	// Clean the path
	cleaned := filepath.Clean(path)

	// Block path traversal attempts
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("path traversal detected")
	}

	// Block absolute paths to sensitive directories
	blocked := []string{"/etc", "/proc", "/sys", "/dev", "/root", "/var", "/boot"}
	for _, b := range blocked {
		if strings.HasPrefix(cleaned, b) {
			return fmt.Errorf("access to %s is not allowed", b)
		}
	}

	// Block dangerous patterns
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "&&", "||"}
	for _, d := range dangerous {
		if strings.Contains(path, d) {
			return fmt.Errorf("invalid characters in path")
		}
	}

	return nil
}

// ValidateNamespace validates Kubernetes namespace names (DNS-1123 label)
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	pattern := `^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`
	matched, _ := regexp.MatchString(pattern, ns)
	if !matched {
		return fmt.Errorf("invalid namespace format (lowercase alphanumeric and dash, max 63 chars)")
	}
	return nil
}

// ValidateReleaseName validates helm release names
func ValidateReleaseName(name string) error {
	if name == "" {
		return fmt.Errorf("release name cannot be empty")
	}
	pattern := `^[a-z0-9]([a-z0-9-]{0,51}[a-z0-9])?$`
	matched, _ := regexp.MatchString(pattern, name)
	if !matched {
		return fmt.Errorf("invalid release name format (lowercase alphanumeric and dash, max 53 chars)")
	}
	return nil
}

// ValidateEnvironment checks the deploy target environment
func ValidateEnvironment(env string) error {
	switch strings.ToLower(env) {
	case "dev", "stage", "prod":
		return nil
	}
	return fmt.Errorf("invalid environment: %s (allowed: dev, stage, prod)", env)
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}

	// Allow alphanumeric, dash, underscore (max 64 chars)
	pattern := `^[a-zA-Z0-9_-]{1,64}$`
	matched, _ := regexp.MatchString(pattern, tenant)
	if !matched {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}

	return nil
}

// ValidateRunID validates run ID format
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}

	// UUID pattern with pipe suffix: uuid-pipe (deploys use uuid-deploy-env)
	pattern := `^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}-.+$`
	matched, _ := regexp.MatchString(pattern, runID)
	if !matched {
		return fmt.Errorf("invalid run ID format")
	}

	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidateDays validates days parameter
func ValidateDays(days int) int {
	if days <= 0 {
		return 7 // default
	}
	if days > 365 {
		return 365 // max 1 year
	}
	return days
}

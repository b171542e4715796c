package prompt

import (
	"encoding/json"
	"regexp"
	"strings"
)

// AnalyzeFileContent inspects pipeline report content offline and returns a JSON
// string matching the schema used by the system prompt. Fallback when no AI
// client is configured; it never prints, only returns the JSON string.
func AnalyzeFileContent(fileURL string, fileContent string) string {
	type Finding struct {
		Title          string `json:"title"`
		Severity       string `json:"severity"`
		Summary        string `json:"summary"`
		Recommendation string `json:"recommendation"`
	}

	type Counts struct {
		Critical int `json:"critical"`
		High     int `json:"high"`
		Medium   int `json:"medium"`
		Low      int `json:"low"`
		Total    int `json:"total"`
	}

	type Output struct {
		FileURL    string    `json:"file_url"`
		ReportKind string    `json:"report_kind"`
		Counts     Counts    `json:"counts"`
		Findings   []Finding `json:"findings"`
		Advice     string    `json:"advice"`
	}

	content := fileContent
	lower := strings.ToLower(content)

	trim := func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	}

	out := Output{FileURL: fileURL, ReportKind: "other"}
	findings := make([]Finding, 0, 16)

	// info findings do not increment counts
	addFinding := func(sev, title, summary, rec string) {
		sev = strings.ToLower(sev)
		findings = append(findings, Finding{
			Title:          title,
			Severity:       sev,
			Summary:        summary,
			Recommendation: rec,
		})
		switch sev {
		case "critical":
			out.Counts.Critical++
		case "high":
			out.Counts.High++
		case "medium":
			out.Counts.Medium++
		case "low":
			out.Counts.Low++
		}
	}

	lowerURL := strings.ToLower(fileURL)
	switch {
	case strings.Contains(lowerURL, "sarif") || strings.Contains(lower, `"sarif`):
		out.ReportKind = "scan"
	case strings.Contains(lower, "cyclonedx") || strings.Contains(lowerURL, ".cdx"):
		out.ReportKind = "sbom"
	case strings.Contains(lower, "tests run:") || strings.Contains(lower, "build failure") || strings.Contains(lower, "build success"):
		out.ReportKind = "test"
	case strings.Contains(lower, "helm") || strings.Contains(lower, "rollout") || strings.Contains(lower, "deployment"):
		out.ReportKind = "deploy"
	}

	// Maven surefire summary (last match wins; sections repeat per module)
	reSurefire := regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+)`)
	if ms := reSurefire.FindAllStringSubmatch(content, -1); len(ms) > 0 {
		m := ms[len(ms)-1]
		if m[2] != "0" || m[3] != "0" {
			addFinding("high", "Test failures in build",
				"Surefire summary reports failing tests: "+trim(m[0], 80),
				"Inspect the failing test output above the summary block and fix or quarantine the failing tests before retrying the pipeline.")
		}
	}
	if strings.Contains(content, "BUILD FAILURE") {
		addFinding("high", "Maven build failed",
			"The build log ends in BUILD FAILURE.",
			"Check the first [ERROR] line in the log; compilation and dependency resolution errors appear before the reactor summary.")
	}

	// Deploy failure triage
	deployDetectors := []struct {
		re    *regexp.Regexp
		title string
		rec   string
	}{
		{regexp.MustCompile(`(?i)ImagePullBackOff|ErrImagePull`), "Image pull failure", "Verify the image tag exists in the registry and the namespace has pull credentials for it."},
		{regexp.MustCompile(`(?i)CrashLoopBackOff`), "Pods crash looping", "Check container logs for the new revision; the release was likely rolled back by the atomic upgrade."},
		{regexp.MustCompile(`(?i)timed out waiting for the condition`), "Rollout timed out", "Increase the deploy timeout or check readiness probes; pods never became Ready within the wait window."},
		{regexp.MustCompile(`(?i)(another operation .* is in progress|has no deployed releases)`), "Helm release in bad state", "Inspect release history with helm history; a stuck pending-upgrade release may need a manual rollback."},
		{regexp.MustCompile(`(?i)connection refused|Unauthorized|forbidden: User`), "Cluster access problem", "Re-issue the kubeconfig secret for this environment and confirm the service account RBAC covers the namespace."},
		{regexp.MustCompile(`(?i)smoke (check|test).*fail`), "Smoke checks failed after rollout", "The new revision serves errors; review application logs and the paths probed, then redeploy after a fix."},
	}
	for _, d := range deployDetectors {
		if m := d.re.FindString(content); m != "" {
			addFinding("critical", d.title, "Example: "+trim(m, 80), d.rec)
		}
	}

	// Secrets leaking into logs or reports
	secretDetectors := []struct {
		re    *regexp.Regexp
		title string
		rec   string
	}{
		{regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), "Private key material in report", "Remove the key from the repository, rotate it, and inject via the pipeline secret store."},
		{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AWS access key in report", "Revoke the access key and switch the pipeline to role-based credentials."},
		{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{20,}`), "GitHub token in report", "Revoke the token and move it into repository secrets; never echo tokens in build steps."},
		{regexp.MustCompile(`(?i)(api[_-]?key|client[_-]?secret|password)\s*[:=]\s*["']?[^\s"']{12,}`), "Credential literal in report", "Do not hardcode secrets in pipeline configs; source them from the CI secret store."},
		{regexp.MustCompile(`://[^\s/:@]+:[^\s/@]+@`), "Credentials embedded in URL", "Strip credentials from URLs; pass them via configuration or secret store."},
	}
	seenTitles := map[string]bool{}
	for _, d := range secretDetectors {
		if m := d.re.FindString(content); m != "" && !seenTitles[d.title] {
			addFinding("critical", d.title, "Example: "+trim(m, 64), d.rec)
			seenTitles[d.title] = true
		}
	}

	// Scanner severity mentions (trivy/checkov style reports)
	if n := strings.Count(lower, `"critical"`); n > 0 && out.ReportKind == "scan" {
		addFinding("critical", "Critical findings in scan report",
			"The scan report contains critical severity entries.",
			"Upgrade the affected packages or base image; critical findings should block promotion to prod.")
	}
	if strings.Contains(lower, "use_ssl: false") || strings.Contains(lower, "usessl: false") {
		addFinding("high", "TLS disabled in config", "Configuration suggests TLS is disabled.", "Enable TLS and certificate validation in all environments.")
	}

	if len(findings) == 0 {
		addFinding("low", "No issues detected offline", "Heuristic analysis found nothing notable, but false negatives are possible.", "Run the full scanner suite (security, secrets, iac) on this workspace for deeper coverage.")
		addFinding("info", "Keep pipelines gated", "Gate chart promotion on quality and security pipes.", "Fail the pipeline on critical findings and require green smoke checks before marking a deploy succeeded.")
	}

	if len(findings) > 20 {
		findings = findings[:20]
	}

	out.Findings = findings
	out.Counts.Total = out.Counts.Critical + out.Counts.High + out.Counts.Medium + out.Counts.Low

	if out.Counts.Critical > 0 {
		out.Advice = "Immediate action required: fix the blocking failures or rotate exposed credentials before the next deploy. Keep the atomic upgrade flag on so failed releases revert cleanly."
	} else if out.Counts.High+out.Counts.Medium > 0 {
		out.Advice = "Address the flagged build and configuration issues, then rerun the failing pipe before promoting the image."
	} else {
		out.Advice = "Pipeline output looks healthy. Maintain scanner coverage and keep smoke checks on every environment."
	}

	b, err := json.Marshal(out)
	if err != nil {
		fb := Output{
			FileURL:    fileURL,
			ReportKind: "other",
			Advice:     "Analysis error; ensure report content is accessible and try again.",
		}
		data, _ := json.Marshal(fb)
		return string(data)
	}
	return string(b)
}

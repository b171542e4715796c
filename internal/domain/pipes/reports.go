package pipes

import (
	"bufio"
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ParseSeverityCounts reads the artifact a pipe produced and extracts counts.
// Each scanner owns its output schema; we only lift the severity totals out.
func ParseSeverityCounts(pipe Pipe, artifactPath string) (SeverityCounts, error) {
	switch pipe {
	case PipeSecurity:
		return parseTrivySARIF(artifactPath)
	case PipeSecrets:
		return parseGitleaksJSON(artifactPath)
	case PipeIaC:
		return parseCheckovJSON(artifactPath)
	case PipeLint:
		return parseHadolintJSON(artifactPath)
	case PipeSBOM:
		return parseCycloneDX(artifactPath)
	case PipeTest, PipeBuild:
		return parseMavenLog(artifactPath)
	default:
		return SeverityCounts{}, nil
	}
}

func parseTrivySARIF(path string) (SeverityCounts, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return SeverityCounts{}, err
	}
	var doc struct {
		Runs []struct {
			Results []struct {
				Level      string         `json:"level"`
				Properties map[string]any `json:"properties"`
			} `json:"results"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(f, &doc); err != nil {
		return SeverityCounts{}, err
	}
	var c SeverityCounts
	for _, run := range doc.Runs {
		for _, r := range run.Results {
			var sev string
			if r.Properties != nil {
				if v, ok := r.Properties["severity"]; ok {
					if s, ok := v.(string); ok {
						sev = strings.ToLower(s)
					}
				} else if v, ok := r.Properties["Severity"]; ok {
					if s, ok := v.(string); ok {
						sev = strings.ToLower(s)
					}
				}
			}
			if sev == "" {
				switch strings.ToLower(r.Level) {
				case "error":
					sev = "high"
				case "warning":
					sev = "medium"
				case "note":
					sev = "low"
				}
			}
			switch sev {
			case "critical":
				c.Critical++
			case "high":
				c.High++
			case "medium":
				c.Medium++
			case "low":
				c.Low++
			}
			c.Total++
		}
	}
	return c, nil
}

// Gitleaks reports carry no severity; every leaked secret counts as critical.
func parseGitleaksJSON(path string) (SeverityCounts, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return SeverityCounts{}, err
	}
	var arr []map[string]any
	if err := json.Unmarshal(f, &arr); err != nil {
		return SeverityCounts{}, err
	}
	return SeverityCounts{Critical: len(arr), Total: len(arr)}, nil
}

func parseCheckovJSON(path string) (SeverityCounts, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return SeverityCounts{}, err
	}
	type result struct {
		Results struct {
			FailedChecks []struct {
				Severity string `json:"severity"`
			} `json:"failed_checks"`
		} `json:"results"`
	}
	count := func(res result, c *SeverityCounts) {
		for _, ch := range res.Results.FailedChecks {
			switch strings.ToUpper(ch.Severity) {
			case "CRITICAL":
				c.Critical++
			case "HIGH":
				c.High++
			case "MEDIUM":
				c.Medium++
			default:
				// checkov leaves severity empty without a platform API key
				c.Low++
			}
			c.Total++
		}
	}
	var c SeverityCounts
	// checkov emits an object for a single framework and an array for several
	var one result
	if err := json.Unmarshal(f, &one); err == nil && len(one.Results.FailedChecks) > 0 {
		count(one, &c)
		return c, nil
	}
	var many []result
	if err := json.Unmarshal(f, &many); err != nil {
		return SeverityCounts{}, err
	}
	for _, res := range many {
		count(res, &c)
	}
	return c, nil
}

func parseHadolintJSON(path string) (SeverityCounts, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return SeverityCounts{}, err
	}
	var arr []struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(f, &arr); err != nil {
		return SeverityCounts{}, err
	}
	var c SeverityCounts
	for _, it := range arr {
		switch strings.ToLower(it.Level) {
		case "error":
			c.High++
		case "warning":
			c.Medium++
		default: // info, style
			c.Low++
		}
		c.Total++
	}
	return c, nil
}

// parseCycloneDX counts SBOM components; an SBOM has no severities so only
// Total is meaningful.
func parseCycloneDX(path string) (SeverityCounts, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return SeverityCounts{}, err
	}
	var doc struct {
		Components []json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(f, &doc); err != nil {
		return SeverityCounts{}, err
	}
	return SeverityCounts{Total: len(doc.Components)}, nil
}

var mavenSummaryRx = regexp.MustCompile(`Tests run: (\d+), Failures: (\d+), Errors: (\d+), Skipped: (\d+)`)

// parseMavenLog lifts the surefire totals out of a captured Maven log.
// Failures land in High, errors in Medium, skipped in Low.
func parseMavenLog(path string) (SeverityCounts, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeverityCounts{}, err
	}
	defer f.Close()

	var c SeverityCounts
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		m := mavenSummaryRx.FindStringSubmatch(s.Text())
		if m == nil {
			continue
		}
		// surefire prints per-class lines and one final total; keeping the
		// last match means we report the total
		tests, _ := strconv.Atoi(m[1])
		failures, _ := strconv.Atoi(m[2])
		errs, _ := strconv.Atoi(m[3])
		skipped, _ := strconv.Atoi(m[4])
		c = SeverityCounts{High: failures, Medium: errs, Low: skipped, Total: tests}
	}
	if err := s.Err(); err != nil {
		return SeverityCounts{}, err
	}
	return c, nil
}

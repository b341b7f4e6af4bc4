// Package util provides fixture builders shared by the orchestrator's
// end-to-end tests.
package util

import (
	"fmt"

	"github.com/sre-tools/remediation-batch/pkg/models"
)

// Finding builds a minimal, realistic Finding for test wiring. id should
// match the "FIND-<digits>" shape the remote-agent prompt embeds, since
// the scripted test client parses it back out of the prompt it receives.
func Finding(id string, category models.FindingCategory, service string) models.Finding {
	return models.Finding{
		FindingID:     id,
		Scanner:       "semgrep",
		Category:      category,
		Severity:      models.SeverityHigh,
		Title:         fmt.Sprintf("%s issue in %s", category, service),
		Description:   "test fixture finding",
		ServiceName:   service,
		RepoURL:       "https://github.com/example-org/" + service,
		FilePath:      "src/main.go",
		PriorityScore: 1.0,
	}
}

// Findings builds n sequential findings, all in the same category and
// service, with IDs FIND-1001, FIND-1002, ...
func Findings(n int, category models.FindingCategory, service string) []models.Finding {
	out := make([]models.Finding, n)
	for i := 0; i < n; i++ {
		out[i] = Finding(fmt.Sprintf("FIND-%d", 1001+i), category, service)
	}
	return out
}

package remediate

import (
	"fmt"
	"strings"

	"github.com/sre-tools/remediation-batch/pkg/models"
)

// ServiceOverride carries per-service instructions injected into the
// remediation prompt, loaded from an optional service_overrides.json file.
type ServiceOverride struct {
	TestCommand        string `json:"test_command"`
	BranchPrefix       string `json:"branch_prefix"`
	DeploymentNotes    string `json:"deployment_notes"`
	CustomInstructions string `json:"custom_instructions"`
}

// BuildRemediationPrompt constructs the text a remote session is given to
// work from, optionally enriched with retrieved memory context and a
// service-specific override block.
func BuildRemediationPrompt(f models.Finding, runID, memoryContext string, overrides map[string]ServiceOverride) string {
	line := "N/A"
	if f.LineNumber != nil {
		line = fmt.Sprintf("%d", *f.LineNumber)
	}
	cwe := f.CWEID
	if cwe == "" {
		cwe = "N/A"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Security Remediation Task\n\n")
	fmt.Fprintf(&b, "**Run ID**: %s\n", runID)
	fmt.Fprintf(&b, "**Finding ID**: %s\n", f.FindingID)
	fmt.Fprintf(&b, "**Service**: %s\n", f.ServiceName)
	fmt.Fprintf(&b, "**Category**: %s\n", f.Category)
	fmt.Fprintf(&b, "**Severity**: %s\n", f.Severity)
	fmt.Fprintf(&b, "**File**: %s\n", f.FilePath)
	fmt.Fprintf(&b, "**Line**: %s\n", line)
	fmt.Fprintf(&b, "**CWE**: %s\n\n", cwe)
	fmt.Fprintf(&b, "**Title**: %s\n\n", f.Title)
	fmt.Fprintf(&b, "**Description**: %s\n", f.Description)

	if f.Category == models.CategoryDependencyVulnerability {
		dep := orNA(f.DependencyName)
		cur := orNA(f.CurrentVersion)
		fix := orNA(f.FixedVersion)
		fmt.Fprintf(&b, "\n**Dependency**: %s\n**Current Version**: %s\n**Fixed Version**: %s\n", dep, cur, fix)
	}

	fmt.Fprintf(&b, "\n## Instructions\n")
	fmt.Fprintf(&b, "1. Clone the repository at %s\n", f.RepoURL)
	fmt.Fprintf(&b, "2. Fix the vulnerability described above following the playbook instructions\n")
	fmt.Fprintf(&b, "3. Update structured output after each major step (analyzing, fixing, testing, creating_pr, completed)\n")
	fmt.Fprintf(&b, "4. Run existing tests and ensure they pass\n")
	fmt.Fprintf(&b, "5. Create a pull request with the fix on a new branch\n")

	if overrides != nil {
		if o, ok := overrides[f.ServiceName]; ok {
			branchPrefix := o.BranchPrefix
			if branchPrefix == "" {
				branchPrefix = "security/fix"
			}
			notes := o.DeploymentNotes
			if notes == "" {
				notes = "Standard deployment."
			}
			fmt.Fprintf(&b, "\n## Service-Specific Instructions (%s)\n", f.ServiceName)
			fmt.Fprintf(&b, "- **Test Command**: %s\n", orNA(o.TestCommand))
			fmt.Fprintf(&b, "- **Branch Prefix**: %s\n", branchPrefix)
			fmt.Fprintf(&b, "- **Deployment Notes**: %s\n\n%s\n", notes, o.CustomInstructions)
		}
	}

	if memoryContext != "" {
		fmt.Fprintf(&b, "\n## Prior Remediation Knowledge\n")
		fmt.Fprintf(&b, "The following context is from previous remediation sessions for similar findings.\n")
		fmt.Fprintf(&b, "Use this as reference but verify applicability to the current codebase.\n\n%s\n", memoryContext)
	}

	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// DetermineDataSource decides whether a finding should be worked against
// the live API or the mock simulation. In hybrid mode, a finding whose
// ServiceName substring-matches an entry in connectedRepos routes live;
// everything else falls back to mock.
func DetermineDataSource(f models.Finding, mockMode, hybridMode bool, connectedRepos []string) string {
	if mockMode {
		return "mock"
	}
	if !hybridMode {
		return "live"
	}
	for _, repo := range connectedRepos {
		if strings.Contains(f.ServiceName, repo) || strings.Contains(repo, f.ServiceName) {
			return "live"
		}
	}
	return "mock"
}

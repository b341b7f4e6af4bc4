// Package preflight runs the batch's pre-dispatch validation: the checks
// that depend on the remote API, the findings list, or the filesystem, and
// so can't live in pkg/config's pure-value Validate().
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sre-tools/remediation-batch/pkg/config"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/playbook"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

// Check runs every preflight check and returns every failure found (not
// just the first), so an operator can fix everything in one pass instead
// of rediscovering errors one at a time across repeated runs. An empty
// slice means every check passed.
func Check(ctx context.Context, client remoteclient.Client, cfg *config.Config, playbooksDir string, findings []models.Finding) []string {
	var errs []string

	if cfg.MockMode {
		if len(findings) == 0 {
			return []string{"no findings to remediate"}
		}
		errs = append(errs, checkPlaybooks(findings, playbooksDir)...)
		return errs
	}

	if cfg.DevinAPIKey == "" {
		errs = append(errs, "DEVIN_API_KEY is not set")
	} else if _, err := client.ListSessions(ctx, nil, 1, 0); err != nil {
		errs = append(errs, fmt.Sprintf("cannot reach remote agent API: %v", err))
	}

	if len(findings) > 0 {
		errs = append(errs, checkPlaybooks(findings, playbooksDir)...)
	}

	if cfg.HybridMode && len(cfg.ConnectedRepos) == 0 {
		errs = append(errs, "connected_repos must be set when using hybrid mode")
	}

	if len(findings) == 0 {
		errs = append(errs, "no findings to remediate")
	}

	return errs
}

func checkPlaybooks(findings []models.Finding, playbooksDir string) []string {
	var errs []string
	seen := map[models.FindingCategory]bool{}

	for _, f := range findings {
		if seen[f.Category] {
			continue
		}
		seen[f.Category] = true

		rel := playbook.PathFor(f.Category)
		if _, err := os.Stat(filepath.Join(playbooksDir, rel)); err != nil {
			errs = append(errs, fmt.Sprintf("playbook file missing for category %q: %s", f.Category, rel))
		}
	}

	return errs
}

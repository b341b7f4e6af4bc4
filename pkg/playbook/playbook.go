// Package playbook maps finding categories to the Devin playbook that
// should drive their remediation, uploads playbooks that aren't registered
// with the remote agent yet, and assigns playbook IDs onto sessions.
package playbook

import (
	"context"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

// pathMap is the category → playbook file path table, relative to the
// playbooks directory passed to EnsureUploaded.
var pathMap = map[models.FindingCategory]string{
	models.CategoryDependencyVulnerability: "dependency_vulnerability.devin.md",
	models.CategorySQLInjection:            "sql_injection.devin.md",
	models.CategoryHardcodedSecret:         "hardcoded_secrets.devin.md",
	models.CategoryPIILogging:              "pii_logging.devin.md",
	models.CategoryMissingEncryption:       "missing_encryption.devin.md",
	models.CategoryAccessLogging:           "access_logging.devin.md",
}

// fallbackPath is used for categories with no dedicated playbook (XSS,
// path traversal, other).
const fallbackPath = "dependency_vulnerability.devin.md"

// PathFor returns the playbook file name for category.
func PathFor(category models.FindingCategory) string {
	if p, ok := pathMap[category]; ok {
		return p
	}
	return fallbackPath
}

// EnsureUploaded makes sure every playbook referenced by pathMap exists on
// the remote agent, uploading any that are missing from playbooksDir, and
// returns a map from playbook file name to its remote playbook_id.
func EnsureUploaded(ctx context.Context, client remoteclient.Client, playbooksDir string) (map[string]string, error) {
	existing, err := client.ListPlaybooks(ctx)
	if err != nil {
		return nil, err
	}
	byTitle := make(map[string]string, len(existing))
	for _, pb := range existing {
		byTitle[pb.Title] = pb.PlaybookID
	}

	uniquePaths := uniqueSorted(pathMap)
	result := make(map[string]string, len(uniquePaths))

	for _, name := range uniquePaths {
		title := strings.TrimSuffix(name, ".devin.md")

		if id, ok := byTitle[title]; ok {
			result[name] = id
			slog.Info("playbook already uploaded", "path", name, "playbook_id", id)
			continue
		}

		filePath := path.Join(playbooksDir, name)
		body, err := os.ReadFile(filePath)
		if err != nil {
			slog.Warn("playbook file not found on disk", "path", filePath, "error", err)
			continue
		}

		pb, err := client.CreatePlaybook(ctx, title, string(body))
		if err != nil {
			return nil, err
		}
		result[name] = pb.PlaybookID
		slog.Info("uploaded playbook", "path", name, "playbook_id", pb.PlaybookID)
	}

	return result, nil
}

// Assign sets PlaybookID on every session in waves based on its finding's
// category, falling back to an arbitrary available playbook ID if a
// category's preferred playbook wasn't uploaded, and leaving it empty only
// if no playbook at all is available.
func Assign(waves []models.Wave, playbookIDs map[string]string) {
	var fallbackID string
	for _, id := range playbookIDs {
		fallbackID = id
		break
	}

	for wi := range waves {
		for si := range waves[wi].Sessions {
			session := &waves[wi].Sessions[si]
			wantPath := PathFor(session.Finding.Category)
			id, ok := playbookIDs[wantPath]

			if !ok {
				if fallbackID == "" {
					slog.Warn("no playbook_id available for category, leaving empty", "category", session.Finding.Category)
					continue
				}
				slog.Warn("no playbook_id for category, using fallback", "category", session.Finding.Category, "path", wantPath, "fallback_id", fallbackID)
				id = fallbackID
			}

			session.PlaybookID = id
		}
	}
}

func uniqueSorted(m map[models.FindingCategory]string) []string {
	set := map[string]bool{}
	for _, v := range m {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

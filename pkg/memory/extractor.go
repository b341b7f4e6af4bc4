package memory

import (
	"log/slog"
	"time"

	"github.com/sre-tools/remediation-batch/pkg/models"
)

// extractionStatuses are the session statuses worth turning into a memory
// item — every status the dashboard also treats as terminal, since a
// session stuck blocked still carries a lesson (what went wrong, or the
// PR it produced in spite of the block).
var extractionStatuses = map[models.SessionStatus]bool{
	models.StatusSuccess: true,
	models.StatusFailed:  true,
	models.StatusTimeout: true,
	models.StatusBlocked: true,
}

// Extract builds a memory Item for every terminal session in run.
func Extract(run *models.BatchRun) []Item {
	var items []Item

	for _, wave := range run.Waves {
		for _, session := range wave.Sessions {
			if !extractionStatuses[session.Status] {
				continue
			}
			items = append(items, sessionToItem(session, run.RunID))
		}
	}

	slog.Info("extracted memory items", "count", len(items), "run_id", run.RunID)
	return items
}

func sessionToItem(session models.RemediationSession, runID string) Item {
	f := session.Finding
	so := session.StructuredOutput

	outcome := "failed"
	if session.Status == models.StatusSuccess {
		outcome = "success"
	}

	item := Item{
		ItemID:      runID + "-" + f.FindingID,
		FindingID:   f.FindingID,
		Category:    string(f.Category),
		ServiceName: f.ServiceName,
		Severity:    string(f.Severity),
		Title:       f.Title,
		DataSource:  session.DataSource,
		Outcome:     outcome,
		ErrorMessage: session.ErrorMessage,
		PRURL:       session.PRURL,
		RunID:       runID,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if so != nil {
		if v, ok := so["confidence"].(string); ok {
			item.Confidence = v
		}
		if v, ok := so["fix_approach"].(string); ok {
			item.FixApproach = v
		}
		if v, ok := so["files_modified"].([]string); ok {
			item.FilesModified = v
		} else if v, ok := so["files_modified"].([]any); ok {
			for _, e := range v {
				if s, ok := e.(string); ok {
					item.FilesModified = append(item.FilesModified, s)
				}
			}
		}
		if item.ErrorMessage == "" {
			if v, ok := so["error_message"].(string); ok {
				item.ErrorMessage = v
			}
		}
		if v, ok := so["tests_passed"].(bool); ok {
			item.TestsPassed = &v
		}
		if v, ok := so["tests_added"].(int); ok {
			item.TestsAdded = v
		} else if v, ok := so["tests_added"].(float64); ok {
			item.TestsAdded = int(v)
		}
	}

	return item
}

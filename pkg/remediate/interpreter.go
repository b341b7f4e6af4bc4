// Package remediate turns a Finding into a remote session prompt, and
// turns the remote API's raw session payload back into a SessionStatus.
package remediate

import (
	"log/slog"

	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

// RemediationOutputSchema is the JSON Schema every remote session is asked
// to report its structured output against.
var RemediationOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"finding_id": map[string]any{"type": "string"},
		"status": map[string]any{
			"type": "string",
			"enum": []string{"analyzing", "fixing", "testing", "creating_pr", "completed", "failed"},
		},
		"progress_pct":  map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		"current_step":  map[string]any{"type": "string"},
		"fix_approach":  map[string]any{"type": []string{"string", "null"}},
		"files_modified": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"tests_passed":  map[string]any{"type": []string{"boolean", "null"}},
		"tests_added":   map[string]any{"type": "integer"},
		"pr_url":        map[string]any{"type": []string{"string", "null"}},
		"error_message": map[string]any{"type": []string{"string", "null"}},
		"confidence":    map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
	},
	"required": []string{"finding_id", "status", "progress_pct", "current_step"},
}

// statusMap translates the remote API's status_enum into our SessionStatus.
// Transitional states (suspend/resume) map to WORKING — the poller just
// keeps checking back.
var statusMap = map[string]models.SessionStatus{
	"working":            models.StatusWorking,
	"finished":           models.StatusSuccess,
	"blocked":            models.StatusBlocked,
	"expired":            models.StatusTimeout,
	"suspend_requested":  models.StatusWorking,
	"resume_requested":   models.StatusWorking,
	"resumed":            models.StatusWorking,
}

// InterpretSessionStatus maps a remote session response to our status, the
// pull request URL if one exists, and any error message the session
// reported. A "blocked" status with a PR present means the agent finished
// and is waiting on human approval — the orchestrator treats that as
// success rather than as stuck. An unrecognized status_enum is treated as
// WORKING so polling continues rather than the session being marked failed.
func InterpretSessionStatus(resp *remoteclient.SessionResponse) (status models.SessionStatus, prURL, errorMessage string) {
	if resp.PullRequest != nil {
		prURL = resp.PullRequest.URL
	}
	if resp.StructuredOutput != nil {
		if msg, ok := resp.StructuredOutput["error_message"].(string); ok {
			errorMessage = msg
		}
	}

	if resp.StatusEnum == "blocked" && prURL != "" {
		slog.Info("session blocked with PR present, treating as success", "session_id", resp.SessionID)
		return models.StatusSuccess, prURL, errorMessage
	}

	status, known := statusMap[resp.StatusEnum]
	if !known {
		if resp.StatusEnum != "" {
			slog.Warn("unrecognized remote status_enum, treating as working", "status_enum", resp.StatusEnum, "session_id", resp.SessionID)
		}
		status = models.StatusWorking
	}
	return status, prURL, errorMessage
}

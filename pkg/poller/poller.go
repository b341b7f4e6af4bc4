// Package poller advances active remote sessions toward a terminal state,
// translating remote status changes into progress-tracker events.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/sre-tools/remediation-batch/pkg/events"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/progress"
	"github.com/sre-tools/remediation-batch/pkg/remediate"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

var activeStatuses = map[models.SessionStatus]bool{
	models.StatusDispatched: true,
	models.StatusWorking:    true,
	models.StatusBlocked:    true,
}

var terminalStatuses = map[models.SessionStatus]bool{
	models.StatusSuccess: true,
	models.StatusFailed:  true,
	models.StatusTimeout: true,
}

var stageLabels = map[string]string{
	"analyzing":   "Analyzing vulnerability",
	"fixing":      "Applying fix",
	"testing":     "Running tests",
	"creating_pr": "Creating pull request",
	"completed":   "Completed",
	"failed":      "Failed",
}

// PollSession fetches session's current remote state and updates it in
// place. On a remote API failure it logs and leaves the session unchanged
// so the next poll cycle tries again.
func PollSession(ctx context.Context, client remoteclient.Client, session models.RemediationSession) models.RemediationSession {
	resp, err := client.GetSession(ctx, session.SessionID)
	if err != nil {
		slog.Error("failed to poll session", "session_id", session.SessionID, "error", err)
		return session
	}

	if resp.StructuredOutput != nil {
		session.StructuredOutput = resp.StructuredOutput
	}

	newStatus, prURL, errMsg := remediate.InterpretSessionStatus(resp)

	switch {
	case terminalStatuses[newStatus]:
		session.Status = newStatus
		now := time.Now()
		session.CompletedAt = &now
		if prURL != "" {
			session.PRURL = prURL
		}
		if errMsg != "" {
			session.ErrorMessage = errMsg
		}
	case newStatus == models.StatusWorking || newStatus == models.StatusBlocked:
		session.Status = newStatus
		if prURL != "" {
			session.PRURL = prURL
		}
	}

	return session
}

// PollActiveSessions polls every active session in sessions once, updating
// tracker's aggregate state and timeline as statuses and structured-output
// stages change. It returns the full slice with each session's state
// brought up to date (same length and order as the input, so callers can
// write it straight back into the owning wave) along with whether any
// session in it is still active. Sessions whose elapsed time since creation
// exceeds timeout are marked StatusTimeout without a remote call.
func PollActiveSessions(ctx context.Context, client remoteclient.Client, sessions []models.RemediationSession, tracker *progress.Tracker, sessionTimeout time.Duration) ([]models.RemediationSession, bool) {
	now := time.Now()
	updated := make([]models.RemediationSession, len(sessions))
	anyActive := false

	for i, session := range sessions {
		if !activeStatuses[session.Status] {
			updated[i] = session
			continue
		}

		oldStatus := session.Status
		oldStage := stageOf(session.StructuredOutput)

		if session.CreatedAt != nil && now.Sub(*session.CreatedAt) > sessionTimeout {
			session.Status = models.StatusTimeout
			session.ErrorMessage = "session timed out"
			session.CompletedAt = &now
			tracker.AddEvent(events.TypeSessionFailed, "session "+session.Finding.FindingID+" timed out", session.SessionID, session.WaveNumber)
			updated[i] = session
			continue
		}

		session = PollSession(ctx, client, session)

		newStage := stageOf(session.StructuredOutput)
		if newStage != "" && newStage != oldStage {
			label := stageLabels[newStage]
			if label == "" {
				label = newStage
			}
			tracker.AddEvent(events.TypeSessionProgress, session.Finding.FindingID+": "+label, session.SessionID, session.WaveNumber)
		}

		if session.Status != oldStatus {
			switch {
			case session.Status == models.StatusSuccess:
				tracker.AddEvent(events.TypeSessionCompleted, "session "+session.Finding.FindingID+" completed successfully", session.SessionID, session.WaveNumber)
			case terminalStatuses[session.Status]:
				tracker.AddEvent(events.TypeSessionFailed, "session "+session.Finding.FindingID+" failed with status "+string(session.Status), session.SessionID, session.WaveNumber)
			}
		}

		if activeStatuses[session.Status] {
			anyActive = true
		}
		updated[i] = session
	}

	tracker.UpdateSession()
	if err := tracker.SaveState(); err != nil {
		slog.Error("failed to save progress state after poll cycle", "error", err)
	}

	return updated, anyActive
}

func stageOf(structuredOutput map[string]any) string {
	if structuredOutput == nil {
		return ""
	}
	if v, ok := structuredOutput["status"].(string); ok {
		return v
	}
	return ""
}

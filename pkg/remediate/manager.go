package remediate

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/sre-tools/remediation-batch/pkg/ledger"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

// MemoryContextFunc retrieves prior-remediation context for a finding, or
// "" if none applies. Wired to pkg/memory's retriever by the caller so this
// package stays free of a direct dependency on the memory store.
type MemoryContextFunc func(models.Finding) string

// CreateSessionParams bundles the inputs CreateRemediationSession needs
// beyond the session itself.
type CreateSessionParams struct {
	RunID           string
	MaxACUPerSession int
	ServiceOverrides map[string]ServiceOverride
	MemoryContext   MemoryContextFunc
	Ledger          *ledger.Ledger
}

// CreateRemediationSession dispatches session's Finding to client, honoring
// the idempotency ledger so a re-dispatch of an already-dispatched
// (run, finding, attempt) reuses the prior remote session ID instead of
// creating a duplicate. On any failure, session is marked StatusFailed with
// ErrorMessage set rather than returning an error — callers drive a whole
// wave and should not abort on one finding's dispatch failure.
func CreateRemediationSession(ctx context.Context, client remoteclient.Client, session models.RemediationSession, params CreateSessionParams) models.RemediationSession {
	key := ledger.MakeKey(params.RunID, session.Finding.FindingID, session.Attempt)

	if params.Ledger != nil {
		if existing, ok := params.Ledger.Lookup(key); ok {
			slog.Info("idempotency hit, reusing existing session", "key", key, "session_id", existing.SessionID)
			session.SessionID = existing.SessionID
			session.Status = models.StatusDispatched
			return session
		}
	}

	memoryCtx := ""
	if params.MemoryContext != nil {
		memoryCtx = params.MemoryContext(session.Finding)
	}
	prompt := BuildRemediationPrompt(session.Finding, params.RunID, memoryCtx, params.ServiceOverrides)

	tags := []string{
		waveTag(session.WaveNumber),
		string(session.Finding.Category),
		session.Finding.ServiceName,
	}

	resp, err := client.CreateSession(ctx, remoteclient.CreateSessionInput{
		Prompt:                 prompt,
		PlaybookID:             session.PlaybookID,
		Tags:                   tags,
		StructuredOutputSchema: RemediationOutputSchema,
		MaxACULimit:            params.MaxACUPerSession,
		Idempotent:             true,
	})
	if err != nil {
		slog.Error("failed to create remote session", "finding_id", session.Finding.FindingID, "error", err)
		session.Status = models.StatusFailed
		session.ErrorMessage = err.Error()
		return session
	}

	session.SessionID = resp.SessionID
	session.DevinURL = resp.URL
	session.Status = models.StatusDispatched
	now := time.Now()
	session.CreatedAt = &now

	if params.Ledger != nil {
		if err := params.Ledger.Record(key, session.SessionID); err != nil {
			slog.Warn("failed to record idempotency ledger entry", "key", key, "error", err)
		}
	}

	slog.Info("created remote session", "session_id", session.SessionID, "finding_id", session.Finding.FindingID)
	return session
}

func waveTag(waveNumber int) string {
	return "wave-" + strconv.Itoa(waveNumber)
}

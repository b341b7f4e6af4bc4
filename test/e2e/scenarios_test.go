package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/ingest"
	"github.com/sre-tools/remediation-batch/pkg/ledger"
	"github.com/sre-tools/remediation-batch/pkg/memory"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/remediate"
	"github.com/sre-tools/remediation-batch/test/util"
)

func newRun(runID string, findings []models.Finding, waveSize int) *models.BatchRun {
	return &models.BatchRun{
		RunID:         runID,
		StartedAt:     time.Now(),
		Waves:         ingest.CreateWaves(findings, waveSize),
		TotalFindings: len(findings),
		Status:        "pending",
		DataSource:    "mock",
	}
}

func TestHappyPath_AllFindingsSucceed(t *testing.T) {
	findings := util.Findings(3, models.CategorySQLInjection, "billing-service")
	run := newRun("run-happy", findings, 10)

	app := NewTestApp(t, run, WithDefaultOutcome(Outcome{Terminal: "finished", PRURL: "https://github.com/example-org/billing-service/pull/1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Manager.ExecuteRun(ctx, run))

	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 3, run.Successful)
	assert.Equal(t, 0, run.Failed)
	assert.Equal(t, 3, run.PRsCreated)

	summary := app.Tracker.GetSummary()
	assert.Equal(t, 1.0, summary.SuccessRate)
}

func TestMixedResultWave_ProceedsWhenAboveGateThreshold(t *testing.T) {
	findings := util.Findings(4, models.CategoryXSS, "checkout-service")
	run := newRun("run-mixed", findings, 10)

	outcomes := map[string]Outcome{
		"FIND-1001": {Terminal: "finished", PRURL: "https://github.com/example-org/checkout-service/pull/2"},
		"FIND-1002": {Terminal: "finished", PRURL: "https://github.com/example-org/checkout-service/pull/3"},
		"FIND-1003": {Terminal: "finished", PRURL: "https://github.com/example-org/checkout-service/pull/4"},
		"FIND-1004": {Terminal: "expired", ErrorMessage: "tests failed: existing tests broke"},
	}
	app := NewTestApp(t, run, WithOutcomes(outcomes), WithMinSuccessRate(0.5))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Manager.ExecuteRun(ctx, run))

	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 3, run.Successful)
	assert.Equal(t, 1, run.Failed)
}

func TestWaveGated_PausesRunWhenSuccessRateBelowThreshold(t *testing.T) {
	findings := append(util.Findings(2, models.CategoryHardcodedSecret, "auth-service"),
		util.Findings(2, models.CategoryPIILogging, "reporting-service")...)
	run := newRun("run-gated", findings, 2) // two waves of 2

	outcomes := map[string]Outcome{
		"FIND-1001": {Terminal: "expired", ErrorMessage: "tests failed"},
		"FIND-1002": {Terminal: "expired", ErrorMessage: "tests failed"},
	}
	app := NewTestApp(t, run, WithOutcomes(outcomes), WithDefaultOutcome(Outcome{Terminal: "finished"}), WithMinSuccessRate(0.7))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, app.Manager.ExecuteRun(ctx, run))

	assert.Equal(t, "paused", run.Status)
	assert.Equal(t, "completed", run.Waves[0].Status)
	assert.Equal(t, 0, run.Waves[0].SuccessCount)
	// the second wave never ran, so the reporting-service findings are still pending
	assert.Equal(t, "pending", run.Waves[1].Status)
}

func TestIdempotentResume_ReusesExistingSessionViaLedger(t *testing.T) {
	runsDir := t.TempDir()
	ldgr, err := ledger.Load(runsDir + "/ledger.json")
	require.NoError(t, err)

	key := ledger.MakeKey("run-resume", "FIND-1001", 1)
	require.NoError(t, ldgr.Record(key, "existing-session-id"))

	client := NewScriptedClient(nil, Outcome{Terminal: "finished"})
	finding := util.Finding("FIND-1001", models.CategoryDependencyVulnerability, "payments-service")
	session := models.RemediationSession{Finding: finding, WaveNumber: 1, Attempt: 1}

	result := remediate.CreateRemediationSession(context.Background(), client, session, remediate.CreateSessionParams{
		RunID:  "run-resume",
		Ledger: ldgr,
	})

	assert.Equal(t, "existing-session-id", result.SessionID)
	assert.Equal(t, models.StatusDispatched, result.Status)
	assert.Equal(t, int32(0), client.CreateCalls(), "idempotency hit must not dispatch a new remote session")
}

func TestMemoryRetrieval_PreviousFailurePrecedesGenericContext(t *testing.T) {
	memDir := t.TempDir()
	store, err := memory.NewStore(memDir)
	require.NoError(t, err)

	failedRun := &models.BatchRun{
		RunID: "run-prior",
		Waves: []models.Wave{{
			WaveNumber: 1,
			Sessions: []models.RemediationSession{{
				Finding:    util.Finding("FIND-9001", models.CategorySQLInjection, "billing-service"),
				Status:     models.StatusFailed,
				DataSource: "live",
				ErrorMessage: "tests failed: parameterized query broke an existing integration test",
			}},
		}},
	}
	items := memory.Extract(failedRun)
	require.Len(t, items, 1)
	graph := store.LoadGraph()
	graph, err = store.Upsert(items[0], graph)
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(graph))

	newFinding := util.Finding("FIND-9002", models.CategorySQLInjection, "billing-service")
	results := memory.Retrieve(store, newFinding, 3, true)

	require.Len(t, results, 1)
	assert.Contains(t, results[0].SourceNote, "run-prior")
	assert.Equal(t, "live", results[0].DataSource)
}


package remediate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/ledger"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

func TestInterpretSessionStatus_BlockedWithPRIsSuccess(t *testing.T) {
	resp := &remoteclient.SessionResponse{
		StatusEnum: "blocked",
		PullRequest: &struct {
			URL string `json:"url"`
		}{URL: "https://example.com/pull/1"},
	}
	status, prURL, _ := InterpretSessionStatus(resp)
	assert.Equal(t, models.StatusSuccess, status)
	assert.Equal(t, "https://example.com/pull/1", prURL)
}

func TestInterpretSessionStatus_BlockedWithoutPRIsBlocked(t *testing.T) {
	resp := &remoteclient.SessionResponse{StatusEnum: "blocked"}
	status, prURL, _ := InterpretSessionStatus(resp)
	assert.Equal(t, models.StatusBlocked, status)
	assert.Empty(t, prURL)
}

func TestInterpretSessionStatus_UnknownStatusTreatedAsWorking(t *testing.T) {
	resp := &remoteclient.SessionResponse{StatusEnum: "some_new_status"}
	status, _, _ := InterpretSessionStatus(resp)
	assert.Equal(t, models.StatusWorking, status)
}

func TestInterpretSessionStatus_ExpiredIsTimeout(t *testing.T) {
	resp := &remoteclient.SessionResponse{StatusEnum: "expired"}
	status, _, _ := InterpretSessionStatus(resp)
	assert.Equal(t, models.StatusTimeout, status)
}

func TestDetermineDataSource_MockModeAlwaysMock(t *testing.T) {
	f := models.Finding{ServiceName: "payments-service"}
	assert.Equal(t, "mock", DetermineDataSource(f, true, false, nil))
}

func TestDetermineDataSource_NonHybridNonMockIsLive(t *testing.T) {
	f := models.Finding{ServiceName: "payments-service"}
	assert.Equal(t, "live", DetermineDataSource(f, false, false, nil))
}

func TestDetermineDataSource_HybridRoutesConnectedReposLive(t *testing.T) {
	f := models.Finding{ServiceName: "payments-service"}
	assert.Equal(t, "live", DetermineDataSource(f, false, true, []string{"payments-service"}))
	assert.Equal(t, "mock", DetermineDataSource(f, false, true, []string{"orders-service"}))
}

func TestBuildRemediationPrompt_IncludesCoreFields(t *testing.T) {
	f := models.Finding{
		FindingID: "FIND-0001", ServiceName: "payments-service", Category: models.CategorySQLInjection,
		Severity: models.SeverityHigh, FilePath: "src/Dao.java", Title: "SQL Injection", Description: "desc",
		RepoURL: "https://github.com/example/payments-service",
	}
	prompt := BuildRemediationPrompt(f, "run-1", "", nil)
	assert.Contains(t, prompt, "FIND-0001")
	assert.Contains(t, prompt, "payments-service")
	assert.Contains(t, prompt, "run-1")
}

func TestCreateRemediationSession_IdempotencyHitReusesSession(t *testing.T) {
	dir := t.TempDir() + "/idempotency.json"
	l, err := ledger.Load(dir)
	require.NoError(t, err)

	require.NoError(t, l.Record(ledger.MakeKey("run-1", "FIND-0001", 0), "existing-session"))

	session := models.RemediationSession{
		Finding: models.Finding{FindingID: "FIND-0001"},
		Attempt: 0,
	}
	mock := remoteclient.NewMock(1)
	out := CreateRemediationSession(context.Background(), mock, session, CreateSessionParams{RunID: "run-1", Ledger: l})
	assert.Equal(t, "existing-session", out.SessionID)
	assert.Equal(t, models.StatusDispatched, out.Status)
}

func TestCreateRemediationSession_NewDispatchRecordsLedger(t *testing.T) {
	path := t.TempDir() + "/idempotency.json"
	l, err := ledger.Load(path)
	require.NoError(t, err)

	session := models.RemediationSession{
		Finding: models.Finding{FindingID: "FIND-0002", ServiceName: "orders-service"},
		Attempt: 0,
	}
	mock := remoteclient.NewMock(1)
	out := CreateRemediationSession(context.Background(), mock, session, CreateSessionParams{RunID: "run-2", Ledger: l})
	require.Equal(t, models.StatusDispatched, out.Status)
	assert.NotEmpty(t, out.SessionID)

	_, ok := l.Lookup(ledger.MakeKey("run-2", "FIND-0002", 0))
	assert.True(t, ok)
}

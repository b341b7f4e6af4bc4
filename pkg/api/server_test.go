package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/config"
	"github.com/sre-tools/remediation-batch/pkg/lock"
	"github.com/sre-tools/remediation-batch/pkg/models"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	runsDir := t.TempDir()
	memDir := t.TempDir()
	cfg := config.Defaults()
	s := NewServer(cfg, runsDir, memDir)
	return s, runsDir
}

func writeRunFixture(t *testing.T, runsDir, runID string, run models.BatchRun) {
	t.Helper()
	dir := filepath.Join(runsDir, runID)
	require.NoError(t, lock.AtomicWriteJSON(filepath.Join(dir, "state.json"), run))
}

func TestHealthHandler_ReturnsHealthy(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestListRuns_EmptyWhenIndexMissing(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runs":[]`)
}

func TestGetRun_NotFoundReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_ReturnsPersistedState(t *testing.T) {
	s, runsDir := newTestServer(t)
	run := models.BatchRun{
		RunID:         "run-1",
		StartedAt:     time.Now(),
		TotalFindings: 3,
		Status:        "running",
	}
	writeRunFixture(t, runsDir, "run-1", run)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-1")
	assert.Contains(t, rec.Body.String(), "running")
}

func TestGetRunSummary_ComputesFromPersistedWaves(t *testing.T) {
	s, runsDir := newTestServer(t)
	run := models.BatchRun{
		RunID:         "run-2",
		TotalFindings: 2,
		Completed:     2,
		Successful:    1,
		Failed:        1,
		Waves: []models.Wave{
			{WaveNumber: 1, Sessions: []models.RemediationSession{
				{Status: models.StatusSuccess},
				{Status: models.StatusFailed},
			}},
		},
	}
	writeRunFixture(t, runsDir, "run-2", run)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-2/summary", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_findings":2`)
}

func TestGetRunEvents_ReturnsTimeline(t *testing.T) {
	s, runsDir := newTestServer(t)
	run := models.BatchRun{
		RunID: "run-3",
		Events: []models.TimelineEvent{
			{Type: "wave_started", Message: "wave 1 started"},
		},
	}
	writeRunFixture(t, runsDir, "run-3", run)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-3/events", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wave_started")
}

func TestSearchMemory_EmptyStoreReturnsEmptyResults(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/memory/search?category=dependency_vulnerability", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":null`)
}

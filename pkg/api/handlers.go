package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sre-tools/remediation-batch/pkg/lock"
	"github.com/sre-tools/remediation-batch/pkg/memory"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/progress"
)

// indexEntry mirrors pkg/progress's unexported row shape for runs/index.json
// so this package can decode it without importing progress internals.
type indexEntry struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	Status        string    `json:"status"`
	TotalFindings int       `json:"total_findings"`
	DataSource    string    `json:"data_source"`
}

// listRunsHandler handles GET /api/v1/runs, serving runs/index.json as-is.
func (s *Server) listRunsHandler(c *gin.Context) {
	indexPath := filepath.Join(s.runsDir, "index.json")

	var entries []indexEntry
	if err := lock.ReadJSON(indexPath, &entries); err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"runs": []indexEntry{}})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": entries})
}

// loadRunState reads runs/<id>/state.json into a BatchRun.
func (s *Server) loadRunState(runID string) (*models.BatchRun, error) {
	statePath := filepath.Join(s.runsDir, runID, "state.json")
	var run models.BatchRun
	if err := lock.ReadJSON(statePath, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// getRunHandler handles GET /api/v1/runs/:id, serving the full persisted
// BatchRun for one run.
func (s *Server) getRunHandler(c *gin.Context) {
	run, err := s.loadRunState(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// getRunSummaryHandler handles GET /api/v1/runs/:id/summary, recomputing
// the dashboard overview from the persisted run rather than serving a
// second stale copy of the same counters.
func (s *Server) getRunSummaryHandler(c *gin.Context) {
	run, err := s.loadRunState(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	tracker, err := progress.New(run, filepath.Join(s.runsDir, run.RunID, "state.json"), s.runsDir, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracker.GetSummary())
}

// getRunEventsHandler handles GET /api/v1/runs/:id/events, serving just
// the run's timeline for clients that only want the event feed.
func (s *Server) getRunEventsHandler(c *gin.Context) {
	run, err := s.loadRunState(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": run.Events})
}

// searchMemoryHandler handles GET /api/v1/memory/search?category=&service=&severity=&max_results=,
// exposing the same relevance-ranked retrieval the orchestrator uses to
// enrich prompts, for operators who want to inspect what a finding would
// surface without running a batch.
func (s *Server) searchMemoryHandler(c *gin.Context) {
	store, err := s.memoryStore()
	if err != nil {
		writeError(c, err)
		return
	}

	maxResults := 5
	if raw := c.Query("max_results"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			maxResults = n
		}
	}

	finding := models.Finding{
		Category:    models.FindingCategory(c.Query("category")),
		ServiceName: c.Query("service"),
		Severity:    models.Severity(c.Query("severity")),
	}
	preferLive := c.Query("prefer_live") == "true"

	results := memory.Retrieve(store, finding, maxResults, preferLive)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

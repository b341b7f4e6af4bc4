// Package progress tracks the aggregate state of a BatchRun and persists it
// to disk for the read-only status API to serve.
package progress

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sre-tools/remediation-batch/pkg/lock"
	"github.com/sre-tools/remediation-batch/pkg/models"
)

// terminalStatuses mirrors the dashboard's notion of "done with this
// session" — note this includes BLOCKED, unlike models.SessionStatus's own
// IsTerminal, because a session stuck blocked (no PR) will not be polled
// again once the wave concludes, even though InterpretSessionStatus never
// assigns BLOCKED as a genuinely final state on its own.
var terminalStatuses = map[models.SessionStatus]bool{
	models.StatusSuccess: true,
	models.StatusFailed:  true,
	models.StatusTimeout: true,
	models.StatusBlocked: true,
}

var failureStatuses = map[models.SessionStatus]bool{
	models.StatusFailed:  true,
	models.StatusTimeout: true,
	models.StatusBlocked: true,
}

var activeStatuses = map[models.SessionStatus]bool{
	models.StatusDispatched: true,
	models.StatusWorking:    true,
}

// Summary is the dashboard overview computed by GetSummary.
type Summary struct {
	TotalFindings  int     `json:"total_findings"`
	Completed      int     `json:"completed"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	PRsCreated     int     `json:"prs_created"`
	SuccessRate    float64 `json:"success_rate"`
	ActiveSessions int     `json:"active_sessions"`
	PendingReviews int     `json:"pending_reviews"`
	Status         string  `json:"status"`
	CurrentWave    int     `json:"current_wave"`
}

// indexEntry is one row of runs/index.json.
type indexEntry struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	Status        string    `json:"status"`
	TotalFindings int       `json:"total_findings"`
	DataSource    string    `json:"data_source"`
}

// Tracker owns a BatchRun's in-memory state and disk persistence.
type Tracker struct {
	run           *models.BatchRun
	stateFilePath string
	runsDir       string
	runDir        string

	extractMemories func(*models.BatchRun) (int, error)
}

// New builds a Tracker for run, creating its per-run directory under
// runsDir. extractMemories is called by ExtractAndSaveMemories; pass nil to
// disable memory extraction (e.g. in tests).
func New(run *models.BatchRun, stateFilePath, runsDir string, extractMemories func(*models.BatchRun) (int, error)) (*Tracker, error) {
	runDir := filepath.Join(runsDir, run.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, err
	}
	return &Tracker{
		run:             run,
		stateFilePath:   stateFilePath,
		runsDir:         runsDir,
		runDir:          runDir,
		extractMemories: extractMemories,
	}, nil
}

// BatchRun exposes the tracked run for read access.
func (t *Tracker) BatchRun() *models.BatchRun { return t.run }

// UpdateSession recounts every aggregate counter by rescanning all sessions
// in all waves. It's intentionally a full recount rather than an
// incremental update: sessions can be mutated in place by the poller and a
// single source of truth avoids drift between counters and session state.
func (t *Tracker) UpdateSession() {
	var completed, successful, failed, prsCreated int

	for i := range t.run.Waves {
		wave := &t.run.Waves[i]
		var waveSuccess, waveFailure int

		for _, sess := range wave.Sessions {
			if terminalStatuses[sess.Status] {
				completed++
			}
			if sess.Status == models.StatusSuccess {
				successful++
				waveSuccess++
			}
			if failureStatuses[sess.Status] {
				failed++
				waveFailure++
			}
			if sess.PRURL != "" {
				prsCreated++
			}
		}
		wave.SuccessCount = waveSuccess
		wave.FailureCount = waveFailure
	}

	t.run.Completed = completed
	t.run.Successful = successful
	t.run.Failed = failed
	t.run.PRsCreated = prsCreated
}

// AddEvent appends a timeline event to the run.
func (t *Tracker) AddEvent(eventType, message string, sessionID string, waveNumber int) {
	t.run.Events = append(t.run.Events, models.TimelineEvent{
		Timestamp:  time.Now(),
		Type:       eventType,
		SessionID:  sessionID,
		WaveNumber: waveNumber,
		Message:    message,
	})
}

// GetSummary computes the dashboard overview from current run state.
func (t *Tracker) GetSummary() Summary {
	var activeSessions, pendingReviews, currentWave int

	for _, wave := range t.run.Waves {
		hasNonPending := false
		for _, sess := range wave.Sessions {
			if activeStatuses[sess.Status] {
				activeSessions++
			}
			if sess.PRURL != "" {
				pendingReviews++
			}
			if sess.Status != models.StatusPending {
				hasNonPending = true
			}
		}
		if hasNonPending && wave.WaveNumber > currentWave {
			currentWave = wave.WaveNumber
		}
	}

	successRate := 0.0
	if t.run.Completed > 0 {
		successRate = float64(t.run.Successful) / float64(t.run.Completed)
	}

	return Summary{
		TotalFindings:  t.run.TotalFindings,
		Completed:      t.run.Completed,
		Successful:     t.run.Successful,
		Failed:         t.run.Failed,
		PRsCreated:     t.run.PRsCreated,
		SuccessRate:    successRate,
		ActiveSessions: activeSessions,
		PendingReviews: pendingReviews,
		Status:         t.run.Status,
		CurrentWave:    currentWave,
	}
}

// ExtractAndSaveMemories runs the configured memory extraction hook against
// the current run and returns the number of items saved.
func (t *Tracker) ExtractAndSaveMemories() (int, error) {
	if t.extractMemories == nil {
		return 0, nil
	}
	return t.extractMemories(t.run)
}

// SaveState writes the run's state to runs/<run_id>/state.json, updates
// runs/index.json, and mirrors to the legacy top-level state file path.
func (t *Tracker) SaveState() error {
	runStatePath := filepath.Join(t.runDir, "state.json")
	if err := lock.AtomicWriteJSON(runStatePath, t.run); err != nil {
		return err
	}

	if err := t.updateIndex(); err != nil {
		return err
	}

	if err := lock.AtomicWriteJSON(t.stateFilePath, t.run); err != nil {
		return err
	}

	slog.Debug("saved run state", "run_state_path", runStatePath, "legacy_path", t.stateFilePath)
	return nil
}

func (t *Tracker) updateIndex() error {
	indexPath := filepath.Join(t.runsDir, "index.json")

	return lock.With(indexPath, "progress_tracker", lock.DefaultOptions(), func() error {
		var entries []indexEntry
		if err := lock.ReadJSON(indexPath, &entries); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not parse existing run index, rebuilding", "error", err)
			entries = nil
		}

		summary := indexEntry{
			RunID:         t.run.RunID,
			StartedAt:     t.run.StartedAt,
			Status:        t.run.Status,
			TotalFindings: t.run.TotalFindings,
			DataSource:    t.run.DataSource,
		}

		found := false
		for i, e := range entries {
			if e.RunID == t.run.RunID {
				entries[i] = summary
				found = true
				break
			}
		}
		if !found {
			entries = append(entries, summary)
		}

		return lock.AtomicWriteJSON(indexPath, entries)
	})
}

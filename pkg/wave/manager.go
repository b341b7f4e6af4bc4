// Package wave orchestrates wave-based dispatch of remote remediation
// sessions: sequential dispatch within a wave, poll-to-quiescence, a
// success-rate gate between waves, and a bounded retry of failed sessions.
package wave

import (
	"context"
	"log/slog"
	"time"

	"github.com/sre-tools/remediation-batch/pkg/events"
	"github.com/sre-tools/remediation-batch/pkg/ledger"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/poller"
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

var retriableStatuses = map[models.SessionStatus]bool{
	models.StatusFailed:  true,
	models.StatusTimeout: true,
}

// maxAttempts is the total number of dispatch attempts a session gets
// (the original attempt plus one retry).
const maxAttempts = 2

// Config tunes a Manager's run.
type Config struct {
	DataSource       string // "live" | "mock" | "hybrid"
	HybridMode       bool
	ConnectedRepos   []string
	MaxACUPerSession int
	PollInterval     time.Duration
	SessionTimeout   time.Duration
	MinSuccessRate   float64
	ServiceOverrides map[string]remediate.ServiceOverride
	MemoryContext    remediate.MemoryContextFunc
	RunID            string
}

// Manager drives one BatchRun to completion.
type Manager struct {
	client     remoteclient.Client
	mockClient remoteclient.Client // only used in hybrid mode
	tracker    *progress.Tracker
	ledger     *ledger.Ledger
	cfg        Config
}

// New builds a Manager. mockClient may be nil unless cfg.HybridMode is set.
func New(client, mockClient remoteclient.Client, tracker *progress.Tracker, ledgr *ledger.Ledger, cfg Config) *Manager {
	return &Manager{client: client, mockClient: mockClient, tracker: tracker, ledger: ledgr, cfg: cfg}
}

// ExecuteRun drives every wave in run to completion, in order, pausing the
// run if a wave's success rate gate fails and honoring an externally-set
// "interrupted" status by stopping before the next wave.
func (m *Manager) ExecuteRun(ctx context.Context, run *models.BatchRun) error {
	m.drainStaleSessions(ctx)

	for i := range run.Waves {
		wave := &run.Waves[i]

		if run.Status == "interrupted" {
			slog.Info("run interrupted, stopping dispatch")
			m.tracker.AddEvent(events.TypeRunInterrupted, "run interrupted before next wave boundary", "", wave.WaveNumber)
			if err := m.tracker.SaveState(); err != nil {
				return err
			}
			return nil
		}

		slog.Info("wave started", "wave_number", wave.WaveNumber)
		m.tracker.AddEvent(events.TypeWaveStarted, "wave started", "", wave.WaveNumber)

		wave.Status = "running"
		run.Status = "running"
		if err := m.tracker.SaveState(); err != nil {
			return err
		}

		m.dispatchWave(ctx, wave)
		m.pollWave(ctx, wave)

		wave.Status = "completed"
		m.cleanupSessions(ctx, wave)

		m.tracker.UpdateSession()
		success := wave.SuccessCount
		total := wave.TotalCount()
		prs := countPRs(wave.Sessions)

		slog.Info("wave completed", "wave_number", wave.WaveNumber, "success", success, "total", total, "prs", prs)
		m.tracker.AddEvent(events.TypeWaveCompleted, "wave completed", "", wave.WaveNumber)
		if err := m.tracker.SaveState(); err != nil {
			return err
		}

		if !m.checkGate(*wave) {
			run.Status = "paused"
			m.tracker.AddEvent(events.TypeWaveGated, "wave gated: success rate below threshold", "", wave.WaveNumber)
			if err := m.tracker.SaveState(); err != nil {
				return err
			}
			break
		}

		m.retryFailed(ctx, wave)
	}

	if run.Status != "paused" {
		run.Status = "completed"
	}
	m.tracker.AddEvent(events.TypeRunCompleted, "run completed", "", 0)
	return m.tracker.SaveState()
}

// dispatchWave creates a remote session for every session in wave, in
// order, pausing 1s between creates so the remote side has time to
// register each session before the next request lands.
func (m *Manager) dispatchWave(ctx context.Context, wave *models.Wave) {
	for i := range wave.Sessions {
		session := wave.Sessions[i]
		client, dataSource := m.routeClient(session.Finding)

		session = remediate.CreateRemediationSession(ctx, client, session, remediate.CreateSessionParams{
			RunID:            m.cfg.RunID,
			MaxACUPerSession: m.cfg.MaxACUPerSession,
			ServiceOverrides: m.cfg.ServiceOverrides,
			MemoryContext:    m.cfg.MemoryContext,
			Ledger:           m.ledger,
		})
		session.DataSource = dataSource
		wave.Sessions[i] = session

		m.tracker.AddEvent(events.TypeSessionStarted, "session started for "+session.Finding.FindingID, session.SessionID, wave.WaveNumber)
		m.tracker.UpdateSession()

		if i < len(wave.Sessions)-1 {
			sleepCtx(ctx, time.Second)
		}
	}
	_ = m.tracker.SaveState()
}

// pollWave polls wave's sessions to quiescence, splitting by data source in
// hybrid mode so each session is polled with the client that created it.
func (m *Manager) pollWave(ctx context.Context, wave *models.Wave) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !m.anyActive(wave.Sessions) {
			return
		}
		m.pollOnce(ctx, wave)
		sleepCtx(ctx, m.cfg.PollInterval)
	}
}

func (m *Manager) pollOnce(ctx context.Context, wave *models.Wave) {
	if m.cfg.HybridMode && m.mockClient != nil {
		liveIdx, mockIdx := splitByDataSource(wave.Sessions)
		m.pollSubset(ctx, wave, liveIdx, m.client)
		m.pollSubset(ctx, wave, mockIdx, m.mockClient)
		return
	}
	allIdx := make([]int, 0, len(wave.Sessions))
	for i := range wave.Sessions {
		allIdx = append(allIdx, i)
	}
	m.pollSubset(ctx, wave, allIdx, m.client)
}

func (m *Manager) pollSubset(ctx context.Context, wave *models.Wave, idx []int, client remoteclient.Client) {
	if len(idx) == 0 {
		return
	}
	subset := make([]models.RemediationSession, len(idx))
	for i, j := range idx {
		subset[i] = wave.Sessions[j]
	}
	updated, _ := poller.PollActiveSessions(ctx, client, subset, m.tracker, m.cfg.SessionTimeout)
	for i, j := range idx {
		wave.Sessions[j] = updated[i]
	}
}

// cleanupSessions terminates every session in wave that reached a terminal
// status, to free concurrent session slots on the remote side before the
// next wave dispatches. Termination is best-effort: a failure here must
// never block the run from proceeding.
func (m *Manager) cleanupSessions(ctx context.Context, wave *models.Wave) {
	for _, session := range wave.Sessions {
		if session.SessionID == "" || !terminalStatuses[session.Status] {
			continue
		}
		client := m.client
		if m.cfg.HybridMode && m.mockClient != nil && session.DataSource == "mock" {
			client = m.mockClient
		}
		if err := client.TerminateSession(ctx, session.SessionID); err != nil {
			slog.Warn("could not terminate session", "session_id", session.SessionID, "error", err)
			continue
		}
		slog.Info("terminated session to free concurrent slot", "session_id", session.SessionID, "finding_id", session.Finding.FindingID)
	}
}

// drainStaleSessions terminates any sessions left over from a previous,
// interrupted run so they don't occupy concurrency slots the new run needs.
// Always resets the circuit breaker afterward, even on error, since a
// failed drain must never stop the run itself from starting.
func (m *Manager) drainStaleSessions(ctx context.Context) {
	defer m.client.ResetCircuitBreaker()

	list, err := m.client.ListSessions(ctx, nil, 20, 0)
	if err != nil {
		slog.Warn("could not drain stale sessions", "error", err)
		return
	}
	if len(list.Sessions) == 0 {
		return
	}

	slog.Info("found existing remote sessions, terminating to free slots", "count", len(list.Sessions))
	for _, s := range list.Sessions {
		if s.SessionID == "" {
			continue
		}
		m.client.TerminateSessionBestEffort(ctx, s.SessionID)
	}

	sleepCtx(ctx, 3*time.Second)
}

// checkGate reports whether wave's success rate meets the configured
// threshold. An empty wave, or a wave where nothing has concluded yet,
// always passes — the gate only blocks on an actual low success rate.
func (m *Manager) checkGate(wave models.Wave) bool {
	total := wave.TotalCount()
	if total == 0 {
		return true
	}
	completed := wave.SuccessCount + wave.FailureCount
	if completed == 0 {
		return true
	}
	successRate := float64(wave.SuccessCount) / float64(total)
	return successRate >= m.cfg.MinSuccessRate
}

// retryFailed resets every retriable session in wave (failed or timed out,
// with fewer than maxAttempts attempts so far) back to pending and
// re-dispatches it, then polls the retried subset to completion.
func (m *Manager) retryFailed(ctx context.Context, wave *models.Wave) {
	var retryIdx []int

	for i := range wave.Sessions {
		s := &wave.Sessions[i]
		if !retriableStatuses[s.Status] || s.Attempt >= maxAttempts {
			continue
		}
		s.Status = models.StatusPending
		s.SessionID = ""
		s.ErrorMessage = ""
		s.CompletedAt = nil
		s.PRURL = ""
		s.StructuredOutput = nil
		s.Attempt++

		m.tracker.AddEvent(events.TypeSessionRetry, "retrying "+s.Finding.FindingID, "", wave.WaveNumber)
		retryIdx = append(retryIdx, i)
	}

	if len(retryIdx) == 0 {
		return
	}

	for n, i := range retryIdx {
		session := wave.Sessions[i]
		client, dataSource := m.routeClient(session.Finding)

		session = remediate.CreateRemediationSession(ctx, client, session, remediate.CreateSessionParams{
			RunID:            m.cfg.RunID,
			MaxACUPerSession: m.cfg.MaxACUPerSession,
			ServiceOverrides: m.cfg.ServiceOverrides,
			MemoryContext:    m.cfg.MemoryContext,
			Ledger:           m.ledger,
		})
		session.DataSource = dataSource
		wave.Sessions[i] = session

		m.tracker.AddEvent(events.TypeSessionStarted, "session started for "+session.Finding.FindingID, session.SessionID, wave.WaveNumber)
		m.tracker.UpdateSession()

		if n < len(retryIdx)-1 {
			sleepCtx(ctx, time.Second)
		}
	}
	_ = m.tracker.SaveState()

	for {
		if ctx.Err() != nil {
			return
		}
		if !anyActiveAtIndices(wave.Sessions, retryIdx) {
			return
		}
		m.pollSubset(ctx, wave, retryIdx, m.client)
		sleepCtx(ctx, m.cfg.PollInterval)
	}
}

// routeClient picks which client and data-source label a finding should
// use. Outside hybrid mode every finding uses the primary client and the
// manager's configured data source.
func (m *Manager) routeClient(f models.Finding) (remoteclient.Client, string) {
	if !m.cfg.HybridMode || m.mockClient == nil {
		return m.client, m.cfg.DataSource
	}
	ds := remediate.DetermineDataSource(f, false, true, m.cfg.ConnectedRepos)
	if ds == "live" {
		return m.client, ds
	}
	return m.mockClient, ds
}

func (m *Manager) anyActive(sessions []models.RemediationSession) bool {
	for _, s := range sessions {
		if activeStatuses[s.Status] {
			return true
		}
	}
	return false
}

func anyActiveAtIndices(sessions []models.RemediationSession, idx []int) bool {
	for _, i := range idx {
		if activeStatuses[sessions[i].Status] {
			return true
		}
	}
	return false
}

func splitByDataSource(sessions []models.RemediationSession) (live, mock []int) {
	for i, s := range sessions {
		if !activeStatuses[s.Status] {
			continue
		}
		if s.DataSource == "live" {
			live = append(live, i)
		} else {
			mock = append(mock, i)
		}
	}
	return live, mock
}

func countPRs(sessions []models.RemediationSession) int {
	n := 0
	for _, s := range sessions {
		if s.PRURL != "" {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/ledger"
	"github.com/sre-tools/remediation-batch/pkg/memory"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/progress"
	"github.com/sre-tools/remediation-batch/pkg/wave"
)

// TestApp boots a complete orchestrator instance — real wave manager, real
// progress tracker, real idempotency ledger and memory store — against a
// ScriptedClient instead of a live remote agent.
type TestApp struct {
	Client   *ScriptedClient
	Tracker  *progress.Tracker
	Ledger   *ledger.Ledger
	Memory   *memory.Store
	Manager  *wave.Manager
	RunsDir  string
	MemDir   string
}

type testAppConfig struct {
	outcomes       map[string]Outcome
	defaultOutcome Outcome
	minSuccessRate float64
	pollInterval   time.Duration
	sessionTimeout time.Duration
}

// TestAppOption configures NewTestApp.
type TestAppOption func(*testAppConfig)

// WithOutcomes scripts per-finding-ID session outcomes.
func WithOutcomes(outcomes map[string]Outcome) TestAppOption {
	return func(c *testAppConfig) { c.outcomes = outcomes }
}

// WithDefaultOutcome sets the outcome used for any finding ID not named in
// WithOutcomes.
func WithDefaultOutcome(o Outcome) TestAppOption {
	return func(c *testAppConfig) { c.defaultOutcome = o }
}

// WithMinSuccessRate sets the wave success-rate gate threshold.
func WithMinSuccessRate(rate float64) TestAppOption {
	return func(c *testAppConfig) { c.minSuccessRate = rate }
}

// NewTestApp wires a TestApp for run, applying any options. run's waves
// should already be populated (e.g. via ingest.CreateWaves).
func NewTestApp(t *testing.T, run *models.BatchRun, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := testAppConfig{
		defaultOutcome: Outcome{Terminal: "finished"},
		minSuccessRate: 0.7,
		pollInterval:   20 * time.Millisecond,
		sessionTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	runsDir := t.TempDir()
	memDir := t.TempDir()

	memStore, err := memory.NewStore(memDir)
	require.NoError(t, err)

	tracker, err := progress.New(run, run.RunID+"-state.json", runsDir, func(r *models.BatchRun) (int, error) {
		items := memory.Extract(r)
		graph := memStore.LoadGraph()
		saved := 0
		for _, item := range items {
			graph, err = memStore.Upsert(item, graph)
			if err != nil {
				return saved, err
			}
			saved++
		}
		if saved > 0 {
			if err := memStore.SaveGraph(graph); err != nil {
				return saved, err
			}
		}
		return saved, nil
	})
	require.NoError(t, err)

	ldgr, err := ledger.Load(runsDir + "/ledger.json")
	require.NoError(t, err)

	client := NewScriptedClient(cfg.outcomes, cfg.defaultOutcome)

	manager := wave.New(client, nil, tracker, ldgr, wave.Config{
		DataSource:     run.DataSource,
		PollInterval:   cfg.pollInterval,
		SessionTimeout: cfg.sessionTimeout,
		MinSuccessRate: cfg.minSuccessRate,
		RunID:          run.RunID,
	})

	return &TestApp{
		Client:  client,
		Tracker: tracker,
		Ledger:  ldgr,
		Memory:  memStore,
		Manager: manager,
		RunsDir: runsDir,
		MemDir:  memDir,
	}
}

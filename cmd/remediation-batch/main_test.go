package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/config"
	"github.com/sre-tools/remediation-batch/pkg/lock"
	"github.com/sre-tools/remediation-batch/pkg/memory"
	"github.com/sre-tools/remediation-batch/pkg/models"
)

func TestDataSource(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want string
	}{
		{"hybrid wins over mock", &config.Config{HybridMode: true, MockMode: true}, "hybrid"},
		{"mock when not hybrid", &config.Config{MockMode: true}, "mock"},
		{"live when neither set", &config.Config{}, "live"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dataSource(tt.cfg))
		})
	}
}

func TestLoadOrCreateRun_NewRunPartitionsFindings(t *testing.T) {
	cfg := config.Defaults()
	cfg.WaveSize = 2
	cfg.MockMode = true

	findings := []models.Finding{
		{FindingID: "f1"}, {FindingID: "f2"}, {FindingID: "f3"},
	}

	run, err := loadOrCreateRun(cfg, "", findings)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "pending", run.Status)
	assert.Equal(t, 3, run.TotalFindings)
	assert.Equal(t, "mock", run.DataSource)
	assert.Len(t, run.Waves, 2)
	assert.Equal(t, 2, run.Waves[0].TotalCount())
	assert.Equal(t, 1, run.Waves[1].TotalCount())
}

func TestLoadOrCreateRun_ResumeReadsPersistedStateAndUnpauses(t *testing.T) {
	cfg := config.Defaults()
	cfg.RunsDir = t.TempDir()

	persisted := models.BatchRun{
		RunID:         "run-42",
		StartedAt:     time.Now(),
		TotalFindings: 5,
		Status:        "paused",
	}
	statePath := filepath.Join(cfg.RunsDir, "run-42", "state.json")
	require.NoError(t, lock.AtomicWriteJSON(statePath, persisted))

	run, err := loadOrCreateRun(cfg, "run-42", nil)
	require.NoError(t, err)
	assert.Equal(t, "run-42", run.RunID)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, 5, run.TotalFindings)
}

func TestLoadOrCreateRun_ResumeUnknownRunReturnsError(t *testing.T) {
	cfg := config.Defaults()
	cfg.RunsDir = t.TempDir()

	_, err := loadOrCreateRun(cfg, "does-not-exist", nil)
	assert.Error(t, err)
}

func TestMemoryContextFunc_EmptyStoreReturnsEmptyString(t *testing.T) {
	store, err := memory.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Defaults()
	ctxFn := memoryContextFunc(store, cfg)

	got := ctxFn(models.Finding{FindingID: "f1", Category: models.CategorySQLInjection})
	assert.Empty(t, got)
}

func TestExtractMemories_SavesItemsFromCompletedRun(t *testing.T) {
	store, err := memory.NewStore(t.TempDir())
	require.NoError(t, err)

	run := &models.BatchRun{
		RunID: "run-1",
		Waves: []models.Wave{
			{
				WaveNumber: 1,
				Sessions: []models.RemediationSession{
					{
						Finding: models.Finding{FindingID: "f1", Category: models.CategorySQLInjection, ServiceName: "billing"},
						Status:  models.StatusSuccess,
						PRURL:   "https://example.com/pr/1",
					},
				},
			},
		},
	}

	saved, err := extractMemories(store, run)
	require.NoError(t, err)
	assert.Positive(t, saved)

	graph := store.LoadGraph()
	assert.NotEmpty(t, graph.Entries)
}

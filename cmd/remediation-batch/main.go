// Command remediation-batch runs one orchestrator batch: it ingests
// pre-scored findings, partitions them into waves, dispatches a remote
// remediation session per finding, polls each wave to completion, gates
// progress on a minimum success rate, and extracts memory items for the
// next run's prompts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sre-tools/remediation-batch/pkg/config"
	"github.com/sre-tools/remediation-batch/pkg/events"
	"github.com/sre-tools/remediation-batch/pkg/ingest"
	"github.com/sre-tools/remediation-batch/pkg/ledger"
	"github.com/sre-tools/remediation-batch/pkg/lock"
	"github.com/sre-tools/remediation-batch/pkg/masking"
	"github.com/sre-tools/remediation-batch/pkg/memory"
	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/notify"
	"github.com/sre-tools/remediation-batch/pkg/playbook"
	"github.com/sre-tools/remediation-batch/pkg/preflight"
	"github.com/sre-tools/remediation-batch/pkg/progress"
	"github.com/sre-tools/remediation-batch/pkg/remediate"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
	"github.com/sre-tools/remediation-batch/pkg/wave"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	findingsPath := flag.String("findings", "", "path to a JSON file of pre-scored findings")
	playbooksDir := flag.String("playbooks-dir", "./playbooks", "directory of local playbook markdown files")
	runID := flag.String("run-id", "", "resume an existing run by ID instead of starting a new one")
	flag.Parse()

	if err := run(*configPath, *findingsPath, *playbooksDir, *runID); err != nil {
		slog.Error("batch run failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, findingsPath, playbooksDir, resumeRunID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	mask := masking.NewService(cfg.DevinAPIKey)
	slog.Info("starting remediation batch",
		"mock_mode", cfg.MockMode,
		"hybrid_mode", cfg.HybridMode,
		"base_url", mask.Mask(cfg.DevinBaseURL))

	ctx := context.Background()

	liveClient := remoteclient.New(remoteclient.Config{
		APIKey:                  cfg.DevinAPIKey,
		BaseURL:                 cfg.DevinBaseURL,
		MaxRetries:              cfg.MaxRetries,
		RetryJitterMax:          time.Duration(cfg.RetryJitterMaxSeconds * float64(time.Second)),
		CircuitBreakerThreshold: uint32(cfg.CircuitBreakerThreshold),
		CircuitBreakerCooldown:  time.Duration(cfg.CircuitBreakerCooldown) * time.Second,
	})
	defer liveClient.Close()

	mockClient := remoteclient.NewMock(1)

	var activeClient remoteclient.Client = liveClient
	if cfg.MockMode {
		activeClient = mockClient
	}

	var findings []models.Finding
	if findingsPath != "" {
		findings, err = ingest.LoadFindings(findingsPath)
		if err != nil {
			return fmt.Errorf("load findings: %w", err)
		}
	}

	if failures := preflight.Check(ctx, activeClient, cfg, playbooksDir, findings); len(failures) > 0 {
		for _, f := range failures {
			slog.Error("preflight check failed", "reason", f)
		}
		return fmt.Errorf("preflight failed with %d error(s)", len(failures))
	}

	run, err := loadOrCreateRun(cfg, resumeRunID, findings)
	if err != nil {
		return err
	}

	memStore, err := memory.NewStore(cfg.MemoryDir)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	tracker, err := progress.New(run, cfg.StateFilePath, cfg.RunsDir, func(r *models.BatchRun) (int, error) {
		return extractMemories(memStore, r)
	})
	if err != nil {
		return fmt.Errorf("create progress tracker: %w", err)
	}

	idempotencyLedger, err := ledger.Load(filepath.Join(cfg.RunsDir, run.RunID, "ledger.json"))
	if err != nil {
		return fmt.Errorf("load idempotency ledger: %w", err)
	}

	if !cfg.MockMode {
		playbookIDs, err := playbook.EnsureUploaded(ctx, activeClient, playbooksDir)
		if err != nil {
			slog.Warn("failed to upload playbooks, continuing without them", "error", err)
		} else {
			playbook.Assign(run.Waves, playbookIDs)
		}
	}

	notifier := notify.NewService(notify.ServiceConfig{WebhookURL: cfg.SlackWebhookURL})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received interrupt, saving state and stopping at next wave boundary")
		run.Status = "interrupted"
		tracker.AddEvent(events.TypeRunInterrupted, "run interrupted by signal", "", 0)
		if err := tracker.SaveState(); err != nil {
			slog.Error("failed to persist interrupted state", "error", err)
		}
	}()
	defer signal.Stop(sigChan)

	manager := wave.New(activeClient, mockClient, tracker, idempotencyLedger, wave.Config{
		DataSource:       dataSource(cfg),
		HybridMode:       cfg.HybridMode,
		ConnectedRepos:   cfg.ConnectedRepos,
		MaxACUPerSession: cfg.MaxACUPerSession,
		PollInterval:     time.Duration(cfg.PollIntervalSeconds) * time.Second,
		SessionTimeout:   time.Duration(cfg.SessionTimeoutMin) * time.Minute,
		MinSuccessRate:   cfg.MinSuccessRate,
		MemoryContext:    memoryContextFunc(memStore, cfg),
		RunID:            run.RunID,
	})

	runErr := manager.ExecuteRun(ctx, run)

	if saved, memErr := tracker.ExtractAndSaveMemories(); memErr != nil {
		slog.Warn("memory extraction failed", "error", memErr)
	} else if saved > 0 {
		slog.Info("extracted memory items", "count", saved)
	}

	summary := tracker.GetSummary()

	if run.Status == "paused" {
		notifier.NotifyWaveGated(ctx, notify.WaveGatedInput{
			RunID:       run.RunID,
			WaveNumber:  summary.CurrentWave,
			SuccessRate: summary.SuccessRate,
			Threshold:   cfg.MinSuccessRate,
		})
	} else {
		notifier.NotifyRunCompleted(ctx, notify.RunCompletedInput{
			RunID:      run.RunID,
			Status:     run.Status,
			Successful: run.Successful,
			Failed:     run.Failed,
			PRsCreated: run.PRsCreated,
		})
	}

	if runErr != nil {
		return fmt.Errorf("run %s: %w", run.RunID, runErr)
	}

	slog.Info("batch run finished", "run_id", run.RunID, "status", run.Status,
		"successful", run.Successful, "failed", run.Failed, "prs_created", run.PRsCreated)
	return nil
}

func loadOrCreateRun(cfg *config.Config, resumeRunID string, findings []models.Finding) (*models.BatchRun, error) {
	if resumeRunID != "" {
		statePath := filepath.Join(cfg.RunsDir, resumeRunID, "state.json")
		var run models.BatchRun
		if err := lock.ReadJSON(statePath, &run); err != nil {
			return nil, fmt.Errorf("resume run %s: %w", resumeRunID, err)
		}
		if run.Status == "paused" {
			run.Status = "running"
		}
		return &run, nil
	}

	waves := ingest.CreateWaves(findings, cfg.WaveSize)
	return &models.BatchRun{
		RunID:         uuid.NewString(),
		StartedAt:     time.Now(),
		Waves:         waves,
		TotalFindings: len(findings),
		Status:        "pending",
		DataSource:    dataSource(cfg),
	}, nil
}

func dataSource(cfg *config.Config) string {
	switch {
	case cfg.HybridMode:
		return "hybrid"
	case cfg.MockMode:
		return "mock"
	default:
		return "live"
	}
}

func memoryContextFunc(store *memory.Store, cfg *config.Config) remediate.MemoryContextFunc {
	return func(f models.Finding) string {
		results := memory.Retrieve(store, f, 3, !cfg.MockMode)
		if len(results) == 0 {
			return ""
		}
		ctx := ""
		for _, r := range results {
			ctx += r.SourceNote + "\n" + r.Content + "\n\n"
		}
		return ctx
	}
}

func extractMemories(store *memory.Store, run *models.BatchRun) (int, error) {
	items := memory.Extract(run)
	graph := store.LoadGraph()
	saved := 0
	for _, item := range items {
		var err error
		graph, err = store.Upsert(item, graph)
		if err != nil {
			return saved, err
		}
		saved++
	}
	if saved > 0 {
		if err := store.SaveGraph(graph); err != nil {
			return saved, err
		}
	}
	return saved, nil
}


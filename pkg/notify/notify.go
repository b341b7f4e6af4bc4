// Package notify posts best-effort webhook notifications about a batch
// run's wave gates and completion. Nil-safe: every method is a no-op when
// the Service itself is nil, so callers can wire it unconditionally and
// skip it only by never configuring a webhook URL.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	WebhookURL   string
	DashboardURL string
}

// WaveGatedInput describes a wave that failed its success-rate gate.
type WaveGatedInput struct {
	RunID       string
	WaveNumber  int
	SuccessRate float64
	Threshold   float64
}

// RunCompletedInput describes a finished batch run.
type RunCompletedInput struct {
	RunID      string
	Status     string
	Successful int
	Failed     int
	PRsCreated int
}

// Service delivers webhook notifications. Nil-safe: every method is a
// no-op when the receiver itself is nil.
type Service struct {
	webhookURL   string
	dashboardURL string
	http         *http.Client
}

// NewService builds a Service, or returns nil if no webhook URL is
// configured — notifications become a silent no-op rather than an error.
func NewService(cfg ServiceConfig) *Service {
	if cfg.WebhookURL == "" {
		return nil
	}
	return &Service{
		webhookURL:   cfg.WebhookURL,
		dashboardURL: cfg.DashboardURL,
		http:         &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyWaveGated posts a notification that a wave's success rate fell
// below the configured threshold, pausing the run. Fail-open: delivery
// errors are logged, never returned — a broken webhook must never block
// the orchestration loop.
func (s *Service) NotifyWaveGated(ctx context.Context, input WaveGatedInput) {
	if s == nil {
		return
	}
	s.post(ctx, map[string]any{
		"event":        "wave_gated",
		"run_id":       input.RunID,
		"wave_number":  input.WaveNumber,
		"success_rate": input.SuccessRate,
		"threshold":    input.Threshold,
		"dashboard_url": s.dashboardURL,
		"text": fmt.Sprintf("Run %s paused: wave %d success rate %.0f%% is below the %.0f%% threshold",
			input.RunID, input.WaveNumber, input.SuccessRate*100, input.Threshold*100),
	})
}

// NotifyRunCompleted posts a notification that a batch run reached a
// terminal state. Fail-open like NotifyWaveGated.
func (s *Service) NotifyRunCompleted(ctx context.Context, input RunCompletedInput) {
	if s == nil {
		return
	}
	s.post(ctx, map[string]any{
		"event":         "run_completed",
		"run_id":        input.RunID,
		"status":        input.Status,
		"successful":    input.Successful,
		"failed":        input.Failed,
		"prs_created":   input.PRsCreated,
		"dashboard_url": s.dashboardURL,
		"text": fmt.Sprintf("Run %s %s: %d succeeded, %d failed, %d PRs created",
			input.RunID, input.Status, input.Successful, input.Failed, input.PRsCreated),
	})
}

func (s *Service) post(ctx context.Context, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal webhook payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		slog.Error("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		slog.Error("failed to deliver webhook notification", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Error("webhook notification rejected", "status", resp.StatusCode)
	}
}

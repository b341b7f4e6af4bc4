// Package config loads and validates the orchestrator's configuration from
// an optional YAML file, a .env file, and process environment variables, in
// that order of increasing precedence (.env never overrides a variable
// already set in the process environment).
package config

import (
	"fmt"

	"github.com/sre-tools/remediation-batch/pkg/apperrors"
)

// Config holds every tunable the orchestrator needs to run a batch.
type Config struct {
	DevinAPIKey    string `yaml:"devin_api_key"`
	DevinBaseURL   string `yaml:"devin_api_base_url"`
	MockMode       bool   `yaml:"mock_mode"`
	HybridMode     bool   `yaml:"hybrid_mode"`
	ConnectedRepos []string `yaml:"connected_repos"`

	MaxParallelSessions int     `yaml:"max_parallel_sessions"`
	MaxACUPerSession    int     `yaml:"max_acu_per_session"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	SessionTimeoutMin   int     `yaml:"session_timeout_minutes"`
	MinSuccessRate      float64 `yaml:"min_success_rate"`
	WaveSize            int     `yaml:"wave_size"`

	StateFilePath string `yaml:"state_file_path"`
	RunsDir       string `yaml:"runs_dir"`
	MemoryDir     string `yaml:"memory_dir"`

	CircuitBreakerThreshold int     `yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  int     `yaml:"circuit_breaker_cooldown_seconds"`
	MaxRetries              int     `yaml:"max_retries"`
	RetryJitterMaxSeconds   float64 `yaml:"retry_jitter_max_seconds"`

	SlackWebhookURL string `yaml:"slack_webhook_url"`

	StatusServerAddr string `yaml:"status_server_addr"`
}

// Defaults returns a Config populated with the orchestrator's built-in
// defaults, before any YAML/env overrides are merged in.
func Defaults() *Config {
	return &Config{
		DevinBaseURL:            "https://api.devin.ai/v1",
		MockMode:                true,
		MaxParallelSessions:     10,
		MaxACUPerSession:        5,
		PollIntervalSeconds:     20,
		SessionTimeoutMin:       90,
		MinSuccessRate:          0.7,
		WaveSize:                10,
		StateFilePath:           "./state.json",
		RunsDir:                 "./runs",
		MemoryDir:               "./memory",
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  30,
		MaxRetries:              3,
		RetryJitterMaxSeconds:   1.0,
		StatusServerAddr:        ":8085",
	}
}

// Validate runs the orchestrator's preflight configuration checks (spec §7:
// "Preflight failures: fatal before dispatch"). It does not touch the
// network; RemoteClient reachability is checked separately by the caller.
func (c *Config) Validate() error {
	if !c.MockMode && c.DevinAPIKey == "" {
		return apperrors.NewValidationError("devin_api_key", fmt.Errorf("%w: required outside mock mode", apperrors.ErrInvalidInput))
	}
	if c.HybridMode && len(c.ConnectedRepos) == 0 {
		return apperrors.NewValidationError("connected_repos", fmt.Errorf("%w: required when hybrid_mode is set", apperrors.ErrInvalidInput))
	}
	if c.WaveSize <= 0 {
		return apperrors.NewValidationError("wave_size", fmt.Errorf("%w: must be positive", apperrors.ErrInvalidInput))
	}
	if c.MaxParallelSessions <= 0 {
		return apperrors.NewValidationError("max_parallel_sessions", fmt.Errorf("%w: must be positive", apperrors.ErrInvalidInput))
	}
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return apperrors.NewValidationError("min_success_rate", fmt.Errorf("%w: must be between 0 and 1", apperrors.ErrInvalidInput))
	}
	if c.PollIntervalSeconds <= 0 {
		return apperrors.NewValidationError("poll_interval_seconds", fmt.Errorf("%w: must be positive", apperrors.ErrInvalidInput))
	}
	return nil
}

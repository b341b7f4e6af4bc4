package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the orchestrator's Config by layering, in increasing order of
// precedence: built-in defaults, an optional YAML file, a .env file, and
// process environment variables. It does not call Validate — callers
// (typically cmd/remediation-batch) decide when preflight checks run.
func Load(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		if err := loadYAMLInto(cfg, yamlPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			slog.Debug("no config file found, using defaults + environment", "path", yamlPath)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadYAMLInto(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return NewLoadError(path, err)
	}
	data = ExpandEnv(data)

	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergo.Merge(cfg, fromFile, mergo.WithOverride); err != nil {
		return NewLoadError(path, err)
	}
	return nil
}

// envOverride pairs an environment variable name with the setter that
// applies it to cfg. Only variables actually present in the environment are
// applied, so an unset var never clobbers a YAML-supplied value.
type envOverride struct {
	name string
	set  func(cfg *Config, value string)
}

var envOverrides = []envOverride{
	{"DEVIN_API_KEY", func(c *Config, v string) { c.DevinAPIKey = v }},
	{"DEVIN_API_BASE_URL", func(c *Config, v string) { c.DevinBaseURL = v }},
	{"MOCK_MODE", func(c *Config, v string) { c.MockMode = parseBool(v, c.MockMode) }},
	{"HYBRID_MODE", func(c *Config, v string) { c.HybridMode = parseBool(v, c.HybridMode) }},
	{"CONNECTED_REPOS", func(c *Config, v string) { c.ConnectedRepos = splitCSV(v) }},
	{"MAX_PARALLEL_SESSIONS", func(c *Config, v string) { c.MaxParallelSessions = parseInt(v, c.MaxParallelSessions) }},
	{"MAX_ACU_PER_SESSION", func(c *Config, v string) { c.MaxACUPerSession = parseInt(v, c.MaxACUPerSession) }},
	{"POLL_INTERVAL_SECONDS", func(c *Config, v string) { c.PollIntervalSeconds = parseInt(v, c.PollIntervalSeconds) }},
	{"SESSION_TIMEOUT_MINUTES", func(c *Config, v string) { c.SessionTimeoutMin = parseInt(v, c.SessionTimeoutMin) }},
	{"MIN_SUCCESS_RATE", func(c *Config, v string) { c.MinSuccessRate = parseFloat(v, c.MinSuccessRate) }},
	{"WAVE_SIZE", func(c *Config, v string) { c.WaveSize = parseInt(v, c.WaveSize) }},
	{"STATE_FILE_PATH", func(c *Config, v string) { c.StateFilePath = v }},
	{"RUNS_DIR", func(c *Config, v string) { c.RunsDir = v }},
	{"MEMORY_DIR", func(c *Config, v string) { c.MemoryDir = v }},
	{"CIRCUIT_BREAKER_THRESHOLD", func(c *Config, v string) { c.CircuitBreakerThreshold = parseInt(v, c.CircuitBreakerThreshold) }},
	{"CIRCUIT_BREAKER_COOLDOWN_SECONDS", func(c *Config, v string) { c.CircuitBreakerCooldown = parseInt(v, c.CircuitBreakerCooldown) }},
	{"MAX_RETRIES", func(c *Config, v string) { c.MaxRetries = parseInt(v, c.MaxRetries) }},
	{"RETRY_JITTER_MAX_SECONDS", func(c *Config, v string) { c.RetryJitterMaxSeconds = parseFloat(v, c.RetryJitterMaxSeconds) }},
	{"SLACK_WEBHOOK_URL", func(c *Config, v string) { c.SlackWebhookURL = v }},
	{"STATUS_SERVER_ADDR", func(c *Config, v string) { c.StatusServerAddr = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok {
			o.set(cfg, v)
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

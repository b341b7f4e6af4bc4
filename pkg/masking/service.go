package masking

import "regexp"

var bearerPattern = regexp.MustCompile(`(?i)(api[_-]?key|bearer|token)\s*[:=]\s*\S+`)

// apiKeyMasker redacts a configured secret value, plus anything shaped like
// a bearer/API-key assignment, out of log lines.
type apiKeyMasker struct {
	key       string
	keyRegexp *regexp.Regexp
}

func newAPIKeyMasker(key string) *apiKeyMasker {
	m := &apiKeyMasker{key: key}
	if key != "" {
		m.keyRegexp = regexp.MustCompile(regexp.QuoteMeta(key))
	}
	return m
}

func (m *apiKeyMasker) Name() string { return "api_key" }

func (m *apiKeyMasker) AppliesTo(data string) bool {
	if m.keyRegexp != nil && m.keyRegexp.MatchString(data) {
		return true
	}
	return bearerPattern.MatchString(data)
}

func (m *apiKeyMasker) Mask(data string) string {
	masked := data
	if m.keyRegexp != nil {
		masked = m.keyRegexp.ReplaceAllString(masked, "[REDACTED]")
	}
	return bearerPattern.ReplaceAllString(masked, "$1=[REDACTED]")
}

// Service applies log masking so the configured remote-agent API key never
// reaches stdout/stderr or the run's persisted event timeline.
type Service struct {
	masker Masker
}

// NewService builds a Service that redacts apiKey wherever it appears in
// logged strings. apiKey may be empty (e.g. mock mode), in which case only
// the generic bearer/token pattern is applied.
func NewService(apiKey string) *Service {
	return &Service{masker: newAPIKeyMasker(apiKey)}
}

// Mask redacts secrets from data. Defensive: returns the original string
// unchanged if nothing matches, and is nil-safe on the receiver.
func (s *Service) Mask(data string) string {
	if s == nil || s.masker == nil || data == "" {
		return data
	}
	if !s.masker.AppliesTo(data) {
		return data
	}
	return s.masker.Mask(data)
}

package remoteclient

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// mockStage describes one phase of a simulated remediation session: the
// wall-clock duration range it runs for and the progress-percent band it
// covers while active.
type mockStage struct {
	name           string
	minDur, maxDur time.Duration
	progressStart  int
	progressEnd    int
}

var mockStages = []mockStage{
	{"analyzing", 5 * time.Second, 10 * time.Second, 0, 25},
	{"fixing", 10 * time.Second, 20 * time.Second, 25, 60},
	{"testing", 8 * time.Second, 15 * time.Second, 60, 85},
	{"creating_pr", 3 * time.Second, 8 * time.Second, 85, 95},
}

var fixApproaches = map[string]string{
	"sql_injection":             "Replace string concatenation in SQL query with a parameterized query",
	"dependency_vulnerability":  "Upgrade vulnerable dependency to the patched version from the advisory",
	"hardcoded_secret":          "Move hardcoded credential to environment variable and load via config",
	"pii_logging":               "Redact PII fields from log output using a sanitization filter",
	"missing_encryption":        "Add encryption at rest for sensitive data using a managed key store",
	"access_logging":            "Add structured audit logging middleware for compliance events",
	"xss":                       "Apply context-aware output encoding using the framework's escaping utilities",
	"path_traversal":            "Validate and canonicalize file paths against an allow-list of directories",
}

var fileTemplates = map[string][]string{
	"sql_injection":            {"src/main/java/dao/%sDao.java", "src/main/java/dao/%sDaoTest.java"},
	"dependency_vulnerability": {"pom.xml", "package.json"},
	"hardcoded_secret":         {"src/main/java/config/%sConfig.java", "config.py"},
	"pii_logging":              {"app/routes/%s_routes.py"},
	"missing_encryption":       {"src/main/java/model/%s.java"},
	"access_logging":           {"src/middleware/auth.ts"},
	"xss":                      {"src/controllers/%sController.ts"},
	"path_traversal":           {"src/controllers/fileController.ts"},
}

var findingIDPattern = regexp.MustCompile(`FIND-\d+`)
var servicePattern = regexp.MustCompile(`[\w-]+-service`)

type mockSessionState struct {
	sessionID  string
	createdAt  time.Time
	willFail   bool
	prompt     string
	tags       []string
	findingID  string
	category   string
	service    string
	terminated bool
	stages     []mockStage
	rng        *rand.Rand
}

// Mock simulates the remote agent API with realistic timing and outcome
// distribution: sessions progress through analyzing -> fixing -> testing ->
// creating_pr -> completed, and roughly 15% get stuck in testing and report
// "blocked" instead of finishing.
type Mock struct {
	mu       sync.Mutex
	sessions map[string]*mockSessionState
	playbooks map[string]PlaybookResponse
	rng      *rand.Rand
}

// NewMock builds a Mock client. seed makes the simulated pass/fail outcomes
// and stage durations reproducible across runs when non-zero.
func NewMock(seed int64) *Mock {
	src := rand.NewSource(seed)
	if seed == 0 {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Mock{
		sessions:  map[string]*mockSessionState{},
		playbooks: map[string]PlaybookResponse{},
		rng:       rand.New(src),
	}
}

func (m *Mock) CreateSession(ctx context.Context, in CreateSessionInput) (*SessionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if in.Idempotent {
		for id, s := range m.sessions {
			if s.prompt == in.Prompt {
				return &SessionResponse{SessionID: id, URL: mockSessionURL(id), IsNewSession: false}, nil
			}
		}
	}

	sessionID := "mock-" + uuid.NewString()[:8]
	findingID := firstMatch(findingIDPattern, in.Prompt, "FIND-UNKNOWN")
	category := extractCategory(in.Prompt, in.Tags)
	service := extractService(in.Prompt, in.Tags)

	stages := make([]mockStage, len(mockStages))
	copy(stages, mockStages)
	for i, st := range stages {
		span := st.maxDur - st.minDur
		st.minDur = st.minDur + time.Duration(m.rng.Int63n(int64(span)+1))
		stages[i] = st
	}

	m.sessions[sessionID] = &mockSessionState{
		sessionID: sessionID,
		createdAt: time.Now(),
		willFail:  m.rng.Float64() < 0.15,
		prompt:    in.Prompt,
		tags:      in.Tags,
		findingID: findingID,
		category:  category,
		service:   service,
		stages:    stages,
		rng:       m.rng,
	}

	return &SessionResponse{SessionID: sessionID, URL: mockSessionURL(sessionID), IsNewSession: true}, nil
}

func (m *Mock) GetSession(ctx context.Context, sessionID string) (*SessionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, &APIError{Status: 404, Body: "session not found"}
	}

	if s.terminated {
		return m.buildResponse(s, "failed", 0, "blocked", "session terminated by user"), nil
	}

	elapsed := time.Since(s.createdAt)
	var cumulative time.Duration
	for _, st := range s.stages {
		if elapsed < cumulative+st.minDur {
			frac := float64(elapsed-cumulative) / float64(st.minDur)
			progress := st.progressStart + int(frac*float64(st.progressEnd-st.progressStart))

			if s.willFail && st.name == "testing" {
				return m.buildResponse(s, "failed", st.progressStart, "blocked", "tests failed: existing tests broke after applying fix"), nil
			}
			return m.buildResponse(s, st.name, progress, "working", ""), nil
		}
		cumulative += st.minDur
	}

	if s.willFail {
		return m.buildResponse(s, "failed", 60, "blocked", "tests failed: existing tests broke after applying fix"), nil
	}
	return m.buildResponse(s, "completed", 100, "finished", ""), nil
}

func (m *Mock) buildResponse(s *mockSessionState, stage string, progress int, statusEnum, errMsg string) *SessionResponse {
	stageOrder := []string{"analyzing", "fixing", "testing", "creating_pr", "completed", "failed"}
	stageIdx := 0
	for i, name := range stageOrder {
		if name == stage {
			stageIdx = i
			break
		}
	}

	var fixApproach string
	var filesModified []string
	var testsPassed *bool
	var testsAdded int
	var prURL string
	var confidence string

	if stageIdx >= 1 || stage == "failed" {
		fixApproach = fixApproaches[s.category]
		if fixApproach == "" {
			fixApproach = "Apply security best practices to remediate the identified vulnerability"
		}
		confidence = "medium"
		if s.category != "" {
			if s.rng.Float64() < 0.5 {
				confidence = "high"
			}
		} else {
			confidence = "low"
		}
	}

	if stageIdx >= 2 || stage == "failed" {
		templates := fileTemplates[s.category]
		if len(templates) == 0 {
			templates = []string{"src/main/fix.java"}
		}
		className := strings.ReplaceAll(s.findingID, "-", "")
		for i, t := range templates {
			if i >= 2 {
				break
			}
			if strings.Contains(t, "%s") {
				filesModified = append(filesModified, fmt.Sprintf(t, className))
			} else {
				filesModified = append(filesModified, t)
			}
		}
	}

	if stageIdx >= 3 {
		tp := true
		testsPassed = &tp
		testsAdded = 1 + s.rng.Intn(5)
	}
	if stage == "failed" {
		tp := false
		testsPassed = &tp
		testsAdded = 0
	}
	if stage == "creating_pr" || stage == "completed" {
		prNumber := 10 + s.rng.Intn(990)
		prURL = fmt.Sprintf("https://github.com/example-org/%s/pull/%d", s.service, prNumber)
	}

	structured := map[string]any{
		"finding_id":    s.findingID,
		"status":        stage,
		"progress_pct":  progress,
		"fix_approach":  fixApproach,
		"files_modified": filesModified,
		"tests_added":   testsAdded,
		"pr_url":        prURL,
		"confidence":    confidence,
	}
	if testsPassed != nil {
		structured["tests_passed"] = *testsPassed
	}
	if errMsg != "" {
		structured["error_message"] = errMsg
	}

	resp := &SessionResponse{
		SessionID:        s.sessionID,
		StatusEnum:       statusEnum,
		URL:              mockSessionURL(s.sessionID),
		Title:            fmt.Sprintf("Remediate %s: %s", s.findingID, s.category),
		StructuredOutput: structured,
	}
	if stage == "completed" && prURL != "" {
		resp.PullRequest = &struct {
			URL string `json:"url"`
		}{URL: prURL}
	}
	return resp
}

func (m *Mock) ListSessions(ctx context.Context, tags []string, limit, offset int) (*ListSessionsResponse, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if tagsMatch(tags, s.tags) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	total := len(ids)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]SessionResponse, 0, end-offset)
	for _, id := range ids[offset:end] {
		resp, err := m.GetSession(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *resp)
	}
	return &ListSessionsResponse{Sessions: out, Total: total}, nil
}

func (m *Mock) SendMessage(ctx context.Context, sessionID, message string) error { return nil }

func (m *Mock) TerminateSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.terminated = true
	}
	return nil
}

func (m *Mock) TerminateSessionBestEffort(ctx context.Context, sessionID string) {
	_ = m.TerminateSession(ctx, sessionID)
}

func (m *Mock) CreatePlaybook(ctx context.Context, title, body string) (*PlaybookResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "pb-mock-" + uuid.NewString()[:8]
	pb := PlaybookResponse{PlaybookID: id, Title: title}
	m.playbooks[id] = pb
	return &pb, nil
}

func (m *Mock) ListPlaybooks(ctx context.Context) ([]PlaybookResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlaybookResponse, 0, len(m.playbooks))
	for _, pb := range m.playbooks {
		out = append(out, pb)
	}
	return out, nil
}

func (m *Mock) ResetCircuitBreaker() {}
func (m *Mock) Close() error         { return nil }

func mockSessionURL(id string) string { return "https://app.devin.ai/sessions/" + id }

func firstMatch(re *regexp.Regexp, s, fallback string) string {
	if m := re.FindString(s); m != "" {
		return m
	}
	return fallback
}

func extractCategory(prompt string, tags []string) string {
	known := make([]string, 0, len(fixApproaches))
	for k := range fixApproaches {
		known = append(known, k)
	}
	for _, tag := range tags {
		for _, k := range known {
			if tag == k {
				return k
			}
		}
	}
	lower := strings.ToLower(strings.ReplaceAll(prompt, " ", "_"))
	for _, k := range known {
		if strings.Contains(lower, k) {
			return k
		}
	}
	return "other"
}

func extractService(prompt string, tags []string) string {
	if m := servicePattern.FindString(prompt); m != "" {
		return m
	}
	for _, tag := range tags {
		if strings.HasSuffix(tag, "-service") {
			return tag
		}
	}
	return "unknown-service"
}

func tagsMatch(want, have []string) bool {
	if len(want) == 0 {
		return true
	}
	set := map[string]bool{}
	for _, t := range have {
		set[t] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

var _ Client = (*Mock)(nil)
var _ Client = (*HTTPClient)(nil)

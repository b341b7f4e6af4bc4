// Package e2e exercises the orchestrator's wave-by-wave dispatch, polling,
// success-rate gating, and memory extraction against a scripted stand-in
// for the remote agent API — the same role the teacher's ScriptedLLMClient
// plays for its LLM dependency: real internal wiring, a fast and
// deterministic substitute for the one genuinely external, slow call.
package e2e

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

var findingIDPattern = regexp.MustCompile(`FIND-\d+`)

// Outcome scripts how a scripted session resolves: after workingPolls calls
// to GetSession reporting "working", it settles into terminal with prURL
// and errMsg (either may be empty).
type Outcome struct {
	Terminal     string // "finished" | "blocked" | "expired"
	PRURL        string
	ErrorMessage string
	WorkingPolls int
}

type scriptedSession struct {
	findingID string
	outcome   Outcome
	polls     int
}

// ScriptedClient is a deterministic remoteclient.Client driven by a
// per-finding-ID outcome table instead of simulated real-time stage
// progress, so tests can assert on exact wave outcomes without waiting out
// realistic session durations.
type ScriptedClient struct {
	mu          sync.Mutex
	outcomes    map[string]Outcome
	defaultOut  Outcome
	sessions    map[string]*scriptedSession
	createCalls int32
}

// NewScriptedClient builds a client that resolves every finding ID not
// present in outcomes to defaultOutcome.
func NewScriptedClient(outcomes map[string]Outcome, defaultOutcome Outcome) *ScriptedClient {
	return &ScriptedClient{
		outcomes:   outcomes,
		defaultOut: defaultOutcome,
		sessions:   map[string]*scriptedSession{},
	}
}

// CreateCalls reports how many times CreateSession has been invoked, for
// asserting idempotent resume skips a redundant dispatch.
func (c *ScriptedClient) CreateCalls() int32 { return atomic.LoadInt32(&c.createCalls) }

func (c *ScriptedClient) CreateSession(ctx context.Context, in remoteclient.CreateSessionInput) (*remoteclient.SessionResponse, error) {
	atomic.AddInt32(&c.createCalls, 1)

	findingID := findingIDPattern.FindString(in.Prompt)
	outcome, ok := c.outcomes[findingID]
	if !ok {
		outcome = c.defaultOut
	}

	c.mu.Lock()
	sessionID := fmt.Sprintf("scripted-%s", findingID)
	c.sessions[sessionID] = &scriptedSession{findingID: findingID, outcome: outcome}
	c.mu.Unlock()

	return &remoteclient.SessionResponse{
		SessionID:    sessionID,
		URL:          "https://example.test/sessions/" + sessionID,
		IsNewSession: true,
		StatusEnum:   "working",
	}, nil
}

func (c *ScriptedClient) GetSession(ctx context.Context, sessionID string) (*remoteclient.SessionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, &remoteclient.APIError{Status: 404, Body: "session not found"}
	}

	resp := &remoteclient.SessionResponse{
		SessionID: sessionID,
		URL:       "https://example.test/sessions/" + sessionID,
	}

	if s.polls < s.outcome.WorkingPolls {
		s.polls++
		resp.StatusEnum = "working"
		resp.StructuredOutput = map[string]any{"status": "fixing"}
		return resp, nil
	}

	resp.StatusEnum = s.outcome.Terminal
	structured := map[string]any{"status": "completed", "finding_id": s.findingID}
	if s.outcome.ErrorMessage != "" {
		structured["error_message"] = s.outcome.ErrorMessage
	}
	resp.StructuredOutput = structured
	if s.outcome.PRURL != "" {
		resp.PullRequest = &struct {
			URL string `json:"url"`
		}{URL: s.outcome.PRURL}
	}
	return resp, nil
}

func (c *ScriptedClient) ListSessions(ctx context.Context, tags []string, limit, offset int) (*remoteclient.ListSessionsResponse, error) {
	return &remoteclient.ListSessionsResponse{}, nil
}

func (c *ScriptedClient) SendMessage(ctx context.Context, sessionID, message string) error { return nil }

func (c *ScriptedClient) TerminateSession(ctx context.Context, sessionID string) error { return nil }

func (c *ScriptedClient) TerminateSessionBestEffort(ctx context.Context, sessionID string) {}

func (c *ScriptedClient) CreatePlaybook(ctx context.Context, title, body string) (*remoteclient.PlaybookResponse, error) {
	return &remoteclient.PlaybookResponse{PlaybookID: "pb-scripted-" + title, Title: title}, nil
}

func (c *ScriptedClient) ListPlaybooks(ctx context.Context) ([]remoteclient.PlaybookResponse, error) {
	return nil, nil
}

func (c *ScriptedClient) ResetCircuitBreaker() {}

func (c *ScriptedClient) Close() error { return nil }

var _ remoteclient.Client = (*ScriptedClient)(nil)

// Package remoteclient talks to the remote coding-agent API that actually
// performs each remediation. It wraps retries, jitter, Retry-After
// handling, and circuit breaking around a plain HTTP/JSON transport, and
// ships a Mock implementation that simulates the same wire shape for
// local runs and tests.
package remoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sre-tools/remediation-batch/pkg/apperrors"
	"github.com/sre-tools/remediation-batch/pkg/circuitbreaker"
	"github.com/sre-tools/remediation-batch/pkg/version"
)

// retryableStatuses are the HTTP statuses worth a backed-off retry.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
}

// SessionResponse is the subset of the remote API's session payload the
// orchestrator needs, shared across create/get/list responses.
type SessionResponse struct {
	SessionID        string         `json:"session_id"`
	URL              string         `json:"url"`
	IsNewSession     bool           `json:"is_new_session"`
	StatusEnum       string         `json:"status_enum"`
	Title            string         `json:"title"`
	StructuredOutput map[string]any `json:"structured_output"`
	PullRequest      *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

// ListSessionsResponse is the paginated session-listing payload.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Total    int               `json:"total"`
}

// PlaybookResponse is returned by playbook creation and listing.
type PlaybookResponse struct {
	PlaybookID string `json:"playbook_id"`
	Title      string `json:"title"`
}

// CreateSessionInput describes a new remote session request.
type CreateSessionInput struct {
	Prompt                 string
	PlaybookID             string
	Tags                   []string
	StructuredOutputSchema map[string]any
	MaxACULimit            int
	Idempotent             bool
}

// Client is the behavior the orchestrator needs from a remote agent API,
// satisfied both by the real HTTP implementation and by Mock.
type Client interface {
	CreateSession(ctx context.Context, in CreateSessionInput) (*SessionResponse, error)
	GetSession(ctx context.Context, sessionID string) (*SessionResponse, error)
	ListSessions(ctx context.Context, tags []string, limit, offset int) (*ListSessionsResponse, error)
	SendMessage(ctx context.Context, sessionID, message string) error
	TerminateSession(ctx context.Context, sessionID string) error
	TerminateSessionBestEffort(ctx context.Context, sessionID string)
	CreatePlaybook(ctx context.Context, title, body string) (*PlaybookResponse, error)
	ListPlaybooks(ctx context.Context) ([]PlaybookResponse, error)
	ResetCircuitBreaker()
	Close() error
}

// APIError is raised for any non-2xx response from the remote API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote agent API error %d: %s", e.Status, e.Body)
}

// Config tunes an HTTPClient.
type Config struct {
	APIKey                  string
	BaseURL                 string
	MaxRetries              int
	RetryJitterMax          time.Duration
	CircuitBreakerThreshold uint32
	CircuitBreakerCooldown  time.Duration
	HTTPTimeout             time.Duration
}

// HTTPClient is the real remote agent API client.
type HTTPClient struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// New builds an HTTPClient per cfg.
func New(cfg Config) *HTTPClient {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "devin-api",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			CooldownPeriod:   cfg.CircuitBreakerCooldown,
		}),
	}
}

// newBackoff builds the exponential-backoff schedule used for both network
// errors and retryable HTTP statuses: base 1s, doubling each attempt,
// capped at 60s, with the library's own randomization turned off.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// request performs one logical call: a circuit-breaker gate wrapping a
// bounded retry loop with exponential backoff, jitter, and Retry-After
// honored on 429/500/502/503.
func (c *HTTPClient) request(ctx context.Context, method, path string, body any, out any) error {
	_, err := c.breaker.Call(func() (any, error) {
		return nil, c.requestWithRetry(ctx, method, path, body, out)
	})
	return err
}

func (c *HTTPClient) requestWithRetry(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	bo := newBackoff()

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		status, respBody, retryAfter, err := c.doOnce(ctx, method, path, payload)
		if err != nil {
			if attempt < c.cfg.MaxRetries {
				wait := bo.NextBackOff() + c.jitter()
				slog.Warn("network error calling remote agent API", "method", method, "path", path, "error", err, "retry_in", wait, "attempt", attempt+1, "max_retries", c.cfg.MaxRetries)
				if !sleepCtx(ctx, wait) {
					return ctx.Err()
				}
				continue
			}
			return fmt.Errorf("%w: %v", apperrors.ErrRetriesExhausted, err)
		}

		if retryableStatuses[status] && attempt < c.cfg.MaxRetries {
			wait := retryAfter
			if wait <= 0 {
				wait = bo.NextBackOff()
			}
			wait += c.jitter()
			slog.Warn("retryable response from remote agent API", "method", method, "path", path, "status", status, "retry_in", wait, "attempt", attempt+1, "max_retries", c.cfg.MaxRetries)
			if !sleepCtx(ctx, wait) {
				return ctx.Err()
			}
			continue
		}

		if status >= 400 {
			return &APIError{Status: status, Body: string(respBody)}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: after %d retries", apperrors.ErrRetriesExhausted, c.cfg.MaxRetries)
}

// doOnce fires a single HTTP attempt, returning the status code, raw body,
// and any Retry-After wait the server asked for (0 if absent or unparsable).
func (c *HTTPClient) doOnce(ctx context.Context, method, path string, payload []byte) (int, []byte, time.Duration, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, 0, fmt.Errorf("read response body: %w", err)
	}

	var retryAfter time.Duration
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if d, ok := parseRetryAfterSeconds(ra); ok {
			retryAfter = d
		}
	}
	return resp.StatusCode, respBody, retryAfter, nil
}

func (c *HTTPClient) jitter() time.Duration {
	if c.cfg.RetryJitterMax <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(c.cfg.RetryJitterMax)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func parseRetryAfterSeconds(s string) (time.Duration, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	d := time.Duration(v * float64(time.Second))
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d, true
}

// CreateSession implements Client.
func (c *HTTPClient) CreateSession(ctx context.Context, in CreateSessionInput) (*SessionResponse, error) {
	body := map[string]any{"prompt": in.Prompt, "idempotent": in.Idempotent}
	if in.PlaybookID != "" {
		body["playbook_id"] = in.PlaybookID
	}
	if in.Tags != nil {
		body["tags"] = in.Tags
	}
	if in.StructuredOutputSchema != nil {
		body["structured_output_schema"] = in.StructuredOutputSchema
	}
	if in.MaxACULimit > 0 {
		body["max_acu_limit"] = in.MaxACULimit
	}

	var out SessionResponse
	if err := c.request(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession implements Client.
func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.request(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions implements Client.
func (c *HTTPClient) ListSessions(ctx context.Context, tags []string, limit, offset int) (*ListSessionsResponse, error) {
	path := fmt.Sprintf("/sessions?limit=%d&offset=%d", limit, offset)
	for _, t := range tags {
		path += "&tags=" + t
	}
	var out ListSessionsResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage implements Client.
func (c *HTTPClient) SendMessage(ctx context.Context, sessionID, message string) error {
	return c.request(ctx, http.MethodPost, "/sessions/"+sessionID+"/message", map[string]string{"message": message}, nil)
}

// TerminateSession implements Client.
func (c *HTTPClient) TerminateSession(ctx context.Context, sessionID string) error {
	return c.request(ctx, http.MethodDelete, "/sessions/"+sessionID, nil, nil)
}

// TerminateSessionBestEffort terminates a session, treating a 404 (already
// gone) as success. On a 404 the whole circuit breaker is reset, so the 404
// does not count toward a trip, and any failures recorded before it are
// discarded as well. Other errors are logged and swallowed since cleanup
// must never block a run from finishing.
func (c *HTTPClient) TerminateSessionBestEffort(ctx context.Context, sessionID string) {
	err := c.TerminateSession(ctx, sessionID)
	if err == nil {
		return
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		c.breaker.Reset()
		return
	}
	slog.Warn("best-effort session termination failed", "session_id", sessionID, "error", err)
}

// CreatePlaybook implements Client.
func (c *HTTPClient) CreatePlaybook(ctx context.Context, title, body string) (*PlaybookResponse, error) {
	var out PlaybookResponse
	if err := c.request(ctx, http.MethodPost, "/playbooks", map[string]string{"title": title, "body": body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPlaybooks implements Client.
func (c *HTTPClient) ListPlaybooks(ctx context.Context) ([]PlaybookResponse, error) {
	var out []PlaybookResponse
	if err := c.request(ctx, http.MethodGet, "/playbooks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetCircuitBreaker implements Client.
func (c *HTTPClient) ResetCircuitBreaker() { c.breaker.Reset() }

// Close implements Client. The stdlib http.Client needs no explicit close.
func (c *HTTPClient) Close() error { return nil }

// Package models defines the orchestrator's core domain types: the
// findings it remediates, the remote sessions it tracks, and the waves
// and runs that group them.
package models

import "time"

// Severity classifies a finding's urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// FindingCategory groups findings by the kind of remediation they need.
type FindingCategory string

const (
	CategoryDependencyVulnerability FindingCategory = "dependency_vulnerability"
	CategorySQLInjection            FindingCategory = "sql_injection"
	CategoryHardcodedSecret         FindingCategory = "hardcoded_secret"
	CategoryPIILogging              FindingCategory = "pii_logging"
	CategoryMissingEncryption       FindingCategory = "missing_encryption"
	CategoryAccessLogging           FindingCategory = "access_logging"
	CategoryXSS                     FindingCategory = "xss"
	CategoryPathTraversal           FindingCategory = "path_traversal"
	CategoryOther                   FindingCategory = "other"
)

// Finding is one security or quality issue to remediate.
type Finding struct {
	FindingID      string          `json:"finding_id"`
	Scanner        string          `json:"scanner"`
	Category       FindingCategory `json:"category"`
	Severity       Severity        `json:"severity"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	ServiceName    string          `json:"service_name"`
	RepoURL        string          `json:"repo_url"`
	FilePath       string          `json:"file_path"`
	LineNumber     *int            `json:"line_number,omitempty"`
	CWEID          string          `json:"cwe_id,omitempty"`
	DependencyName string          `json:"dependency_name,omitempty"`
	CurrentVersion string          `json:"current_version,omitempty"`
	FixedVersion   string          `json:"fixed_version,omitempty"`
	Language       string          `json:"language,omitempty"`
	PriorityScore  float64         `json:"priority_score"`
}

// SessionStatus is the lifecycle state of a remote remediation session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusDispatched SessionStatus = "dispatched"
	StatusWorking    SessionStatus = "working"
	StatusBlocked    SessionStatus = "blocked"
	StatusSuccess    SessionStatus = "success"
	StatusFailed     SessionStatus = "failed"
	StatusTimeout    SessionStatus = "timeout"
)

// terminalStatuses are statuses from which a session never transitions again.
var terminalStatuses = map[SessionStatus]bool{
	StatusSuccess: true,
	StatusFailed:  true,
	StatusTimeout: true,
}

// retriableStatuses are terminal statuses eligible for a retry attempt.
var retriableStatuses = map[SessionStatus]bool{
	StatusFailed:  true,
	StatusTimeout: true,
}

// activeStatuses are statuses the poller still needs to check.
var activeStatuses = map[SessionStatus]bool{
	StatusDispatched: true,
	StatusWorking:    true,
	StatusBlocked:    true,
}

// IsTerminal reports whether s is a status the session will never leave.
func (s SessionStatus) IsTerminal() bool { return terminalStatuses[s] }

// IsRetriable reports whether a session in status s is eligible for retry.
func (s SessionStatus) IsRetriable() bool { return retriableStatuses[s] }

// IsActive reports whether a session in status s still needs polling.
func (s SessionStatus) IsActive() bool { return activeStatuses[s] }

// RemediationSession tracks one remote agent session working a Finding.
type RemediationSession struct {
	SessionID        string         `json:"session_id,omitempty"`
	Finding          Finding        `json:"finding"`
	PlaybookID       string         `json:"playbook_id"`
	Status           SessionStatus  `json:"status"`
	DevinURL         string         `json:"devin_url,omitempty"`
	PRURL            string         `json:"pr_url,omitempty"`
	StructuredOutput map[string]any `json:"structured_output,omitempty"`
	WaveNumber       int            `json:"wave_number"`
	Attempt          int            `json:"attempt"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	DataSource       string         `json:"data_source"` // "live" | "mock"
	Version          int            `json:"version"`

	// HITL review fields: set by an external reviewer, preserved verbatim
	// by the orchestrator across state saves.
	ReviewStatus string     `json:"review_status,omitempty"` // "pending" | "approved" | "rejected"
	ReviewedBy   string     `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewReason string     `json:"review_reason,omitempty"`
}

// Wave groups the sessions dispatched together as one bounded-concurrency batch.
type Wave struct {
	WaveNumber   int                   `json:"wave_number"`
	Sessions     []RemediationSession `json:"sessions"`
	Status       string                `json:"status"` // "pending" | "running" | "completed"
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
}

// TotalCount is the number of sessions assigned to this wave.
func (w Wave) TotalCount() int { return len(w.Sessions) }

// BatchRun is the top-level record for one orchestrator invocation.
type BatchRun struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	Waves         []Wave         `json:"waves"`
	TotalFindings int            `json:"total_findings"`
	Completed     int            `json:"completed"`
	Successful    int            `json:"successful"`
	Failed        int            `json:"failed"`
	PRsCreated    int            `json:"prs_created"`
	Status        string         `json:"status"` // "pending" | "running" | "completed" | "paused" | "interrupted"
	DataSource    string         `json:"data_source"` // "live" | "mock" | "hybrid"
	Events        []TimelineEvent `json:"events"`
}

// TimelineEvent is one entry recorded against a BatchRun's dashboard timeline.
type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	WaveNumber int       `json:"wave_number,omitempty"`
	Message   string    `json:"message"`
}

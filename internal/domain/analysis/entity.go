package analysis

import (
	"time"
)

// AnalysisID identifier type
type AnalysisID string

// Status enum for an analysis record
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NonCompliance is a single issue flagged by the provider
type NonCompliance struct {
	Issue          string `json:"issue"`
	Severity       string `json:"severity"`
	Requirement    string `json:"requirement,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// Verdict value object: the structured outcome of a provider call
type Verdict struct {
	Compliant bool   `json:"compliant"`
	Summary   string `json:"summary"`
}

// Aggregate Root: Analysis
//
// Entity is a weak reference by value: the related record may belong to any
// supported kind and there is no foreign key behind it. RequestData is the
// payload sent to the provider, kept verbatim for audit; ResponseData is the
// raw provider output. Both response fields and the verdict are written once,
// together with the completed transition.
type Analysis struct {
	ID             AnalysisID      `json:"id"`
	Entity         EntityRef       `json:"entity"`
	AnalysisDate   time.Time       `json:"analysis_date"`
	RequestData    string          `json:"request_data,omitempty"`
	ResponseData   string          `json:"response_data,omitempty"`
	Result         *Verdict        `json:"result,omitempty"`
	NonCompliances []NonCompliance `json:"non_compliances,omitempty"`
	Status         Status          `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	AttemptCount   int             `json:"attempt_count"`
}

// Document is the payload handed to the provider: an object key plus the
// URL the provider fetches it from.
type Document struct {
	Key         string `json:"key,omitempty"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Mode of a submission
type Mode string

const (
	// ModeFireAndForget returns immediately; callers poll for the outcome.
	ModeFireAndForget Mode = "fire_and_forget"
	// ModeWait blocks the caller until the worker resolves the result.
	ModeWait Mode = "wait"
)

package analysiserrors

import "time"

// AnalysisError represents a persisted failure entry for an analysis
type AnalysisError struct {
	ID          int64     `json:"id"`
	AnalysisID  string    `json:"analysis_id"`
	Phase       string    `json:"phase,omitempty"` // provider | persist
	Attempt     int       `json:"attempt"`
	Message     string    `json:"message"`
	DetailsJSON string    `json:"details_json,omitempty"` // raw JSON string
	CreatedAt   time.Time `json:"created_at"`
}

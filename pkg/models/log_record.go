package models

import "time"

// LogRecord is the immutable record of one evaluated request. Cache hits do
// not produce new records; one record corresponds to one actual evaluation.
type LogRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Fingerprint is the request source's fingerprint key (see Fingerprint.Key).
	Fingerprint string `json:"fingerprint"`

	// Method and Path describe the gated HTTP request when the evaluation
	// came from a request-gating integration. Direct API evaluations leave
	// them empty.
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`

	Analysis RiskAnalysis `json:"analysis"`
}

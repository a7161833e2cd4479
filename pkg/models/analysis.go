package models

import "time"

// RiskLevel is the coarse classification derived from the final risk score.
type RiskLevel string

const (
	LevelLow    RiskLevel = "LOW"
	LevelMedium RiskLevel = "MEDIUM"
	LevelHigh   RiskLevel = "HIGH"
)

// LevelForScore maps a clamped risk score to its level.
// Scores below 40 are LOW, 40-69 MEDIUM, 70 and above HIGH.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 70:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

// BlockReason is the machine-readable code explaining a block decision.
type BlockReason string

const (
	ReasonTorExit       BlockReason = "TOR_EXIT_NODE"
	ReasonVPNProxy      BlockReason = "VPN_PROXY_DETECTED"
	ReasonBadReputation BlockReason = "BAD_IP_REPUTATION"
	ReasonHighRisk      BlockReason = "HIGH_RISK_SCORE"
	ReasonAnalysisError BlockReason = "ANALYSIS_ERROR"
)

// SignalResult is the outcome of one collector for one request.
//
// Performed distinguishes a collector that ran from one that was skipped
// (missing credentials, timeout, transport failure). A skipped collector
// contributes zero points and never blocks on its own.
type SignalResult struct {
	// Check is the collector's name ("geoip", "tor", "vpn", "userAgent",
	// "reputation").
	Check string `json:"check"`

	// Performed reports whether the collector actually ran to completion.
	Performed bool `json:"performed"`

	// Score is the points this collector added to the total.
	Score int `json:"score"`

	// Flagged marks a positive detection, independent of the score. A Tor
	// match with VPN/Tor blocking disabled is flagged but scores zero.
	Flagged bool `json:"flagged"`

	// Details carries collector-specific annotations (country, ASN,
	// matched bot signature, abuse confidence, ...).
	Details map[string]any `json:"details,omitempty"`
}

// RiskAnalysis is the complete result of evaluating one request source.
//
// It aggregates every collector's signal into a single clamped score, a
// level, and a block decision with an explainable reason code. Enforcement
// belongs to the caller; the engine only produces the verdict.
type RiskAnalysis struct {
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent,omitempty"`

	// RiskScore is the clamped sum of all signal scores, always in [0, 100].
	RiskScore int `json:"riskScore"`

	// RiskLevel classifies RiskScore: LOW below 40, MEDIUM 40-69, HIGH from 70.
	RiskLevel RiskLevel `json:"riskLevel"`

	// Blocked is true when RiskScore reached the active threshold
	// (40 in strict mode, 70 otherwise).
	Blocked bool `json:"isBlocked"`

	// Reason is set only on blocked analyses, highest-priority signal first:
	// TOR_EXIT_NODE, then VPN_PROXY_DETECTED, then BAD_IP_REPUTATION, then
	// HIGH_RISK_SCORE. ANALYSIS_ERROR marks a failed pipeline (fail closed).
	Reason BlockReason `json:"reason,omitempty"`

	// Country is the ISO country code resolved by the geo signal, when any.
	Country string `json:"country,omitempty"`

	// Signals itemizes every collector's contribution for auditability.
	Signals []SignalResult `json:"signals"`

	AnalyzedAt time.Time `json:"analyzedAt"`
}

// Signal returns the named signal result, or nil when the collector did not
// run for this analysis.
func (a *RiskAnalysis) Signal(check string) *SignalResult {
	for i := range a.Signals {
		if a.Signals[i].Check == check {
			return &a.Signals[i]
		}
	}
	return nil
}

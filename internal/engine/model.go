package engine

import (
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Verdict is the final outcome for a processed alert.
type Verdict string

const (
	// VerdictKeep surfaces the alert to operators.
	VerdictKeep Verdict = "keep"

	// VerdictSuppress treats the alert as noise.
	VerdictSuppress Verdict = "suppress"
)

// Reason identifies which rule produced the verdict.
type Reason string

const (
	// ReasonCriticalForced means critical severity forced a keep.
	ReasonCriticalForced Reason = "critical_forced"

	// ReasonDuplicateSuppressed means a prior alert matched within the window.
	ReasonDuplicateSuppressed Reason = "duplicate_suppressed"

	// ReasonRuleForced means a deployment-specific rule decided.
	ReasonRuleForced Reason = "rule_forced"

	// ReasonMlSuppressed means the scorer cleared the suppression gate.
	ReasonMlSuppressed Reason = "ml_suppressed"

	// ReasonKeptLowConfidence covers "score says keep" and "no score":
	// absence of a confident suppression signal defaults to visibility.
	ReasonKeptLowConfidence Reason = "kept_low_confidence"
)

// Text returns a human-readable form of the reason suitable for display.
func (r Reason) Text() string {
	switch r {
	case ReasonCriticalForced:
		return "critical severity always forwards"
	case ReasonDuplicateSuppressed:
		return "duplicate of a recent alert"
	case ReasonRuleForced:
		return "business rule override"
	case ReasonMlSuppressed:
		return "suppression model confident this is noise"
	case ReasonKeptLowConfidence:
		return "no confident suppression signal"
	default:
		return string(r)
	}
}

// SuppressionScore is the likelihood triple produced by an external scorer.
type SuppressionScore struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// DuplicateResult is the outcome of a duplicate-window check.
type DuplicateResult struct {
	IsDuplicate bool      `json:"is_duplicate"`
	MatchedAt   time.Time `json:"matched_at,omitempty"`
}

// Decision is the verdict for one processed alert, with full reasoning.
type Decision struct {
	ID        string            `json:"id"`
	AlertID   string            `json:"alert_id"`
	Verdict   Verdict           `json:"verdict"`
	Reason    Reason            `json:"reason"`
	Detail    string            `json:"detail"`
	Score     *SuppressionScore `json:"score,omitempty"`
	DecidedAt time.Time         `json:"decided_at"`
}

// AuditEntry pairs an alert snapshot with the decision made about it.
// Entries are append-only and keyed by a monotonically increasing sequence
// number assigned by the audit log on append.
type AuditEntry struct {
	Seq       uint64      `json:"seq"`
	Alert     alert.Alert `json:"alert"`
	Decision  Decision    `json:"decision"`
	CreatedAt time.Time   `json:"created_at"`
}

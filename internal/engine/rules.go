package engine

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/quell/internal/alert"
)

// Rule is a deployment-specific deterministic override evaluated after the
// critical and duplicate rules but before probabilistic scoring. The first
// matching rule decides with reason RuleForced. Rule errors are absorbed
// (the rule is skipped), never fatal to the decision.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, al *alert.Alert) (verdict Verdict, detail string, matched bool, err error)
}

// evaluate applies the core ordered rules; first match wins. Extra rules
// and scorer invocation are sequenced by the Engine around this.
//
// Order: critical keep, duplicate suppress, confident score suppress,
// default keep. The critical rule is first so "never hide critical alerts"
// is a structural precondition rather than a probabilistic outcome.
func evaluate(al *alert.Alert, dup DuplicateResult, score *SuppressionScore, cfg Config) (Verdict, Reason, string) {
	if al.Severity == alert.SeverityCritical {
		return VerdictKeep, ReasonCriticalForced, "critical alerts are always forwarded"
	}

	if dup.IsDuplicate {
		detail := fmt.Sprintf("duplicate within %s window", cfg.DuplicateWindow)
		if !dup.MatchedAt.IsZero() {
			detail = fmt.Sprintf("duplicate of alert seen at %s within %s window",
				dup.MatchedAt.UTC().Format("2006-01-02T15:04:05Z07:00"), cfg.DuplicateWindow)
		}
		return VerdictSuppress, ReasonDuplicateSuppressed, detail
	}

	if score != nil && score.Probability >= cfg.SuppressionThreshold && score.Confidence >= cfg.MinScoreConfidence {
		return VerdictSuppress, ReasonMlSuppressed,
			fmt.Sprintf("model suppress probability=%.2f confidence=%.2f", score.Probability, score.Confidence)
	}

	return VerdictKeep, ReasonKeptLowConfidence, "no confident suppression signal, forwarding"
}

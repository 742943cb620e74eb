package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

// FlappingRule suppresses alerts that oscillate: when the same host/title
// has fired at least Threshold times inside the trailing Window, further
// occurrences are noise. It occupies the extra rule slot between the
// duplicate rule and probabilistic scoring; the critical rule still
// preempts it.
type FlappingRule struct {
	History   HistorySource
	Window    time.Duration
	Threshold int
}

// NewFlappingRule creates the rule with the given history source. Zero
// window/threshold fall back to the defaults the original policy used
// (30 minutes, 3 occurrences).
func NewFlappingRule(history HistorySource, window time.Duration, threshold int) *FlappingRule {
	if window <= 0 {
		window = 30 * time.Minute
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &FlappingRule{History: history, Window: window, Threshold: threshold}
}

func (r *FlappingRule) Name() string { return "flapping" }

// Evaluate counts prior occurrences of the same host/title inside the
// window. History errors propagate so the engine skips the rule.
func (r *FlappingRule) Evaluate(ctx context.Context, al *alert.Alert) (Verdict, string, bool, error) {
	if r.History == nil {
		return "", "", false, nil
	}

	history, err := r.History.FetchHistory(ctx, al, 0)
	if err != nil {
		return "", "", false, fmt.Errorf("flapping history: %w", err)
	}

	cutoff := al.Timestamp.Add(-r.Window)
	count := 0
	for i := range history {
		h := &history[i]
		if !strings.EqualFold(h.Host, al.Host) || !strings.EqualFold(h.Title, al.Title) {
			continue
		}
		if h.Timestamp.Before(cutoff) || h.Timestamp.After(al.Timestamp) {
			continue
		}
		count++
	}

	if count >= r.Threshold {
		detail := fmt.Sprintf("flapping: %d occurrences within %s", count, r.Window)
		return VerdictSuppress, detail, true, nil
	}
	return "", "", false, nil
}

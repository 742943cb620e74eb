package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/quell/internal/alert"
)

func flapHistory(n int, spacing time.Duration) []alert.Alert {
	out := make([]alert.Alert, 0, n)
	for i := range n {
		out = append(out, alert.Alert{
			ID:        "h",
			Host:      "web-01",
			Title:     "High latency",
			Severity:  alert.SeverityWarning,
			Timestamp: t0.Add(-time.Duration(i+1) * spacing),
		})
	}
	return out
}

func TestFlappingRule_Suppresses(t *testing.T) {
	t.Parallel()

	rule := NewFlappingRule(&mockHistory{alerts: flapHistory(3, 5*time.Minute)}, 30*time.Minute, 3)

	verdict, detail, matched, err := rule.Evaluate(context.Background(), warningAlert())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !matched {
		t.Fatal("expected rule to match with 3 occurrences in window")
	}
	if verdict != VerdictSuppress {
		t.Errorf("verdict = %q, want %q", verdict, VerdictSuppress)
	}
	if detail == "" {
		t.Error("expected non-empty detail")
	}
}

func TestFlappingRule_BelowThreshold(t *testing.T) {
	t.Parallel()

	rule := NewFlappingRule(&mockHistory{alerts: flapHistory(2, 5*time.Minute)}, 30*time.Minute, 3)

	_, _, matched, err := rule.Evaluate(context.Background(), warningAlert())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if matched {
		t.Error("rule matched with only 2 occurrences, want no match")
	}
}

func TestFlappingRule_IgnoresOutsideWindow(t *testing.T) {
	t.Parallel()

	// Three occurrences, but spaced an hour apart: only the first is inside
	// the 30m window.
	rule := NewFlappingRule(&mockHistory{alerts: flapHistory(3, time.Hour)}, 30*time.Minute, 2)

	_, _, matched, err := rule.Evaluate(context.Background(), warningAlert())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if matched {
		t.Error("rule matched on stale occurrences, want no match")
	}
}

func TestFlappingRule_IgnoresOtherHosts(t *testing.T) {
	t.Parallel()

	history := flapHistory(3, 5*time.Minute)
	for i := range history {
		history[i].Host = "db-99"
	}
	rule := NewFlappingRule(&mockHistory{alerts: history}, 30*time.Minute, 3)

	_, _, matched, err := rule.Evaluate(context.Background(), warningAlert())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if matched {
		t.Error("rule matched other-host history")
	}
}

func TestFlappingRule_HistoryErrorPropagates(t *testing.T) {
	t.Parallel()

	rule := NewFlappingRule(&mockHistory{err: errors.New("store down")}, 30*time.Minute, 3)

	_, _, _, err := rule.Evaluate(context.Background(), warningAlert())
	if err == nil {
		t.Error("Evaluate = nil error, want history error propagated")
	}
}

func TestNewFlappingRule_Defaults(t *testing.T) {
	t.Parallel()

	rule := NewFlappingRule(nil, 0, 0)
	if rule.Window != 30*time.Minute {
		t.Errorf("Window = %v, want 30m", rule.Window)
	}
	if rule.Threshold != 3 {
		t.Errorf("Threshold = %d, want 3", rule.Threshold)
	}

	// Nil history: rule never matches, never errors.
	_, _, matched, err := rule.Evaluate(context.Background(), warningAlert())
	if err != nil || matched {
		t.Errorf("Evaluate with nil history = (matched=%v, err=%v), want no match, nil", matched, err)
	}
}

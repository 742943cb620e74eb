package engine

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the engine's decision thresholds. It is injected at
// construction so multiple engines with different settings can coexist;
// nothing here is read from ambient process state.
type Config struct {
	// SuppressionThreshold is the minimum predicted probability required to
	// suppress a non-duplicate, non-critical alert.
	SuppressionThreshold float64

	// MinScoreConfidence is the reliability floor a score's confidence must
	// meet before the probability is trusted.
	MinScoreConfidence float64

	// DuplicateWindow is the trailing interval in which repeated alerts on
	// the same (host, title, severity) are treated as noise.
	DuplicateWindow time.Duration

	// CriticalAlwaysForward must remain true; false contradicts the
	// non-negotiable invariant and is rejected by Validate.
	CriticalAlwaysForward bool

	// ScoreTimeout bounds the external scorer call. On timeout the engine
	// proceeds as if scoring were unavailable.
	ScoreTimeout time.Duration

	// HistoryLimit caps the related-alert history passed to the scorer.
	HistoryLimit int
}

// DefaultConfig returns the engine defaults: 0.8 suppression threshold,
// 5 minute duplicate window.
func DefaultConfig() Config {
	return Config{
		SuppressionThreshold:  0.8,
		MinScoreConfidence:    0.5,
		DuplicateWindow:       5 * time.Minute,
		CriticalAlwaysForward: true,
		ScoreTimeout:          10 * time.Second,
		HistoryLimit:          20,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	var errs []error

	if c.SuppressionThreshold < 0 || c.SuppressionThreshold > 1 {
		errs = append(errs, fmt.Errorf("suppression_threshold %v out of range [0,1]", c.SuppressionThreshold))
	}
	if c.MinScoreConfidence < 0 || c.MinScoreConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_score_confidence %v out of range [0,1]", c.MinScoreConfidence))
	}
	if c.DuplicateWindow <= 0 {
		errs = append(errs, fmt.Errorf("duplicate_window %v must be positive", c.DuplicateWindow))
	}
	if !c.CriticalAlwaysForward {
		errs = append(errs, errors.New("critical_always_forward=false is invalid: critical alerts are never suppressed"))
	}
	if c.ScoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("score_timeout %v must be positive", c.ScoreTimeout))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("history_limit %d must be >= 0", c.HistoryLimit))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/linnemanlabs/quell/internal/engine"
)

// Config adds decision-engine configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds           int
	ShutdownBudgetSeconds  int
	APIPort                int
	SuppressionThreshold   float64
	MinScoreConfidence     float64
	DuplicateWindowMinutes int
	CriticalAlwaysForward  bool
	ScoreTimeoutSeconds    int
	HistoryLimit           int
	FlappingWindowMinutes  int
	FlappingThreshold      int
	ClaudeAPIKey           string
	ClaudeModel            string
	PredictorEndpoint      string
	DatabaseURL            string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.Float64Var(&c.SuppressionThreshold, "suppression-threshold", 0.8, "minimum score probability to suppress an alert (0..1)")
	fs.Float64Var(&c.MinScoreConfidence, "min-score-confidence", 0.5, "minimum score confidence before the probability is trusted (0..1)")
	fs.IntVar(&c.DuplicateWindowMinutes, "duplicate-window-minutes", 5, "trailing window in which repeated alerts are duplicates (>=1)")
	fs.BoolVar(&c.CriticalAlwaysForward, "critical-always-forward", true, "always keep critical alerts (must stay true)")
	fs.IntVar(&c.ScoreTimeoutSeconds, "score-timeout-seconds", 10, "timeout for the external scorer call (>=1)")
	fs.IntVar(&c.HistoryLimit, "history-limit", 20, "max related alerts passed to the scorer (>=0)")
	fs.IntVar(&c.FlappingWindowMinutes, "flapping-window-minutes", 30, "window for the flapping rule (>=1)")
	fs.IntVar(&c.FlappingThreshold, "flapping-threshold", 3, "same-alert count in the flapping window that suppresses (>=2)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude-based suppression scoring (empty = disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for scoring")
	fs.StringVar(&c.PredictorEndpoint, "predictor-endpoint", "", "HTTP endpoint of a deployed suppression model (empty = disabled)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory audit log)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.SuppressionThreshold < 0 || c.SuppressionThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid SUPPRESSION_THRESHOLD %v (must be 0..1)", c.SuppressionThreshold))
	}
	if c.MinScoreConfidence < 0 || c.MinScoreConfidence > 1 {
		errs = append(errs, fmt.Errorf("invalid MIN_SCORE_CONFIDENCE %v (must be 0..1)", c.MinScoreConfidence))
	}
	if c.DuplicateWindowMinutes < 1 {
		errs = append(errs, fmt.Errorf("invalid DUPLICATE_WINDOW_MINUTES %d (must be >= 1)", c.DuplicateWindowMinutes))
	}

	// Critical alerts always reach operators; there is no supported way to
	// turn this off.
	if !c.CriticalAlwaysForward {
		errs = append(errs, errors.New("CRITICAL_ALWAYS_FORWARD must be true"))
	}

	if c.ScoreTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("invalid SCORE_TIMEOUT_SECONDS %d (must be >= 1)", c.ScoreTimeoutSeconds))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid HISTORY_LIMIT %d (must be >= 0)", c.HistoryLimit))
	}
	if c.FlappingWindowMinutes < 1 {
		errs = append(errs, fmt.Errorf("invalid FLAPPING_WINDOW_MINUTES %d (must be >= 1)", c.FlappingWindowMinutes))
	}
	if c.FlappingThreshold < 2 {
		errs = append(errs, fmt.Errorf("invalid FLAPPING_THRESHOLD %d (must be >= 2)", c.FlappingThreshold))
	}

	// At most one scorer backend.
	if c.ClaudeAPIKey != "" && c.PredictorEndpoint != "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY and PREDICTOR_ENDPOINT are mutually exclusive"))
	}
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ToEngineConfig maps the process configuration onto engine thresholds.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		SuppressionThreshold:  c.SuppressionThreshold,
		MinScoreConfidence:    c.MinScoreConfidence,
		DuplicateWindow:       time.Duration(c.DuplicateWindowMinutes) * time.Minute,
		CriticalAlwaysForward: c.CriticalAlwaysForward,
		ScoreTimeout:          time.Duration(c.ScoreTimeoutSeconds) * time.Second,
		HistoryLimit:          c.HistoryLimit,
	}
}
